package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"
)

const (
	// DefaultGraphQLURL is the public GitHub GraphQL endpoint
	DefaultGraphQLURL = "https://api.github.com/graphql"

	workflowsPath  = ".github/workflows"
	commitsPerPage = 100
)

// SourceConfig configures a GitHubSource
type SourceConfig struct {
	Token      string
	GraphQLURL string
	RESTURL    string
	Timeout    time.Duration
}

// GitHubSource implements Source against the GitHub GraphQL and REST APIs
type GitHubSource struct {
	client     *github.Client
	httpClient *http.Client
	graphqlURL string
}

var _ Source = (*GitHubSource)(nil)

// NewGitHubSource creates a new GitHub data source
func NewGitHubSource(cfg SourceConfig) (*GitHubSource, error) {
	httpClient := &http.Client{}
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: cfg.Token},
		)
		httpClient = oauth2.NewClient(context.Background(), ts)
	}
	if cfg.Timeout > 0 {
		httpClient.Timeout = cfg.Timeout
	}

	client := github.NewClient(httpClient)
	if cfg.RESTURL != "" {
		base := cfg.RESTURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid REST URL %q: %w", cfg.RESTURL, err)
		}
		client.BaseURL = u
	}

	graphqlURL := cfg.GraphQLURL
	if graphqlURL == "" {
		graphqlURL = DefaultGraphQLURL
	}

	return &GitHubSource{
		client:     client,
		httpClient: httpClient,
		graphqlURL: graphqlURL,
	}, nil
}

// CommitMessages lists commit messages through the REST commits endpoint.
// The cursor is the page number to read.
func (s *GitHubSource) CommitMessages(ctx context.Context, q CommitQuery) (*CommitPage, *Response, error) {
	owner, name, err := splitRepo(q.Repo)
	if err != nil {
		return nil, nil, err
	}

	page := 1
	if q.Cursor != "" {
		page, err = strconv.Atoi(q.Cursor)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid commit cursor %q: %w", q.Cursor, err)
		}
	}

	opts := &github.CommitsListOptions{
		Since:       q.Since,
		Until:       q.Until,
		ListOptions: github.ListOptions{PerPage: commitsPerPage, Page: page},
	}

	commits, ghResp, err := s.client.Repositories.ListCommits(ctx, owner, name, opts)
	resp := responseFrom(ghResp, err)
	if err != nil {
		// Skip if repository is empty or has no commits
		if resp.StatusCode == http.StatusConflict {
			resp.StatusCode = http.StatusOK
			return &CommitPage{}, resp, nil
		}
		return nil, resp, fmt.Errorf("failed to list commits for %s: %w", q.Repo, err)
	}

	out := &CommitPage{Messages: make([]string, 0, len(commits))}
	for _, commit := range commits {
		if commit.Commit != nil {
			out.Messages = append(out.Messages, commit.Commit.GetMessage())
		}
	}
	if ghResp.NextPage != 0 {
		out.PageInfo = PageInfo{HasNextPage: true, EndCursor: strconv.Itoa(ghResp.NextPage)}
	}

	return out, resp, nil
}

// WorkflowFiles lists the files in the repository's workflow directory
func (s *GitHubSource) WorkflowFiles(ctx context.Context, repo string) ([]string, *Response, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, nil, err
	}

	_, entries, ghResp, err := s.client.Repositories.GetContents(ctx, owner, name, workflowsPath, nil)
	resp := responseFrom(ghResp, err)
	if err != nil {
		// No workflow directory
		if resp.StatusCode == http.StatusNotFound {
			resp.StatusCode = http.StatusOK
			return []string{}, resp, nil
		}
		return nil, resp, fmt.Errorf("failed to list workflows for %s: %w", repo, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		files = append(files, entry.GetName())
	}
	return files, resp, nil
}

// Quota is the current API quota of the token
type Quota struct {
	Core    Rate `json:"core"`
	GraphQL Rate `json:"graphql"`
	Search  Rate `json:"search"`
}

// Rate is the quota of one API resource
type Rate struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
}

// RateLimits fetches the token's quota for every API resource
func (s *GitHubSource) RateLimits(ctx context.Context) (*Quota, error) {
	req, err := s.client.NewRequest(http.MethodGet, "rate_limit", nil)
	if err != nil {
		return nil, err
	}

	var body struct {
		Resources *github.RateLimits `json:"resources"`
	}
	if _, err := s.client.Do(ctx, req, &body); err != nil {
		return nil, fmt.Errorf("failed to get rate limits: %w", err)
	}

	quota := &Quota{}
	if body.Resources != nil {
		quota.Core = rateFrom(body.Resources.Core)
		quota.GraphQL = rateFrom(body.Resources.GraphQL)
		quota.Search = rateFrom(body.Resources.Search)
	}
	return quota, nil
}

func rateFrom(r *github.Rate) Rate {
	if r == nil {
		return Rate{}
	}
	return Rate{Limit: r.Limit, Remaining: r.Remaining, Reset: r.Reset.Time}
}

// responseFrom converts a go-github response and error into a Response
func responseFrom(ghResp *github.Response, err error) *Response {
	resp := &Response{}
	if ghResp != nil && ghResp.Response != nil {
		resp.StatusCode = ghResp.StatusCode
		resp.Remaining = ghResp.Rate.Remaining
		resp.Reset = ghResp.Rate.Reset.Time
	}

	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	switch {
	case errors.As(err, &rateErr):
		resp.RateLimited = true
		if resp.StatusCode == 0 && rateErr.Response != nil {
			resp.StatusCode = rateErr.Response.StatusCode
		}
	case errors.As(err, &abuseErr):
		resp.RateLimited = true
		if resp.StatusCode == 0 && abuseErr.Response != nil {
			resp.StatusCode = abuseErr.Response.StatusCode
		}
	}
	return resp
}

func splitRepo(repo string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("invalid repository name %q, expected owner/name", repo)
	}
	return owner, name, nil
}

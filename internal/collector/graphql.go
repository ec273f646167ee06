package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kurihiro0119/github-practice-stats/internal/domain"
)

const searchRepositoriesQuery = `query($q: String!, $first: Int!, $after: String) {
	search(query: $q, type: REPOSITORY, first: $first, after: $after) {
		repositoryCount
		pageInfo {
			hasNextPage
			endCursor
		}
		nodes {
			... on Repository {
				nameWithOwner
				languages(first: 10, orderBy: {field: SIZE, direction: DESC}) {
					edges {
						size
						node {
							name
						}
					}
				}
				repositoryTopics(first: 20) {
					nodes {
						topic {
							name
						}
					}
				}
				defaultBranchRef {
					target {
						... on Commit {
							committedDate
							history {
								totalCount
							}
						}
					}
				}
			}
		}
	}
}`

// rateLimitedErrorType is the GraphQL error type GitHub returns on quota exhaustion
const rateLimitedErrorType = "RATE_LIMITED"

// graphqlRequest is the JSON body sent to the GitHub GraphQL API
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

type searchData struct {
	Search struct {
		RepositoryCount int `json:"repositoryCount"`
		PageInfo        struct {
			HasNextPage bool   `json:"hasNextPage"`
			EndCursor   string `json:"endCursor"`
		} `json:"pageInfo"`
		Nodes []struct {
			NameWithOwner string `json:"nameWithOwner"`
			Languages     struct {
				Edges []struct {
					Size int64 `json:"size"`
					Node struct {
						Name string `json:"name"`
					} `json:"node"`
				} `json:"edges"`
			} `json:"languages"`
			RepositoryTopics struct {
				Nodes []struct {
					Topic struct {
						Name string `json:"name"`
					} `json:"topic"`
				} `json:"nodes"`
			} `json:"repositoryTopics"`
			DefaultBranchRef *struct {
				Target struct {
					CommittedDate time.Time `json:"committedDate"`
					History       struct {
						TotalCount int `json:"totalCount"`
					} `json:"history"`
				} `json:"target"`
			} `json:"defaultBranchRef"`
		} `json:"nodes"`
	} `json:"search"`
}

// SearchString builds the repository search expression for a query
func SearchString(q SearchQuery) string {
	return fmt.Sprintf(
		"pushed:%s created:<%s is:public fork:false mirror:false archived:false size:>30000 stars:>1 sort:committedDate-asc",
		domain.FormatDay(q.Day), domain.FormatDay(q.CreatedBefore))
}

// SearchRepositories runs the day-scoped repository search
func (s *GitHubSource) SearchRepositories(ctx context.Context, q SearchQuery) (*SearchPage, *Response, error) {
	vars := map[string]any{
		"q":     SearchString(q),
		"first": q.PageSize,
		"after": nil,
	}
	if q.Cursor != "" {
		vars["after"] = q.Cursor
	}

	var data searchData
	resp, err := s.graphql(ctx, searchRepositoriesQuery, vars, &data)
	if err != nil {
		return nil, resp, err
	}

	page := &SearchPage{
		RepositoryCount: data.Search.RepositoryCount,
		Repositories:    make([]RepositorySummary, 0, len(data.Search.Nodes)),
		PageInfo: PageInfo{
			HasNextPage: data.Search.PageInfo.HasNextPage,
			EndCursor:   data.Search.PageInfo.EndCursor,
		},
	}
	for _, node := range data.Search.Nodes {
		if node.NameWithOwner == "" {
			continue
		}
		summary := RepositorySummary{NameWithOwner: node.NameWithOwner}
		for _, edge := range node.Languages.Edges {
			summary.Languages = append(summary.Languages, Language{Name: edge.Node.Name, Size: edge.Size})
		}
		for _, topic := range node.RepositoryTopics.Nodes {
			summary.Topics = append(summary.Topics, topic.Topic.Name)
		}
		if node.DefaultBranchRef != nil {
			summary.LastCommittedAt = node.DefaultBranchRef.Target.CommittedDate
			summary.TotalCommits = node.DefaultBranchRef.Target.History.TotalCount
		}
		page.Repositories = append(page.Repositories, summary)
	}

	return page, resp, nil
}

// graphql posts a query and decodes its data into out
func (s *GitHubSource) graphql(ctx context.Context, query string, vars map[string]any, out any) (*Response, error) {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: vars})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.graphqlURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create graphql request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graphql request failed: %w", err)
	}
	defer httpResp.Body.Close()

	resp := &Response{StatusCode: httpResp.StatusCode}
	readRateHeaders(httpResp.Header, resp)

	if httpResp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		if (httpResp.StatusCode == http.StatusForbidden || httpResp.StatusCode == http.StatusTooManyRequests) &&
			httpResp.Header.Get("X-RateLimit-Remaining") == "0" {
			resp.RateLimited = true
		}
		return resp, fmt.Errorf("graphql status %d: %s", httpResp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var gqlResp graphqlResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&gqlResp); err != nil {
		return resp, fmt.Errorf("failed to decode graphql response: %w", err)
	}

	for _, e := range gqlResp.Errors {
		if e.Type == rateLimitedErrorType {
			resp.RateLimited = true
			return resp, fmt.Errorf("graphql rate limited: %s", e.Message)
		}
	}
	if len(gqlResp.Data) == 0 || string(gqlResp.Data) == "null" {
		if len(gqlResp.Errors) > 0 {
			return resp, fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
		}
		return resp, fmt.Errorf("graphql response has no data")
	}

	if err := json.Unmarshal(gqlResp.Data, out); err != nil {
		return resp, fmt.Errorf("failed to decode graphql data: %w", err)
	}
	return resp, nil
}

func readRateHeaders(h http.Header, resp *Response) {
	if v := h.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			resp.Remaining = n
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			resp.Reset = time.Unix(n, 0)
		}
	}
}

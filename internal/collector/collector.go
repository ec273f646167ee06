package collector

import (
	"context"
	"net/http"
	"time"
)

// Source is the repository data source. Each method issues one request and
// reports how the remote side answered, so callers can tell quota exhaustion
// apart from other failures.
type Source interface {
	// SearchRepositories returns one page of repositories pushed on the query day
	SearchRepositories(ctx context.Context, q SearchQuery) (*SearchPage, *Response, error)

	// CommitMessages returns one page of commit messages within the query window
	CommitMessages(ctx context.Context, q CommitQuery) (*CommitPage, *Response, error)

	// WorkflowFiles returns the CI workflow file names of a repository
	WorkflowFiles(ctx context.Context, repo string) ([]string, *Response, error)
}

// Response describes how the data source answered a single request
type Response struct {
	StatusCode  int
	RateLimited bool
	Remaining   int
	Reset       time.Time
}

// OK reports whether the request succeeded
func (r *Response) OK() bool {
	return r != nil && r.StatusCode == http.StatusOK
}

// PageInfo is the continuation descriptor of a paginated result
type PageInfo struct {
	HasNextPage bool
	EndCursor   string
}

// SearchQuery selects repositories pushed on Day and created before CreatedBefore
type SearchQuery struct {
	Day           time.Time
	CreatedBefore time.Time
	PageSize      int
	Cursor        string
}

// Language is one entry of a repository's language breakdown
type Language struct {
	Name string
	Size int64
}

// RepositorySummary is a search result
type RepositorySummary struct {
	NameWithOwner   string
	Languages       []Language
	Topics          []string
	LastCommittedAt time.Time
	TotalCommits    int
}

// SearchPage is one page of search results
type SearchPage struct {
	RepositoryCount int
	Repositories    []RepositorySummary
	PageInfo        PageInfo
}

// Info returns the page's continuation descriptor
func (p *SearchPage) Info() PageInfo {
	return p.PageInfo
}

// CommitQuery selects commits of Repo committed between Since and Until
type CommitQuery struct {
	Repo   string
	Since  time.Time
	Until  time.Time
	Cursor string
}

// CommitPage is one page of commit messages
type CommitPage struct {
	Messages []string
	PageInfo PageInfo
}

// Info returns the page's continuation descriptor
func (p *CommitPage) Info() PageInfo {
	return p.PageInfo
}

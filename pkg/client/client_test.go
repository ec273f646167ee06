package client

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-practice-stats/internal/domain"
	apperrors "github.com/kurihiro0119/github-practice-stats/internal/errors"
)

func newServer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if r.URL.RawQuery != "" {
			key += "?" + r.URL.RawQuery
		}
		body, ok := routes[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"repository not found"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Stats(t *testing.T) {
	srv := newServer(t, map[string]string{
		"/health":                             `{"status":"ok"}`,
		"/api/v1/stats":                       `{"data":{"sampleCount":3,"populationCount":500,"tddCount":2}}`,
		"/api/v1/stats/repos/updated?limit=2": `{"data":[{"repo":"alice/app","commitsInRange":30,"totalCommits":300}],"limit":2}`,
		"/api/v1/stats/languages/tdd?limit=5": `{"data":[{"language":"Go","repoCount":2,"totalBytes":900}]}`,
		"/api/v1/stats/languages":             `{"data":[{"language":"Python","repoCount":1,"totalBytes":10}]}`,
		"/api/v1/repos/alice/app":             `{"data":{"repo":"alice/app","commitsInRange":30,"isTDD":true,"languages":{"Go":900}}}`,
	})
	c := NewClient(srv.URL + "/")

	require.NoError(t, c.HealthCheck())

	summary, err := c.GetSummary()
	require.NoError(t, err)
	assert.Equal(t, 3, summary.SampleCount)
	assert.Equal(t, 500, summary.PopulationCount)

	repos, err := c.GetUpdatedRepos(2)
	require.NoError(t, err)
	assert.Equal(t, []domain.RepoStat{{Repo: "alice/app", CommitsInRange: 30, TotalCommits: 300}}, repos)

	langs, err := c.GetLanguages(domain.LanguageFilterTDD, 5)
	require.NoError(t, err)
	assert.Equal(t, []domain.LanguageStat{{Language: "Go", RepoCount: 2, TotalBytes: 900}}, langs)

	langs, err = c.GetLanguages(domain.LanguageFilterAll, 0)
	require.NoError(t, err)
	assert.Len(t, langs, 1)

	rec, err := c.GetRepository("alice", "app")
	require.NoError(t, err)
	assert.True(t, rec.IsTDD)
	assert.Equal(t, map[string]int64{"Go": 900}, rec.Languages)
}

func TestClient_Errors(t *testing.T) {
	c := NewClient(newServer(t, nil).URL)

	_, err := c.GetRepository("nobody", "nothing")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = c.GetLanguages("unknown", 1)
	assert.Error(t, err)
}

package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kurihiro0119/github-practice-stats/internal/domain"
	apperrors "github.com/kurihiro0119/github-practice-stats/internal/errors"
)

// Client is the API client for github-practice-stats
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetSummary retrieves the dataset summary
func (c *Client) GetSummary() (*domain.Summary, error) {
	var response struct {
		Data *domain.Summary `json:"data"`
	}
	if err := c.get("/api/v1/stats", nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetUpdatedRepos retrieves the most updated repositories
func (c *Client) GetUpdatedRepos(limit int) ([]domain.RepoStat, error) {
	var response struct {
		Data []domain.RepoStat `json:"data"`
	}
	if err := c.get("/api/v1/stats/repos/updated", limitParams(limit), &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetLanguages retrieves a language ranking
func (c *Client) GetLanguages(filter domain.LanguageFilter, limit int) ([]domain.LanguageStat, error) {
	path := "/api/v1/stats/languages"
	switch filter {
	case domain.LanguageFilterAll, "":
	case domain.LanguageFilterTDD, domain.LanguageFilterTDDDevOps:
		path += "/" + string(filter)
	default:
		return nil, fmt.Errorf("unknown language filter: %s", filter)
	}

	var response struct {
		Data []domain.LanguageStat `json:"data"`
	}
	if err := c.get(path, limitParams(limit), &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetRepository retrieves the merged record of an owner/name repository
func (c *Client) GetRepository(owner, name string) (*domain.RepositoryRecord, error) {
	path := fmt.Sprintf("/api/v1/repos/%s/%s", url.PathEscape(owner), url.PathEscape(name))

	var response struct {
		Data *domain.RepositoryRecord `json:"data"`
	}
	if err := c.get(path, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck() error {
	var response struct {
		Status string `json:"status"`
	}
	if err := c.get("/health", nil, &response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return fmt.Errorf("unhealthy status: %s", response.Status)
	}
	return nil
}

func limitParams(limit int) url.Values {
	if limit <= 0 {
		return nil
	}
	return url.Values{"limit": {strconv.Itoa(limit)}}
}

func (c *Client) get(path string, params url.Values, result interface{}) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}

	resp, err := c.httpClient.Get(u.String())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return decodeError(resp, body)
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// decodeError turns an API error body into an AppError when it carries a code
func decodeError(resp *http.Response, body []byte) error {
	var payload struct {
		Error struct {
			Code    apperrors.ErrCode `json:"code"`
			Message string            `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Code != "" {
		return &apperrors.AppError{
			Code:    payload.Error.Code,
			Message: payload.Error.Message,
			Err:     fmt.Errorf("API error: %s", resp.Status),
		}
	}
	return fmt.Errorf("API error: %s - %s", resp.Status, string(body))
}

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kurihiro0119/github-practice-stats/internal/aggregator"
	"github.com/kurihiro0119/github-practice-stats/internal/domain"
	apperrors "github.com/kurihiro0119/github-practice-stats/internal/errors"
)

const (
	// DefaultLimit is the ranking size when no limit is requested
	DefaultLimit = 10
	// MaxLimit bounds the ranking size a client may request
	MaxLimit = 100
)

// Handler handles API requests
type Handler struct {
	aggregator   aggregator.Aggregator
	defaultLimit int
}

// NewHandler creates a new API handler. defaultLimit applies to rankings
// requested without a limit.
func NewHandler(agg aggregator.Aggregator, defaultLimit int) *Handler {
	if defaultLimit <= 0 || defaultLimit > MaxLimit {
		defaultLimit = DefaultLimit
	}
	return &Handler{
		aggregator:   agg,
		defaultLimit: defaultLimit,
	}
}

// RepositoryResponse is a merged repository record with its key
type RepositoryResponse struct {
	Repo string `json:"repo"`
	*domain.RepositoryRecord
}

// GetSummary returns the dataset summary
// GET /api/v1/stats
func (h *Handler) GetSummary(c *gin.Context) {
	summary, err := h.aggregator.Summary(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": summary,
	})
}

// GetUpdatedRepos returns the most updated repositories
// GET /api/v1/stats/repos/updated?limit=10
func (h *Handler) GetUpdatedRepos(c *gin.Context) {
	limit, err := h.parseLimit(c)
	if err != nil {
		respondError(c, err)
		return
	}

	stats, err := h.aggregator.TopUpdatedRepos(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  stats,
		"limit": limit,
	})
}

// GetLanguages returns a language ranking for the filter bound to the route
// GET /api/v1/stats/languages
// GET /api/v1/stats/languages/tdd
// GET /api/v1/stats/languages/tdd-devops
func (h *Handler) GetLanguages(filter domain.LanguageFilter) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := h.parseLimit(c)
		if err != nil {
			respondError(c, err)
			return
		}

		stats, err := h.aggregator.TopLanguages(c.Request.Context(), filter, limit)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"data":   stats,
			"filter": filter,
			"limit":  limit,
		})
	}
}

// GetRepository returns the merged record of one repository
// GET /api/v1/repos/:owner/:name
func (h *Handler) GetRepository(c *gin.Context) {
	key := c.Param("owner") + "/" + c.Param("name")

	rec, err := h.aggregator.Repository(c.Request.Context(), key)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": RepositoryResponse{Repo: key, RepositoryRecord: rec},
	})
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// parseLimit reads ?limit=, defaulting to the handler's limit and capping at MaxLimit
func (h *Handler) parseLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return h.defaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, apperrors.NewBadRequestError("limit must be a positive integer")
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return limit, nil
}

// respondError sends an error response
func respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    apperrors.ErrCodeInternal,
				"message": err.Error(),
			},
		})
		return
	}

	status := http.StatusInternalServerError
	switch appErr.Code {
	case apperrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrCodeUnauthorized:
		status = http.StatusUnauthorized
	case apperrors.ErrCodeForbidden:
		status = http.StatusForbidden
	case apperrors.ErrCodeBadRequest, apperrors.ErrCodeInvalidTask:
		status = http.StatusBadRequest
	case apperrors.ErrCodeRateLimited:
		status = http.StatusTooManyRequests
	case apperrors.ErrCodeFetchFailed:
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    appErr.Code,
			"message": appErr.Message,
		},
	})
}

package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/kurihiro0119/github-practice-stats/internal/domain"
)

// SetupRoutes sets up the API routes
func SetupRoutes(handler *Handler, logger logrus.FieldLogger) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(Recovery())
	router.Use(CORS())
	router.Use(Logger(logger))

	// Health check
	router.GET("/health", handler.HealthCheck)

	// API v1
	v1 := router.Group("/api/v1")
	{
		stats := v1.Group("/stats")
		{
			stats.GET("", handler.GetSummary)
			stats.GET("/repos/updated", handler.GetUpdatedRepos)

			languages := stats.Group("/languages")
			{
				languages.GET("", handler.GetLanguages(domain.LanguageFilterAll))
				languages.GET("/tdd", handler.GetLanguages(domain.LanguageFilterTDD))
				languages.GET("/tdd-devops", handler.GetLanguages(domain.LanguageFilterTDDDevOps))
			}
		}

		v1.GET("/repos/:owner/:name", handler.GetRepository)
	}

	return router
}

package api

import (
	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailbot/api/middleware"
	"github.com/customeros/mailbot/api/rest/handlers"
	"github.com/customeros/mailbot/interfaces"
	"github.com/customeros/mailbot/internal/tracing"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(r *gin.Engine, adapter interfaces.MailboxAdapter, apikey string) {
	if adapter == nil {
		panic("Adapter cannot be nil")
	}

	r.Use(gin.Recovery())
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer()))

	r.GET("/health", handlers.HealthCheck)
	r.GET("/status", handlers.Status(adapter))

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  middleware.DefaultAPIKeyHeader,
		ValidAPIKey: apikey,
	})

	replies := r.Group("/replies")
	replies.Use(apiKeyMiddleware)
	replies.Use(middleware.TracingMiddleware())
	{
		replies.POST("", handlers.PostReply(adapter))
	}
}

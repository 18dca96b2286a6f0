package server

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Options configures the HTTP router.
type Options struct {
	// SubmitRatePerHour caps submissions per client IP; 0 disables.
	SubmitRatePerHour int
	Debug             bool
}

// NewRouter builds the gin router with middleware and routes.
func NewRouter(h *Handlers, opts Options, logger *zap.Logger) *gin.Engine {
	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(logger))
	router.Use(corsMiddleware())

	router.GET("/health", h.Health)

	submit := router.Group("/")
	submit.Use(rateLimitMiddleware(opts.SubmitRatePerHour))
	{
		submit.POST("/submit", h.SubmitReimbursement)
		submit.POST("/submit-PA", h.SubmitPurchaseApproval)
	}

	api := router.Group("/api/v1")
	{
		api.GET("/journal", h.JournalRecent)
	}

	return router
}

// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"fiscus/internal/domain/vouchers"
	"fiscus/internal/infrastructure/http/v1/handlers"
	"fiscus/internal/infrastructure/http/v1/middleware"
	"fiscus/internal/infrastructure/storage/postgres"
	"fiscus/pkg/logger"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	// Pool is the database connection pool (for health checks).
	Pool *postgres.Pool

	// Logger for request logging.
	Logger *logger.Logger

	// VoucherService handles voucher business operations.
	VoucherService *vouchers.Service

	// Audit serves recorded voucher change history.
	Audit *postgres.AuditRecorder
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	// Health endpoints
	healthHandler := handlers.NewHealthHandler(cfg.Pool)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	// API v1
	base := handlers.NewBaseHandler()
	voucherHandler := handlers.NewVoucherHandler(base, cfg.VoucherService, cfg.Audit)

	apiV1 := router.Group("/api/v1")
	{
		group := apiV1.Group("/vouchers/:kind")
		{
			group.POST("", voucherHandler.Create)
			group.GET("", voucherHandler.ListYear)
			group.GET("/all", voucherHandler.ListAll)
			group.GET("/summary", voucherHandler.Summary)
			group.GET("/:year/:id", voucherHandler.Get)
			group.GET("/:year/:id/history", voucherHandler.History)
			group.PATCH("/:year/:id", voucherHandler.Update)
			group.DELETE("/:year", voucherHandler.Delete)
		}
	}

	return router
}

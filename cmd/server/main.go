// Package main is the entry point for the Fiscus voucher API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fiscus/internal/domain/vouchers"
	v1 "fiscus/internal/infrastructure/http/v1"
	"fiscus/internal/infrastructure/storage/postgres"
	"fiscus/pkg/logger"
)

func main() {
	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	log.Info("starting fiscus server")

	// --- Database connection ---
	poolCfg := postgres.DefaultPoolConfig(mustEnv("DATABASE_URL"))
	if maxConns := getEnvInt("DB_MAX_CONNS", 0); maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()
	log.Info("database connection established")

	txManager := postgres.NewTxManager(pool)

	// --- Yearly table registry and repository ---
	registry := postgres.NewRegistry(pool, log)
	voucherRepo := postgres.NewVoucherRepo(registry, txManager)

	// --- Audit trail ---
	auditRecorder, err := postgres.NewAuditRecorder(ctx, txManager, log)
	if err != nil {
		log.Fatalw("failed to initialize audit recorder", "error", err)
	}

	// --- Aggregator ---
	aggCfg := vouchers.DefaultAggregatorConfig()
	if timeout := getEnvDuration("AGGREGATOR_YEAR_TIMEOUT", 0); timeout > 0 {
		aggCfg.PerYearTimeout = timeout
	}
	if ttl := getEnvDuration("AGGREGATOR_YEAR_CACHE_TTL", 0); ttl > 0 {
		aggCfg.YearCacheTTL = ttl
	}
	aggregator := vouchers.NewAggregator(voucherRepo, aggCfg, log)

	// --- Voucher service ---
	svcCfg := vouchers.DefaultServiceConfig()
	switch getEnv("UNMATCHED_ROW_POLICY", "ignore") {
	case "append":
		svcCfg.UnmatchedPolicy = vouchers.UnmatchedAppend
	case "reject":
		svcCfg.UnmatchedPolicy = vouchers.UnmatchedReject
	}
	if listCap := getEnvInt("LIST_CAP", 0); listCap > 0 {
		svcCfg.ListCap = listCap
	}
	voucherService := vouchers.NewService(voucherRepo, aggregator, txManager, auditRecorder, svcCfg)

	// --- Router ---
	router := v1.NewRouter(v1.RouterConfig{
		Pool:           pool,
		Logger:         log,
		VoucherService: voucherService,
		Audit:          auditRecorder,
	})

	// --- HTTP Server ---
	port := getEnv("APP_PORT", "8080")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Infow("server starting", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func mustEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		fmt.Printf("required environment variable %s not set\n", key)
		os.Exit(1)
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

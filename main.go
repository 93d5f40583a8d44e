package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/leadflow/internal/config"
	"github.com/Kocoro-lab/leadflow/internal/health"
	"github.com/Kocoro-lab/leadflow/internal/httpapi"
	"github.com/Kocoro-lab/leadflow/internal/middleware"
	"github.com/Kocoro-lab/leadflow/internal/registry"
	"github.com/Kocoro-lab/leadflow/internal/server"
	"github.com/Kocoro-lab/leadflow/internal/tracing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.SideAgent)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := server.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	shutdownTracing, err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
	}

	agent, err := registry.NewAgent(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to assemble agent", zap.Error(err))
	}

	hm := health.NewManager(logger)
	if err := agent.RegisterHealthChecks(hm); err != nil {
		logger.Warn("Failed to register health checks", zap.Error(err))
	}

	handler := newRouter(agent.Engine, hm, cfg.HTTP.MaxBodyBytes, logger)

	metricsSrv := server.StartMetrics(cfg.Metrics, logger)
	defer server.Stop(metricsSrv, logger)

	if err := server.Run(ctx, server.NewHTTPServer(cfg.HTTP, handler), nil, logger); err != nil {
		logger.Error("Agent service stopped with error", zap.Error(err))
	}

	if shutdownTracing != nil {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(tctx)
	}
	logger.Info("Agent service stopped")
}

// newRouter serves the workflow entry point and health routes.
func newRouter(runner httpapi.Runner, hm *health.Manager, maxBody int64, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	health.NewHTTPHandler(hm, logger).RegisterRoutes(mux)

	api := http.NewServeMux()
	httpapi.NewExecuteHandler(runner, maxBody, logger.Named("execute")).RegisterRoutes(api)
	mux.Handle("/execute", middleware.NewTracingMiddleware("agent", logger).Middleware(api))

	return middleware.Recovery(logger)(middleware.SecurityHeaders(mux))
}

package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/leadflow/cmd/toolserver/internal/handlers"
	"github.com/Kocoro-lab/leadflow/internal/auth"
	"github.com/Kocoro-lab/leadflow/internal/circuitbreaker"
	"github.com/Kocoro-lab/leadflow/internal/config"
	"github.com/Kocoro-lab/leadflow/internal/health"
	"github.com/Kocoro-lab/leadflow/internal/ledger"
	"github.com/Kocoro-lab/leadflow/internal/middleware"
	"github.com/Kocoro-lab/leadflow/internal/relay"
	"github.com/Kocoro-lab/leadflow/internal/server"
	"github.com/Kocoro-lab/leadflow/internal/tools"
	"github.com/Kocoro-lab/leadflow/internal/tracing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.SideTool)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := server.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Secrets.HMACSecret == "" {
		logger.Warn("HMAC secret not configured; tool requests will fail until it is set")
	}
	if !cfg.Secrets.HasWebhook() {
		logger.Warn("Webhook configuration missing; lead creation will fail until it is set")
	}

	shutdownTracing, err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
	}

	// Redis backs the replay cache and the ledger when configured.
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Fatal("Failed to parse Redis URL", zap.Error(err))
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
	}

	store, err := ledger.Open(ctx, ledger.Options{
		Driver:     cfg.Ledger.Driver,
		DSN:        cfg.Ledger.DSN,
		TTL:        cfg.Ledger.TTL,
		PendingTTL: cfg.Ledger.PendingTTL,
		Redis:      redisClient,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to open idempotency ledger", zap.Error(err))
	}
	defer store.Close()

	hm := health.NewManager(logger)
	registerHealthChecks(hm, store, redisClient, cfg.Secrets, logger)

	var replay auth.ReplayCache
	if cfg.Auth.ReplayCache {
		if redisClient != nil {
			replay = auth.NewRedisReplayCache(redisClient)
		} else {
			replay = auth.NewMemoryReplayCache(nil)
		}
	}

	rl := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, logger)
	stopCleanup := make(chan struct{})
	rl.StartCleanup(time.Minute, stopCleanup)
	defer close(stopCleanup)

	handler := newRouter(routerDeps{
		authenticator: newAuthenticator(cfg, replay, logger),
		store:         store,
		relay:         relay.NewClient(cfg.Secrets, logger.Named("relay")),
		health:        hm,
		rateLimiter:   rl,
		maxBody:       cfg.HTTP.MaxBodyBytes,
		logger:        logger,
	})

	metricsSrv := server.StartMetrics(cfg.Metrics, logger)
	defer server.Stop(metricsSrv, logger)

	if err := server.Run(ctx, server.NewHTTPServer(cfg.HTTP, handler), nil, logger); err != nil {
		logger.Error("Tool service stopped with error", zap.Error(err))
	}

	if shutdownTracing != nil {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(tctx)
	}
	logger.Info("Tool service stopped")
}

// registerHealthChecks adds the tool service checks to hm. A checker that
// cannot be registered is logged and skipped.
func registerHealthChecks(hm *health.Manager, store ledger.Store, redisClient *redis.Client, secrets config.Secrets, logger *zap.Logger) {
	checkers := []health.Checker{
		health.NewPingHealthChecker("ledger", true, store.Ping),
		health.NewBreakerHealthChecker(circuitbreaker.GlobalMetricsCollector),
		secretsHealthChecker(secrets),
	}
	if redisClient != nil {
		checkers = append(checkers, health.NewRedisHealthChecker(redisClient, logger))
	}
	for _, c := range checkers {
		if err := hm.RegisterChecker(c); err != nil {
			logger.Warn("Failed to register health checker", zap.String("checker", c.Name()), zap.Error(err))
		}
	}
}

// secretsHealthChecker reports degraded while lead requests would fail for
// lack of HMAC or webhook configuration.
func secretsHealthChecker(secrets config.Secrets) health.Checker {
	return health.NewCustomHealthChecker("secrets", false, time.Second, func(context.Context) health.CheckResult {
		var missing []string
		if secrets.HMACSecret == "" {
			missing = append(missing, "hmac_secret")
		}
		if !secrets.HasWebhook() {
			missing = append(missing, "webhook")
		}
		if len(missing) > 0 {
			return health.CheckResult{
				Status:  health.StatusDegraded,
				Message: "secrets missing",
				Details: map[string]any{"missing": missing},
			}
		}
		return health.CheckResult{Status: health.StatusHealthy, Message: "secrets configured"}
	})
}

func newAuthenticator(cfg *config.Config, replay auth.ReplayCache, logger *zap.Logger) *auth.Authenticator {
	opts := []auth.Option{auth.WithReplayWindow(cfg.Auth.ReplayWindow)}
	if replay != nil {
		opts = append(opts, auth.WithReplayCache(replay))
	}
	return auth.NewAuthenticator(cfg.Secrets.HMACSecret, logger.Named("auth"), opts...)
}

type routerDeps struct {
	authenticator *auth.Authenticator
	store         ledger.Store
	relay         handlers.Relayer
	health        *health.Manager
	rateLimiter   *middleware.RateLimiter
	maxBody       int64
	logger        *zap.Logger
}

// newRouter wires the routes: health is public, every /tools/* route runs
// tracing -> rate limit -> HMAC authentication -> handler.
func newRouter(d routerDeps) http.Handler {
	tracingMiddleware := middleware.NewTracingMiddleware("toolserver", d.logger).Middleware
	authMiddleware := middleware.NewAuthMiddleware(d.authenticator, d.maxBody, d.logger).Middleware
	rateLimiter := d.rateLimiter.Middleware

	leadHandler := handlers.NewLeadHandler(d.store, d.relay, d.logger.Named("lead"))

	mux := http.NewServeMux()
	health.NewHTTPHandler(d.health, d.logger).RegisterRoutes(mux)

	mux.Handle("POST "+tools.CreateLeadPath,
		tracingMiddleware(
			rateLimiter(
				authMiddleware(
					http.HandlerFunc(leadHandler.CreateLead),
				),
			),
		),
	)

	// Unknown tools still require a valid signature before answering 404.
	mux.Handle("/tools/",
		tracingMiddleware(
			rateLimiter(
				authMiddleware(
					http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
						w.Header().Set("Content-Type", "application/json")
						w.WriteHeader(http.StatusNotFound)
						_, _ = w.Write([]byte(`{"error":"Unknown tool"}`))
					}),
				),
			),
		),
	)

	return middleware.Recovery(d.logger)(middleware.SecurityHeaders(mux))
}

package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/crewflow/crewflow/pkg/api"
	"github.com/crewflow/crewflow/pkg/audit"
	"github.com/crewflow/crewflow/pkg/config"
	"github.com/crewflow/crewflow/pkg/credentials"
	"github.com/crewflow/crewflow/pkg/directory"
	"github.com/crewflow/crewflow/pkg/observability"
	"github.com/crewflow/crewflow/pkg/ratelimit"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("starting crewflow control plane")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Credential verification.
	users, err := credentials.NewOIDCVerifier(ctx, cfg.Auth.OIDCIssuerURL, cfg.Auth.OIDCClientID)
	if err != nil {
		logger.WithError(err).Error("failed to initialize OIDC verifier")
		os.Exit(1)
	}

	var issuerOpts []credentials.AgentIssuerOption
	if cfg.Auth.AgentTokenLifetime > 0 {
		issuerOpts = append(issuerOpts, credentials.WithLifetime(cfg.Auth.AgentTokenLifetime))
	}
	agents, err := credentials.NewAgentTokenIssuer([]byte(cfg.Auth.AgentTokenSecret), issuerOpts...)
	if err != nil {
		logger.WithError(err).Error("failed to initialize agent token issuer")
		os.Exit(1)
	}

	health := observability.NewHealthChecker()

	// Authoritative directory.
	var dir directory.Directory
	switch cfg.Directory.Type {
	case "postgres":
		db, err := sql.Open("postgres", cfg.Directory.PostgresURL)
		if err != nil {
			logger.WithError(err).Error("failed to open postgres")
			os.Exit(1)
		}
		db.SetMaxOpenConns(cfg.Directory.MaxConns)
		if err := db.PingContext(ctx); err != nil {
			logger.WithError(err).Error("failed to ping postgres")
			os.Exit(1)
		}
		defer db.Close()
		health.Register("postgres", db.PingContext)
		dir = directory.NewPostgresDirectory(db)
		logger.Info("directory backed by postgres")
	default:
		dir = directory.NewMemoryDirectory()
		logger.Warn("directory backed by memory, for development only")
	}

	// Admission control: Redis when configured, in-memory otherwise.
	var limiter ratelimit.Limiter
	switch {
	case cfg.RateLimit.RedisURL != "":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.RedisURL,
			Password: cfg.RateLimit.RedisPassword,
			DB:       cfg.RateLimit.RedisDB,
		})
		defer client.Close()
		redisLimiter := ratelimit.NewRedisLimiter(client, cfg.RateLimit.Window, "crewflow")
		health.Register("redis", redisLimiter.HealthCheck)
		limiter = redisLimiter
		logger.Info("rate limiter backed by redis")
	default:
		memLimiter := ratelimit.NewMemoryLimiter(cfg.RateLimit.Window)
		memLimiter.StartSweep(ctx)
		limiter = memLimiter
		logger.Info("rate limiter backed by memory")
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	tp, err := observability.InitTracing(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize tracing")
		os.Exit(1)
	}

	server := api.NewServer(api.Deps{
		Directory:        dir,
		Users:            users,
		Agents:           agents,
		Limiter:          limiter,
		Budgets:          ratelimit.DefaultTierBudgets(),
		AgentTokenBudget: cfg.RateLimit.AgentTokenBudget,
		FailOpen:         cfg.RateLimit.FailOpen,
		Logger:           logger,
		Metrics:          metrics,
		Health:           health,
		Trail:            audit.NewTrail(logger),
	})

	handler := server.Handler()
	if tp != nil {
		handler = otelhttp.NewHandler(handler, "crewflow")
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	if tp != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownTracing(ctx, tp, logger)
		})
	}

	go func() {
		logger.Infof("listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("server failed")
			os.Exit(1)
		}
	}()

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("shutdown incomplete")
		os.Exit(1)
	}
}

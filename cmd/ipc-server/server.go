package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ipc/ipc/internal/config"
	"github.com/ipc/ipc/internal/domain/actionplan"
	"github.com/ipc/ipc/internal/domain/audit"
	"github.com/ipc/ipc/internal/domain/briefing"
	"github.com/ipc/ipc/internal/domain/census"
	"github.com/ipc/ipc/internal/domain/hai"
	"github.com/ipc/ipc/internal/domain/registry"
	"github.com/ipc/ipc/internal/domain/surveillance"
	"github.com/ipc/ipc/internal/platform/ai"
	"github.com/ipc/ipc/internal/platform/alerts"
	"github.com/ipc/ipc/internal/platform/auth"
	"github.com/ipc/ipc/internal/platform/cache"
	"github.com/ipc/ipc/internal/platform/db"
	"github.com/ipc/ipc/internal/platform/events"
	"github.com/ipc/ipc/internal/platform/middleware"
	"github.com/ipc/ipc/internal/platform/telemetry"
	"github.com/ipc/ipc/internal/platform/webhook"
	"github.com/ipc/ipc/internal/platform/websocket"
)

const (
	version        = "0.1.0"
	requestTimeout = 30 * time.Second
	bodyLimit      = "1M"
	streamMaxLen   = 10000
)

// deps are the process-wide resources a server is assembled from. redis may
// be nil, in which case caching stays in memory and no event stream is kept;
// webhooks is nil when no endpoints are configured.
type deps struct {
	cfg      *config.Config
	logger   zerolog.Logger
	pool     *pgxpool.Pool
	redis    *redis.Client
	alerts   *alerts.Engine
	metrics  *telemetry.Registry
	webhooks *webhook.Dispatcher
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		l := newLogger("")
		l.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		logger.Info().Msg("connected to redis")
	}

	engine := alerts.NewEngine(nil)
	if cfg.AlertRulesFile != "" {
		rules, err := alerts.LoadRules(cfg.AlertRulesFile)
		if err != nil {
			logger.Fatal().Err(err).Str("file", cfg.AlertRulesFile).Msg("failed to load alert rules")
		}
		engine.SetRules(rules)
		logger.Info().Int("rules", len(rules)).Msg("alert rules loaded")
		go func() {
			if err := alerts.Watch(ctx, cfg.AlertRulesFile, logger, engine.SetRules); err != nil {
				logger.Error().Err(err).Msg("alert rule watcher stopped")
			}
		}()
	}

	var hooks *webhook.Dispatcher
	if len(cfg.WebhookURLs) > 0 {
		hooks, err = newWebhooks(cfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid webhook configuration")
		}
		go hooks.Run(ctx)
		logger.Info().Int("endpoints", len(cfg.WebhookURLs)).Strs("events", cfg.WebhookEvents).Msg("webhooks enabled")
	}

	e := newServer(deps{
		cfg:      cfg,
		logger:   logger,
		pool:     pool,
		redis:    rdb,
		alerts:   engine,
		metrics:  telemetry.NewRegistry(),
		webhooks: hooks,
	})

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer wires every service and handler onto a fresh echo instance.
func newServer(d deps) *echo.Echo {
	cfg, logger := d.cfg, d.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(d.metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.Sanitize(logger))
	e.Use(middleware.BodyLimit(bodyLimit))
	e.Use(middleware.RequestTimeout(requestTimeout, "/ws"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))

	e.Use(auth.Unless(auth.AuthSkipper, authMiddleware(cfg)))
	e.Use(auth.Unless(auth.AuthSkipper, db.TenantMiddleware(d.pool, cfg.DefaultTenant)))

	// Events
	hub := websocket.NewHub(logger)
	fanout := events.NewFanout(logger, hub, d.metrics)
	var recorder middleware.AccessRecorder
	if d.redis != nil {
		stream := events.NewStreamPublisher(d.redis, cfg.EventStream, streamMaxLen)
		fanout.Add(stream)
		recorder = accessRecorder(stream)
	}
	if d.webhooks != nil {
		fanout.Add(d.webhooks)
	}

	e.Use(middleware.Audit(logger, recorder))

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Domain services
	censusSvc := census.NewService(census.NewRepoPG(d.pool), fanout)
	haiSvc := hai.NewService(hai.NewCaseRepoPG(d.pool), fanout)
	haiSvc.SetLogger(logger)

	survSvc := surveillance.NewService(censusSvc, haiSvc, logger)
	survSvc.SetCache(cache.NewVersioned(rateStore(d.redis), "ipc:rates", cfg.RateCacheTTL))
	survSvc.SetAlerts(d.alerts)
	survSvc.SetObserver(d.metrics)
	survSvc.SetPublisher(fanout)
	fanout.Add(rateInvalidator(survSvc))

	registrySvc := registry.NewService(
		registry.NewNotifiableRepoPG(d.pool),
		registry.NewIsolationRepoPG(d.pool),
		registry.NewSharpsRepoPG(d.pool),
		registry.NewCultureRepoPG(d.pool),
		fanout,
	)
	auditSvc := audit.NewService(audit.NewRepoPG(d.pool), fanout)
	planSvc := actionplan.NewService(actionplan.NewRepoPG(d.pool), auditSvc, fanout)
	briefingSvc := briefing.NewService(survSvc, auditSvc, planSvc, generator(cfg), logger)

	census.NewHandler(censusSvc).RegisterRoutes(apiV1, nil)
	hai.NewHandler(haiSvc).RegisterRoutes(apiV1, nil)
	surveillance.NewHandler(survSvc).RegisterRoutes(apiV1, nil)
	registry.NewHandler(registrySvc).RegisterRoutes(apiV1, nil)
	audit.NewHandler(auditSvc).RegisterRoutes(apiV1, nil)
	actionplan.NewHandler(planSvc).RegisterRoutes(apiV1, nil)
	briefing.NewHandler(briefingSvc).RegisterRoutes(apiV1, nil)

	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(e.Group(""))

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	checks := map[string]db.Check{}
	if d.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return d.redis.Ping(ctx).Err() }
	}
	e.GET("/health/db", db.HealthHandler(d.pool, checks))
	e.GET("/metrics", d.metrics.Handler())

	return e
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	switch cfg.ResolvedAuthMode() {
	case "development":
		return auth.DevAuthMiddleware(cfg.DefaultTenant)
	case "token":
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
	default:
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		})
	}
}

func newWebhooks(cfg *config.Config, logger zerolog.Logger) (*webhook.Dispatcher, error) {
	endpoints := make([]webhook.Endpoint, 0, len(cfg.WebhookURLs))
	for _, u := range cfg.WebhookURLs {
		endpoints = append(endpoints, webhook.Endpoint{
			URL:    u,
			Secret: cfg.WebhookSecret,
			Events: cfg.WebhookEvents,
		})
	}
	return webhook.NewDispatcher(endpoints, logger)
}

func rateStore(rdb *redis.Client) cache.KV {
	if rdb == nil {
		return cache.NewMemoryKV()
	}
	return cache.NewRedisKV(rdb)
}

func generator(cfg *config.Config) ai.Generator {
	if !cfg.AIEnabled() {
		return ai.Disabled{}
	}
	return ai.NewClient(ai.Config{
		BaseURL:     cfg.AIBaseURL,
		APIKey:      cfg.AIAPIKey,
		Model:       cfg.AIModel,
		Timeout:     cfg.AITimeout,
		Temperature: 0.2,
		RetryCount:  2,
	})
}

// rateInvalidator drops cached rate snapshots whenever their inputs change.
func rateInvalidator(svc *surveillance.Service) events.Publisher {
	return events.PublisherFunc(func(ctx context.Context, e events.Event) error {
		if e.Topic != events.TopicCensus && e.Topic != events.TopicHAI {
			return nil
		}
		return svc.Invalidate(ctx, e.Tenant)
	})
}

// accessRecorder appends access entries to the event stream.
func accessRecorder(stream events.Publisher) middleware.AccessRecorder {
	return middleware.AccessRecorderFunc(func(entry middleware.AccessEntry) error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		ev := events.Event{
			Type:         "access." + entry.Action,
			Topic:        events.TopicAudit,
			Tenant:       entry.Tenant,
			ResourceType: entry.Resource,
			ResourceID:   entry.ResourceID,
			Actor:        entry.UserID,
			Timestamp:    entry.Timestamp,
		}
		if b, err := json.Marshal(entry); err == nil {
			ev.Data = b
		}
		return stream.Publish(ctx, ev)
	})
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voiceai-dashboard/internal/apikeys"
	"voiceai-dashboard/internal/audit"
	"voiceai-dashboard/internal/auth"
	"voiceai-dashboard/internal/billing"
	"voiceai-dashboard/internal/callcache"
	"voiceai-dashboard/internal/callfeed"
	"voiceai-dashboard/internal/callstore"
	"voiceai-dashboard/internal/config"
	"voiceai-dashboard/internal/httpapi"
	"voiceai-dashboard/internal/pager"
	"voiceai-dashboard/internal/reporting"
	"voiceai-dashboard/internal/users"
	"voiceai-dashboard/internal/verification"
	"voiceai-dashboard/pkg/logger"
	"voiceai-dashboard/pkg/metrics"
	"voiceai-dashboard/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const maxStreamsPerTenant = 5

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	m := metrics.New()

	store := callstore.NewPostgresStore(db, cfg.PostgresDSN())
	invoices := billing.NewPostgresRepo(db)
	events := audit.NewPostgresRepo(db)
	keyRepo := apikeys.NewPostgresRepo(db)
	userRepo := users.NewPostgresRepo(db)
	migrations := []struct {
		name    string
		migrate func(context.Context) error
	}{
		{"calls", store.Migrate},
		{"invoices", invoices.Migrate},
		{"audit", events.Migrate},
		{"api_keys", keyRepo.Migrate},
		{"users", userRepo.Migrate},
	}
	for _, mg := range migrations {
		if err := mg.migrate(rootCtx); err != nil {
			log.Error("schema migration failed", "schema", mg.name, "err", err)
			os.Exit(1)
		}
	}

	var cache callcache.Cache
	switch cfg.Calls.CacheBackend {
	case config.CacheBackendMemory:
		cache = callcache.NewMemoryCache(callcache.MemoryConfig{TTL: cfg.Calls.CacheTTL, Metrics: m})
	default:
		rc, err := callcache.NewRedisCache(callcache.RedisConfig{Client: rdb, TTL: cfg.Calls.CacheTTL, Metrics: m})
		if err != nil {
			log.Error("calls cache init failed", "err", err)
			os.Exit(1)
		}
		cache = rc
	}

	fetcher := pager.New(pager.Config{Store: store, Metrics: m})
	loader := callfeed.NewLoader(callfeed.LoaderConfig{
		Fetcher:    fetcher,
		Cache:      cache,
		PageSize:   cfg.Calls.PageSize,
		MaxRecords: cfg.Calls.MaxCalls,
		Logger:     log,
	})

	sealer, err := apikeys.NewSealer(cfg.Keys.EncryptionKey, cfg.IsProduction())
	if err != nil {
		log.Error("key sealer init failed", "err", err)
		os.Exit(1)
	}
	if sealer.UsingDevKey() {
		log.Warn("ENCRYPTION_KEY not set; using the development key")
	}
	validator := apikeys.NewValidator(apikeys.ValidatorConfig{
		RetellBaseURL:     cfg.Providers.RetellBaseURL,
		OpenRouterBaseURL: cfg.Providers.OpenRouterBaseURL,
		Metrics:           m,
	})

	auditSvc := audit.NewService(events)
	userSvc := users.NewService(userRepo)

	codes, err := verification.NewRedisCodeStore(rdb, "")
	if err != nil {
		log.Error("verification store init failed", "err", err)
		os.Exit(1)
	}
	var mailer verification.Mailer = verification.LogMailer{Logger: log}
	if cfg.Mail.ResendAPIKey != "" {
		mailer = &verification.ResendMailer{APIKey: cfg.Mail.ResendAPIKey, From: cfg.Mail.From}
	} else if !cfg.IsLocal() {
		log.Warn("RESEND_API_KEY not set; verification codes are only logged")
	}

	// Shutdown waits for open handlers; streams are told to end first.
	streams, closeStreams := context.WithCancel(context.Background())
	defer closeStreams()

	h := httpapi.Handlers{
		Store:  store,
		Cache:  cache,
		Pager:  fetcher,
		Loader: loader,
		Reporting: reporting.NewService(reporting.Config{
			Source:          loader,
			DashboardFeeUSD: cfg.Billing.DashboardFeeUSD,
		}),
		Billing: billing.NewService(billing.Config{
			Source:          loader,
			Invoices:        invoices,
			DashboardFeeUSD: cfg.Billing.DashboardFeeUSD,
		}),
		Keys: apikeys.NewService(apikeys.Config{
			Repo:      keyRepo,
			Sealer:    sealer,
			Validator: validator,
			Audit:     auditSvc,
			Logger:    log,
		}),
		Validator: validator,
		Verification: verification.NewService(verification.Config{
			Store:      codes,
			Mailer:     mailer,
			Users:      userSvc,
			Audit:      auditSvc,
			ExposeCode: cfg.IsLocal(),
			Logger:     log,
		}),
		Users: userSvc,
		Audit: auditSvc,
		Streams: httpapi.StreamConfig{
			PageSize:     cfg.Calls.PageSize,
			MaxRecords:   cfg.Calls.MaxCalls,
			PollInterval: cfg.Calls.RefreshInterval,
			Slots:        rdb,
			MaxPerTenant: maxStreamsPerTenant,
			Shutdown:     streams.Done(),
		},
		Metrics: m,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, h, m, auth.RequireAccessToken(authManager), func(ctx context.Context) error {
		if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
			return err
		}
		return rdb.Ping(ctx).Err()
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// no WriteTimeout: /v1/calls/stream holds the response open
		IdleTimeout: 60 * time.Second,
	}
	srv.RegisterOnShutdown(closeStreams)

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "cache_backend", cfg.Calls.CacheBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

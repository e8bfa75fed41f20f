package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwalitptl/authz-api/internal/attribute"
	"github.com/jwalitptl/authz-api/internal/audit"
	"github.com/jwalitptl/authz-api/internal/authz"
	"github.com/jwalitptl/authz-api/internal/config"
	"github.com/jwalitptl/authz-api/internal/consent"
	audithandler "github.com/jwalitptl/authz-api/internal/handler/audit"
	authzhandler "github.com/jwalitptl/authz-api/internal/handler/authz"
	consenthandler "github.com/jwalitptl/authz-api/internal/handler/consent"
	healthhandler "github.com/jwalitptl/authz-api/internal/handler/health"
	overridehandler "github.com/jwalitptl/authz-api/internal/handler/override"
	"github.com/jwalitptl/authz-api/internal/middleware"
	"github.com/jwalitptl/authz-api/internal/model"
	"github.com/jwalitptl/authz-api/internal/notification"
	"github.com/jwalitptl/authz-api/internal/override"
	"github.com/jwalitptl/authz-api/internal/policy"
	"github.com/jwalitptl/authz-api/internal/repository/postgres"
	"github.com/jwalitptl/authz-api/internal/router"
	"github.com/jwalitptl/authz-api/internal/worker"
	"github.com/jwalitptl/authz-api/pkg/logger"
	redisbroker "github.com/jwalitptl/authz-api/pkg/messaging/redis"
	"github.com/jwalitptl/authz-api/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(&logger.Config{
		Level:   logger.ParseLevel(cfg.Log.Level),
		Console: cfg.Log.Pretty,
	})

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	broker, err := redisbroker.NewRedisBroker(redisbroker.Config{URL: cfg.Redis.URL}, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer broker.Close()

	m := metrics.New("authz_api")

	baseRepo := postgres.NewBaseRepository(db)
	policyRepo := postgres.NewPolicyRepository(baseRepo)
	consentRepo := postgres.NewConsentRepository(baseRepo)
	overrideRepo := postgres.NewOverrideRepository(baseRepo)
	decisionRepo := postgres.NewDecisionRepository(baseRepo)
	auditRepo := postgres.NewAuditRepository(baseRepo)
	resourceRepo := postgres.NewResourceDirectoryRepository(baseRepo)

	auditor := audit.NewService(auditRepo, audit.Config{
		AppendTimeout: cfg.Audit.AppendTimeout(),
	}, log, m)

	consentSvc := consent.NewService(consentRepo, resourceRepo, auditor, log, m)

	resolver := attribute.NewResolver(resourceRepo, consentSvc, attribute.Config{
		WorkdayStartHour: cfg.Attribute.WorkdayStartHour,
		WorkdayEndHour:   cfg.Attribute.WorkdayEndHour,
		CacheTTL:         cfg.Attribute.CacheTTL(),
		CacheCleanup:     5 * time.Minute,
	}, log)

	notifier := notification.NewService(broker, notification.Config{
		EmailEnabled: cfg.Notification.EmailEnabled,
		SMTPHost:     cfg.Notification.SMTPHost,
		SMTPPort:     cfg.Notification.SMTPPort,
		SMTPUser:     cfg.Notification.SMTPUser,
		SMTPPassword: cfg.Notification.SMTPPassword,
		EmailFrom:    cfg.Notification.EmailFrom,
		Reviewers:    cfg.Notification.Reviewers,
	}, log)

	overrideCfg := override.DefaultConfig()
	overrideCfg.MinJustificationLen = cfg.Override.MinJustificationLen
	overrideCfg.AccessWindow = cfg.Override.AccessWindow()
	overrideCfg.LockoutThreshold = cfg.Override.LockoutThreshold
	overrideCfg.LockoutWindow = cfg.Override.LockoutWindow()
	if roles := parseRoles(cfg.Override.AllowedRoles); len(roles) > 0 {
		overrideCfg.AllowedRoles = roles
	}
	overrideSvc := override.NewService(overrideRepo, auditor, notifier, overrideCfg, log, m)

	store := policy.NewStore(policyRepo, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := store.Reload(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to load initial policy snapshot")
	}

	authzSvc := authz.NewService(store, resolver, overrideSvc, decisionRepo, auditor, log, m)

	reloadWorker := worker.NewPolicyReloadWorker(store, broker, time.Minute, log)
	go reloadWorker.Start(ctx)

	auth := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	r := router.NewRouter(
		auth,
		healthhandler.NewHandler(db),
		authzhandler.NewHandler(authzSvc),
		consenthandler.NewHandler(consentSvc),
		overridehandler.NewHandler(overrideSvc),
		audithandler.NewHandler(authzSvc, auditor),
		log,
		router.Config{
			RateLimitRPS:   cfg.RateLimit.RequestsPerSecond,
			RateLimitBurst: cfg.RateLimit.Burst,
			Timeout:        time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
			MetricsPrefix:  "authz_api_http",
		},
	)
	r.Setup()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r.Engine(),
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
}

func parseRoles(names []string) []model.Role {
	var roles []model.Role
	for _, name := range names {
		role := model.Role(name)
		if role.Valid() {
			roles = append(roles, role)
		}
	}
	return roles
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/kelseyhightower/envconfig"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/authz-api/internal/audit"
	"github.com/jwalitptl/authz-api/internal/repository/postgres"
	"github.com/jwalitptl/authz-api/internal/worker"
	"github.com/jwalitptl/authz-api/pkg/logger"
	"github.com/jwalitptl/authz-api/pkg/metrics"
)

// workerConfig is environment-driven: the worker ships as a sidecar and
// has no config file.
type workerConfig struct {
	DatabaseURL          string `envconfig:"DATABASE_URL" required:"true"`
	SweepIntervalSec     int    `envconfig:"SWEEP_INTERVAL_SECONDS" default:"60"`
	RetentionDays        int    `envconfig:"DECISION_RETENTION_DAYS" default:"90"`
	CleanupIntervalMin   int    `envconfig:"CLEANUP_INTERVAL_MINUTES" default:"60"`
	VerifyIntervalMin    int    `envconfig:"VERIFY_INTERVAL_MINUTES" default:"30"`
	AuditAppendTimeoutMS int    `envconfig:"AUDIT_APPEND_TIMEOUT_MS" default:"2000"`
	HealthPort           string `envconfig:"HEALTH_PORT" default:"8091"`
	LogLevel             string `envconfig:"LOG_LEVEL" default:"info"`
}

func main() {
	var cfg workerConfig
	if err := envconfig.Process("authz", &cfg); err != nil {
		stderrLog := zerolog.New(os.Stderr)
		stderrLog.Fatal().Err(err).Msg("failed to process config")
	}

	log := logger.New(&logger.Config{Level: logger.ParseLevel(cfg.LogLevel)})

	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	m := metrics.New("authz_worker")

	baseRepo := postgres.NewBaseRepository(db)
	overrideRepo := postgres.NewOverrideRepository(baseRepo)
	decisionRepo := postgres.NewDecisionRepository(baseRepo)
	auditRepo := postgres.NewAuditRepository(baseRepo)

	auditor := audit.NewService(auditRepo, audit.Config{
		AppendTimeout: time.Duration(cfg.AuditAppendTimeoutMS) * time.Millisecond,
	}, log, m)

	setupHealthCheck(cfg.HealthPort, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("shutting down")
		cancel()
	}()

	var wg sync.WaitGroup
	start := func(run func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
		}()
	}

	start(worker.NewOverrideSweepWorker(overrideRepo, time.Duration(cfg.SweepIntervalSec)*time.Second, log, m).Start)
	start(worker.NewDecisionRetentionWorker(decisionRepo, cfg.RetentionDays, time.Duration(cfg.CleanupIntervalMin)*time.Minute, log).Start)
	start(worker.NewChainVerifyWorker(auditor, time.Duration(cfg.VerifyIntervalMin)*time.Minute, log).Start)

	wg.Wait()
}

func setupHealthCheck(port string, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		if err := http.ListenAndServe(":"+port, mux); err != nil {
			log.Error().Err(err).Msg("health check server failed")
			os.Exit(1)
		}
	}()
}

package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jwalitptl/authz-api/internal/repository"
	"github.com/jwalitptl/authz-api/pkg/metrics"
)

// OverrideSweepWorker expires break-the-glass grants whose access window
// has lapsed. Evaluation already treats stale ACTIVE rows as expired; the
// sweep keeps the status column honest for reporting.
type OverrideSweepWorker struct {
	repo     repository.OverrideRepository
	interval time.Duration
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

func NewOverrideSweepWorker(repo repository.OverrideRepository, interval time.Duration, logger zerolog.Logger, m *metrics.Metrics) *OverrideSweepWorker {
	return &OverrideSweepWorker{
		repo:     repo,
		interval: interval,
		logger:   logger,
		metrics:  m,
	}
}

func (w *OverrideSweepWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info().Dur("interval", w.interval).Msg("override sweep started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("override sweep shutting down")
			return
		case <-ticker.C:
			if err := w.sweep(ctx); err != nil {
				w.logger.Error().Err(err).Msg("override sweep failed")
			}
		}
	}
}

func (w *OverrideSweepWorker) sweep(ctx context.Context) error {
	swept, err := w.repo.SweepExpired(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if swept > 0 {
		if w.metrics != nil {
			w.metrics.OverridesActive.Sub(float64(swept))
		}
		w.logger.Info().Int64("swept", swept).Msg("expired override grants")
	}
	return nil
}

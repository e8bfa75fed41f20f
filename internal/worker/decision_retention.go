package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jwalitptl/authz-api/internal/repository"
)

// DecisionRetentionWorker deletes decision records past the retention
// window. Audit events are never touched; the chain is append-only for
// life.
type DecisionRetentionWorker struct {
	repo          repository.DecisionRepository
	retentionDays int
	interval      time.Duration
	logger        zerolog.Logger
}

func NewDecisionRetentionWorker(repo repository.DecisionRepository, retentionDays int, interval time.Duration, logger zerolog.Logger) *DecisionRetentionWorker {
	return &DecisionRetentionWorker{
		repo:          repo,
		retentionDays: retentionDays,
		interval:      interval,
		logger:        logger,
	}
}

func (w *DecisionRetentionWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info().Int("retention_days", w.retentionDays).Msg("decision retention started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("decision retention shutting down")
			return
		case <-ticker.C:
			if err := w.cleanup(ctx); err != nil {
				w.logger.Error().Err(err).Msg("decision cleanup failed")
			}
		}
	}
}

func (w *DecisionRetentionWorker) cleanup(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -w.retentionDays)

	rows, err := w.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to clean up decisions: %w", err)
	}
	if rows > 0 {
		w.logger.Info().Int64("deleted", rows).Time("cutoff", cutoff).Msg("cleaned up old decisions")
	}
	return nil
}

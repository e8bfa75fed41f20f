package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jwalitptl/authz-api/internal/audit"
)

// ChainVerifyWorker periodically rewalks every tenant's audit chain. A
// broken link is an incident, not a request error: it is logged at error
// level and counted, and operators take it from there.
type ChainVerifyWorker struct {
	auditor  *audit.Service
	interval time.Duration
	logger   zerolog.Logger
}

func NewChainVerifyWorker(auditor *audit.Service, interval time.Duration, logger zerolog.Logger) *ChainVerifyWorker {
	return &ChainVerifyWorker{
		auditor:  auditor,
		interval: interval,
		logger:   logger,
	}
}

func (w *ChainVerifyWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info().Dur("interval", w.interval).Msg("chain verification started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("chain verification shutting down")
			return
		case <-ticker.C:
			w.verifyAll(ctx)
		}
	}
}

func (w *ChainVerifyWorker) verifyAll(ctx context.Context) {
	tenants, err := w.auditor.Tenants(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to list tenants for verification")
		return
	}

	for _, tenantID := range tenants {
		result, err := w.auditor.Verify(ctx, tenantID)
		if err != nil {
			w.logger.Error().Err(err).Str("tenant_id", tenantID.String()).Msg("chain verification failed")
			continue
		}
		if !result.OK {
			w.logger.Error().
				Str("tenant_id", tenantID.String()).
				Int64("broken_at", *result.BrokenAt).
				Msg("audit chain integrity violation")
			continue
		}
		w.logger.Debug().
			Str("tenant_id", tenantID.String()).
			Int64("checked", result.Checked).
			Msg("audit chain verified")
	}
}

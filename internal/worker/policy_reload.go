package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jwalitptl/authz-api/internal/policy"
	"github.com/jwalitptl/authz-api/pkg/messaging"
)

// PolicyReloadChannel carries reload signals from admin tooling.
const PolicyReloadChannel = "policy.reload"

// PolicyReloadWorker keeps the in-memory snapshot fresh. It reloads on a
// broker signal and on a timer as a backstop; a failed reload leaves the
// previous snapshot serving.
type PolicyReloadWorker struct {
	store    *policy.Store
	broker   messaging.Broker
	interval time.Duration
	logger   zerolog.Logger
}

func NewPolicyReloadWorker(store *policy.Store, broker messaging.Broker, interval time.Duration, logger zerolog.Logger) *PolicyReloadWorker {
	return &PolicyReloadWorker{
		store:    store,
		broker:   broker,
		interval: interval,
		logger:   logger,
	}
}

func (w *PolicyReloadWorker) Start(ctx context.Context) {
	var signals <-chan []byte
	if w.broker != nil {
		ch, err := w.broker.Subscribe(ctx, PolicyReloadChannel)
		if err != nil {
			w.logger.Error().Err(err).Msg("failed to subscribe to policy reload channel, timer only")
		} else {
			signals = ch
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info().Dur("interval", w.interval).Msg("policy reload started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("policy reload shutting down")
			return
		case <-ticker.C:
			w.reload(ctx)
		case _, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			w.reload(ctx)
		}
	}
}

func (w *PolicyReloadWorker) reload(ctx context.Context) {
	if _, err := w.store.Reload(ctx); err != nil {
		w.logger.Error().Err(err).Msg("policy reload failed, serving previous snapshot")
	}
}

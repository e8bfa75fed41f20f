package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/authz-api/internal/model"
	"github.com/jwalitptl/authz-api/internal/repository"
	apperrors "github.com/jwalitptl/authz-api/pkg/errors"
	"github.com/jwalitptl/authz-api/pkg/metrics"
)

// genesisHash anchors the first link of every tenant chain.
const genesisHash = ""

type Config struct {
	// AppendTimeout bounds the audit write that gates every decision
	// response. On timeout the caller fails closed.
	AppendTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{AppendTimeout: 2 * time.Second}
}

// chainState caches the tail of one tenant's chain between appends.
type chainState struct {
	mu       sync.Mutex
	loaded   bool
	lastSeq  int64
	lastHash string
}

// Service is the audit trail writer. All appends for a tenant serialize
// through that tenant's chainState mutex, so hash_prev always refers to
// the event committed immediately before.
type Service struct {
	repo    repository.AuditRepository
	cfg     Config
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	chains map[uuid.UUID]*chainState
}

func NewService(repo repository.AuditRepository, cfg Config, logger zerolog.Logger, m *metrics.Metrics) *Service {
	if cfg.AppendTimeout <= 0 {
		cfg.AppendTimeout = DefaultConfig().AppendTimeout
	}
	return &Service{
		repo:    repo,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		chains:  make(map[uuid.UUID]*chainState),
	}
}

// ComputeHash derives a link hash from the previous hash and the
// canonical payload bytes.
func ComputeHash(prev string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Append durably commits one event to the tenant's chain and returns the
// committed link. The write is bounded by the configured timeout; any
// failure surfaces as AUDIT_UNAVAILABLE and the caller must fail closed.
// Once committed the record stands, whether or not the caller is still
// around to see the response.
func (s *Service) Append(ctx context.Context, event *model.AuditEvent) (*model.AuditEvent, error) {
	start := time.Now()
	committed, err := s.append(ctx, event)
	if s.metrics != nil {
		s.metrics.AuditAppendLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			s.metrics.AuditAppendFailures.Inc()
		}
	}
	if err != nil {
		// Higher severity than an ordinary request error: every one of
		// these forced a fail-closed denial somewhere.
		s.logger.Error().
			Err(err).
			Str("tenant_id", event.TenantID.String()).
			Str("action", event.Action).
			Msg("audit append failed, decision will fail closed")
		return nil, apperrors.AuditUnavailable(err)
	}
	return committed, nil
}

func (s *Service) append(ctx context.Context, event *model.AuditEvent) (*model.AuditEvent, error) {
	state := s.chain(event.TenantID)
	state.mu.Lock()
	defer state.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.AppendTimeout)
	defer cancel()

	if !state.loaded {
		last, err := s.repo.Last(ctx, event.TenantID)
		if err != nil {
			return nil, fmt.Errorf("failed to load chain tail: %w", err)
		}
		if last != nil {
			state.lastSeq = last.Sequence
			state.lastHash = last.HashSelf
		} else {
			state.lastSeq = 0
			state.lastHash = genesisHash
		}
		state.loaded = true
	}

	event.ID = uuid.New()
	event.Sequence = state.lastSeq + 1
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.HashPrev = state.lastHash

	payload, err := event.CanonicalPayload()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize audit event: %w", err)
	}
	event.HashSelf = ComputeHash(event.HashPrev, payload)

	if err := s.repo.Append(ctx, event); err != nil {
		// The tail may or may not have advanced; force a reload before
		// the next append rather than guess.
		state.loaded = false
		return nil, err
	}

	state.lastSeq = event.Sequence
	state.lastHash = event.HashSelf
	return event, nil
}

func (s *Service) chain(tenantID uuid.UUID) *chainState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.chains[tenantID]
	if !ok {
		state = &chainState{}
		s.chains[tenantID] = state
	}
	return state
}

// Query returns a page of events plus the total count for the filters.
func (s *Service) Query(ctx context.Context, filters *model.AuditFilters) ([]*model.AuditEvent, int64, error) {
	events, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit events: %w", err)
	}
	return events, total, nil
}

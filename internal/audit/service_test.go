package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/authz-api/internal/model"
	apperrors "github.com/jwalitptl/authz-api/pkg/errors"
)

type fakeAuditRepo struct {
	mu         sync.Mutex
	events     map[uuid.UUID][]*model.AuditEvent
	failAppend bool
}

func newFakeAuditRepo() *fakeAuditRepo {
	return &fakeAuditRepo{events: make(map[uuid.UUID][]*model.AuditEvent)}
}

func (r *fakeAuditRepo) Append(ctx context.Context, event *model.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAppend {
		return errors.New("sink down")
	}
	clone := *event
	r.events[event.TenantID] = append(r.events[event.TenantID], &clone)
	return nil
}

func (r *fakeAuditRepo) Last(ctx context.Context, tenantID uuid.UUID) (*model.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chain := r.events[tenantID]
	if len(chain) == 0 {
		return nil, nil
	}
	return chain[len(chain)-1], nil
}

func (r *fakeAuditRepo) List(ctx context.Context, filters *model.AuditFilters) ([]*model.AuditEvent, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chain := r.events[filters.TenantID]
	return chain, int64(len(chain)), nil
}

func (r *fakeAuditRepo) Chain(ctx context.Context, tenantID uuid.UUID, fromSequence int64, limit int) ([]*model.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.AuditEvent
	for _, event := range r.events[tenantID] {
		if event.Sequence >= fromSequence {
			out = append(out, event)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeAuditRepo) Tenants(ctx context.Context) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uuid.UUID
	for id := range r.events {
		out = append(out, id)
	}
	return out, nil
}

func newTestService(repo *fakeAuditRepo) *Service {
	return NewService(repo, DefaultConfig(), zerolog.Nop(), nil)
}

func testEvent(tenantID uuid.UUID) *model.AuditEvent {
	return &model.AuditEvent{
		TenantID:     tenantID,
		ActorID:      uuid.New(),
		ActorRole:    model.RoleDoctor,
		Action:       model.AuditActionAccessDecision,
		ResourceType: model.ResourceMedicalRecord,
		ResourceID:   uuid.New(),
		Verdict:      string(model.VerdictAllow),
		Reason:       model.ReasonRuleMatch,
	}
}

func TestAppendBuildsChain(t *testing.T) {
	repo := newFakeAuditRepo()
	svc := newTestService(repo)
	tenantID := uuid.New()

	var committed []*model.AuditEvent
	for i := 0; i < 5; i++ {
		event, err := svc.Append(context.Background(), testEvent(tenantID))
		require.NoError(t, err)
		committed = append(committed, event)
	}

	for i, event := range committed {
		assert.Equal(t, int64(i+1), event.Sequence)
		if i == 0 {
			assert.Equal(t, genesisHash, event.HashPrev)
		} else {
			assert.Equal(t, committed[i-1].HashSelf, event.HashPrev)
		}
		payload, err := event.CanonicalPayload()
		require.NoError(t, err)
		assert.Equal(t, ComputeHash(event.HashPrev, payload), event.HashSelf)
	}

	assert.Equal(t, int64(-1), VerifyEvents(committed))
}

func TestChainsArePerTenant(t *testing.T) {
	repo := newFakeAuditRepo()
	svc := newTestService(repo)
	tenantA := uuid.New()
	tenantB := uuid.New()

	a1, err := svc.Append(context.Background(), testEvent(tenantA))
	require.NoError(t, err)
	b1, err := svc.Append(context.Background(), testEvent(tenantB))
	require.NoError(t, err)

	assert.Equal(t, int64(1), a1.Sequence)
	assert.Equal(t, int64(1), b1.Sequence)
	assert.Equal(t, genesisHash, a1.HashPrev)
	assert.Equal(t, genesisHash, b1.HashPrev)
}

func TestAppendResumesExistingChain(t *testing.T) {
	repo := newFakeAuditRepo()
	tenantID := uuid.New()

	first := newTestService(repo)
	e1, err := first.Append(context.Background(), testEvent(tenantID))
	require.NoError(t, err)

	// A fresh service instance must pick up the persisted tail.
	second := newTestService(repo)
	e2, err := second.Append(context.Background(), testEvent(tenantID))
	require.NoError(t, err)

	assert.Equal(t, int64(2), e2.Sequence)
	assert.Equal(t, e1.HashSelf, e2.HashPrev)
}

func TestAppendFailureIsAuditUnavailable(t *testing.T) {
	repo := newFakeAuditRepo()
	svc := newTestService(repo)
	tenantID := uuid.New()

	_, err := svc.Append(context.Background(), testEvent(tenantID))
	require.NoError(t, err)

	repo.failAppend = true
	_, err = svc.Append(context.Background(), testEvent(tenantID))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrAuditUnavailable))

	// Recovery continues the chain without gaps or forks.
	repo.failAppend = false
	event, err := svc.Append(context.Background(), testEvent(tenantID))
	require.NoError(t, err)
	assert.Equal(t, int64(2), event.Sequence)

	events, _, err := repo.List(context.Background(), &model.AuditFilters{TenantID: tenantID})
	require.NoError(t, err)
	assert.Equal(t, int64(-1), VerifyEvents(events))
}

func TestVerifyDetectsTampering(t *testing.T) {
	repo := newFakeAuditRepo()
	svc := newTestService(repo)
	tenantID := uuid.New()

	for i := 0; i < 6; i++ {
		_, err := svc.Append(context.Background(), testEvent(tenantID))
		require.NoError(t, err)
	}

	result, err := svc.Verify(context.Background(), tenantID)
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, int64(6), result.Checked)

	// Retroactively edit event 3.
	repo.mu.Lock()
	repo.events[tenantID][2].Justification = "altered after commit"
	repo.mu.Unlock()

	result, err = svc.Verify(context.Background(), tenantID)
	require.NoError(t, err)
	assert.False(t, result.OK)
	require.NotNil(t, result.BrokenAt)
	assert.Equal(t, int64(3), *result.BrokenAt)
}

func TestVerifyDetectsDeletedLink(t *testing.T) {
	repo := newFakeAuditRepo()
	svc := newTestService(repo)
	tenantID := uuid.New()

	for i := 0; i < 4; i++ {
		_, err := svc.Append(context.Background(), testEvent(tenantID))
		require.NoError(t, err)
	}

	repo.mu.Lock()
	repo.events[tenantID] = append(repo.events[tenantID][:1], repo.events[tenantID][2:]...)
	repo.mu.Unlock()

	result, err := svc.Verify(context.Background(), tenantID)
	require.NoError(t, err)
	assert.False(t, result.OK)
}

func TestCanonicalPayloadIsDeterministic(t *testing.T) {
	event := testEvent(uuid.New())
	event.ID = uuid.New()
	event.Sequence = 1

	a, err := event.CanonicalPayload()
	require.NoError(t, err)
	b, err := event.CanonicalPayload()
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

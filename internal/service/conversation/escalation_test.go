package conversation

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"portal-messaging/internal/domain"
	"portal-messaging/pkg/errors"
)

func TestEscalate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.adminAffiliate(t, "Withdrawal")

	updated, err := f.svc.Escalate(ctx, adminA, conv.ID, "client threatening withdrawal")

	require.NoError(t, err)
	assert.Equal(t, domain.StatusEscalated, updated.Status)
	assert.True(t, updated.IsEscalated)
	require.NotNil(t, updated.EscalatedAt)
	assert.Equal(t, adminA.UserID, updated.EscalatedBy)
	assert.Equal(t, "client threatening withdrawal", updated.EscalationReason)
	assert.Len(t, updated.AuditTrail, len(conv.AuditTrail)+1)
	assert.Equal(t, domain.AuditEscalated, updated.AuditTrail[len(updated.AuditTrail)-1].Action)

	f.poster.AssertCalled(t, "PostSystemMessage", mock.Anything, mock.MatchedBy(func(m *domain.EnhancedMessage) bool {
		return m.MessageType == domain.MessageTypeSystem && m.IsEscalation && m.ConversationID == conv.ID
	}))
}

func TestEscalate_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.adminAffiliate(t, "Guards")

	_, err := f.svc.Escalate(ctx, affiliateB, conv.ID, "please")
	assert.True(t, errors.Is(err, errors.ErrCodePermission))

	_, err = f.svc.Escalate(ctx, adminA, conv.ID, "   ")
	assert.True(t, errors.Is(err, errors.ErrCodeValidation))

	_, err = f.svc.Escalate(ctx, adminZ, conv.ID, "not mine")
	assert.True(t, errors.Is(err, errors.ErrCodePermission))

	_, err = f.svc.Escalate(ctx, adminA, conv.ID, "first")
	require.NoError(t, err)
	_, err = f.svc.Escalate(ctx, adminA, conv.ID, "second")
	assert.True(t, errors.Is(err, errors.ErrCodeAlreadyEscalated))

	stored, err := f.repo.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", stored.EscalationReason)
	assert.Len(t, stored.AuditTrail, 2)
}

func TestEscalate_GovernorAlreadyPresent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.adminAffiliate(t, "Watched")
	_, err := f.svc.AppendParticipant(ctx, adminA, conv.ID, governorG.AsParticipant())
	require.NoError(t, err)

	_, err = f.svc.Escalate(ctx, adminA, conv.ID, "again")

	assert.True(t, errors.Is(err, errors.ErrCodeAlreadyEscalated))
}

func TestEscalate_ConcurrentCallsLinearize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.adminAffiliate(t, "Race")
	_, err := f.svc.AppendParticipant(ctx, adminA, conv.ID, adminZ.AsParticipant())
	require.NoError(t, err)

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
	)
	for i := 0; i < workers; i++ {
		caller := adminA
		if i%2 == 1 {
			caller = adminZ
		}
		wg.Add(1)
		go func(c domain.Caller) {
			defer wg.Done()
			_, err := f.svc.Escalate(ctx, c, conv.ID, "race")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, errors.ErrCodeAlreadyEscalated), errors.Is(err, errors.ErrCodeInvalidTransition):
				rejected++
			}
		}(caller)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, rejected)

	stored, err := f.repo.Get(ctx, conv.ID)
	require.NoError(t, err)
	escalations := 0
	for _, e := range stored.AuditTrail {
		if e.Action == domain.AuditEscalated {
			escalations++
		}
	}
	assert.Equal(t, 1, escalations)
}

func TestJoinAsGovernor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.adminAffiliate(t, "Join")

	_, err := f.svc.JoinAsGovernor(ctx, governorG, conv.ID)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidTransition), "join requires escalation")

	_, err = f.svc.Escalate(ctx, adminA, conv.ID, "need oversight")
	require.NoError(t, err)

	_, err = f.svc.JoinAsGovernor(ctx, adminZ, conv.ID)
	assert.True(t, errors.Is(err, errors.ErrCodePermission))

	updated, err := f.svc.JoinAsGovernor(ctx, governorG, conv.ID)
	require.NoError(t, err)
	assert.True(t, updated.HasParticipant(governorG.UserID))
	assert.Equal(t, domain.StatusEscalated, updated.Status)
	assert.Equal(t, domain.AuditParticipantAdded, updated.AuditTrail[len(updated.AuditTrail)-1].Action)

	f.poster.AssertCalled(t, "PostSystemMessage", mock.Anything, mock.MatchedBy(func(m *domain.EnhancedMessage) bool {
		return m.Content == "Grace (Governor) has joined the conversation to provide management oversight."
	}))

	_, err = f.svc.JoinAsGovernor(ctx, governorG, conv.ID)
	assert.True(t, errors.Is(err, errors.ErrCodeAlreadyParticipant))
}

func TestResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.adminAffiliate(t, "Resolve")

	_, err := f.svc.Resolve(ctx, adminA, conv.ID)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidTransition))

	_, err = f.svc.Escalate(ctx, adminA, conv.ID, "dispute")
	require.NoError(t, err)
	_, err = f.svc.JoinAsGovernor(ctx, governorG, conv.ID)
	require.NoError(t, err)

	_, err = f.svc.Resolve(ctx, affiliateB, conv.ID)
	assert.True(t, errors.Is(err, errors.ErrCodePermission))

	updated, err := f.svc.Resolve(ctx, governorG, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResolved, updated.Status)
	assert.False(t, updated.IsEscalated)
	assert.NotNil(t, updated.EscalatedAt, "escalation history is kept")
	assert.Equal(t, "dispute", updated.EscalationReason)
	assert.True(t, updated.HasParticipant(governorG.UserID))

	_, err = f.svc.Escalate(ctx, adminA, conv.ID, "again")
	assert.Error(t, err)
}

func TestArchive_FromEveryNonTerminalState(t *testing.T) {
	ctx := context.Background()

	setups := map[domain.ConversationStatus]func(f *fixture, id string){
		domain.StatusActive: func(f *fixture, id string) {},
		domain.StatusEscalated: func(f *fixture, id string) {
			_, err := f.svc.Escalate(ctx, adminA, id, "x")
			require.NoError(t, err)
		},
		domain.StatusResolved: func(f *fixture, id string) {
			_, err := f.svc.Escalate(ctx, adminA, id, "x")
			require.NoError(t, err)
			_, err = f.svc.Resolve(ctx, adminA, id)
			require.NoError(t, err)
		},
	}

	for from, setup := range setups {
		t.Run(string(from), func(t *testing.T) {
			f := newFixture(t)
			conv := f.adminAffiliate(t, "Archive")
			setup(f, conv.ID)

			archived, err := f.svc.Archive(ctx, adminA, conv.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusArchived, archived.Status)
			assert.False(t, archived.IsEscalated)
			last := archived.AuditTrail[len(archived.AuditTrail)-1]
			assert.Equal(t, domain.AuditArchived, last.Action)
			assert.Equal(t, string(from), last.Details["from"])

			before := len(archived.AuditTrail)
			_, err = f.svc.Archive(ctx, adminA, conv.ID)
			assert.True(t, errors.Is(err, errors.ErrCodeInvalidTransition))
			_, err = f.svc.Resolve(ctx, adminA, conv.ID)
			assert.True(t, errors.Is(err, errors.ErrCodeInvalidTransition))

			stored, err := f.repo.Get(ctx, conv.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusArchived, stored.Status)
			assert.Len(t, stored.AuditTrail, before)
		})
	}
}

func TestEscalate_PosterFailureKeepsTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.adminAffiliate(t, "Store down")

	poster := new(MockMessagePoster)
	poster.On("PostSystemMessage", mock.Anything, mock.Anything).Return(nil, errors.StoreUnavailableError("message", nil))
	f.svc.SetMessagePoster(poster)

	updated, err := f.svc.Escalate(ctx, adminA, conv.ID, "urgent")

	require.NoError(t, err)
	assert.Equal(t, domain.StatusEscalated, updated.Status)
	poster.AssertExpectations(t)
}

func TestAuditTrailIsMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.adminAffiliate(t, "Audit")
	_, err := f.svc.Escalate(ctx, adminA, conv.ID, "x")
	require.NoError(t, err)
	_, err = f.svc.JoinAsGovernor(ctx, governorG, conv.ID)
	require.NoError(t, err)
	final, err := f.svc.Archive(ctx, governorG, conv.ID)
	require.NoError(t, err)

	for i := 1; i < len(final.AuditTrail); i++ {
		assert.False(t, final.AuditTrail[i].Timestamp.Before(final.AuditTrail[i-1].Timestamp))
	}
}

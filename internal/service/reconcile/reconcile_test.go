package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal-messaging/internal/domain"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return base.Add(time.Duration(ms) * time.Millisecond)
}

func atPtr(ms int) *time.Time {
	t := at(ms)
	return &t
}

func TestReconcile_DropsLegacyWithinWindow(t *testing.T) {
	enhanced := []domain.EnhancedMessage{{ID: "a", Timestamp: at(100_000), Content: "hi"}}
	legacy := []domain.LegacyMessage{{ID: "b", Timestamp: atPtr(100_500), Content: "hi"}}

	out := Reconcile(enhanced, legacy)

	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, domain.ProvenanceEnhanced, out[0].Provenance)
}

func TestReconcile_SameTimestampDifferentContentKept(t *testing.T) {
	enhanced := []domain.EnhancedMessage{{ID: "a", Timestamp: at(0), Content: "hi"}}
	legacy := []domain.LegacyMessage{{ID: "b", Timestamp: atPtr(0), Content: "hello"}}

	out := Reconcile(enhanced, legacy)

	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID, "enhanced wins the tie")
	assert.Equal(t, "b", out[1].ID)
	assert.Equal(t, domain.ProvenanceLegacy, out[1].Provenance)
}

func TestReconcile_DropsLegacyWithSameID(t *testing.T) {
	enhanced := []domain.EnhancedMessage{{ID: "a", Timestamp: at(0), Content: "edited"}}
	legacy := []domain.LegacyMessage{{ID: "a", Timestamp: atPtr(60_000), Content: "original"}}

	res := ReconcileWithWindow(enhanced, legacy, time.Second)

	require.Len(t, res.Messages, 1)
	assert.Equal(t, 1, res.DuplicatesDropped)
}

func TestReconcile_WindowIsExclusive(t *testing.T) {
	enhanced := []domain.EnhancedMessage{{ID: "a", Timestamp: at(0), Content: "hi"}}
	legacy := []domain.LegacyMessage{{ID: "b", Timestamp: atPtr(1000), Content: "hi"}}

	out := Reconcile(enhanced, legacy)

	assert.Len(t, out, 2)
}

func TestReconcile_NormalizesLegacyDefaults(t *testing.T) {
	legacy := []domain.LegacyMessage{{ID: "l1", ConversationID: "c1", SenderID: "u1", Content: "old", Timestamp: atPtr(0)}}

	out := Reconcile(nil, legacy)

	require.Len(t, out, 1)
	m := out[0]
	assert.Equal(t, domain.RoleAffiliate, m.SenderRole)
	assert.Equal(t, domain.PriorityMedium, m.Priority)
	assert.Equal(t, domain.MessageSent, m.Status)
	assert.Equal(t, domain.MessageTypeText, m.MessageType)
	assert.False(t, m.IsEscalation)
	assert.NotNil(t, m.ReadBy)
	assert.Empty(t, m.ReadBy)
}

func TestReconcile_KeepsLegacyFieldsWhenPresent(t *testing.T) {
	legacy := []domain.LegacyMessage{{
		ID: "l1", Content: "x", Timestamp: atPtr(0),
		SenderRole: domain.RoleAdmin, Priority: domain.PriorityUrgent, Status: domain.MessageRead,
	}}

	out := Reconcile(nil, legacy)

	assert.Equal(t, domain.RoleAdmin, out[0].SenderRole)
	assert.Equal(t, domain.PriorityUrgent, out[0].Priority)
	assert.Equal(t, domain.MessageRead, out[0].Status)
}

func TestReconcile_MissingTimestampSortsFirst(t *testing.T) {
	enhanced := []domain.EnhancedMessage{{ID: "a", Timestamp: at(0), Content: "first?"}}
	legacy := []domain.LegacyMessage{{ID: "b", Content: "no clock"}}

	out := Reconcile(enhanced, legacy)

	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].ID)
	assert.True(t, out[0].Timestamp.Equal(time.Unix(0, 0)))
}

func TestReconcile_OrdersAscending(t *testing.T) {
	enhanced := []domain.EnhancedMessage{
		{ID: "e3", Timestamp: at(3000), Content: "3"},
		{ID: "e1", Timestamp: at(1000), Content: "1"},
	}
	legacy := []domain.LegacyMessage{
		{ID: "l2", Timestamp: atPtr(2000), Content: "2"},
		{ID: "l4", Timestamp: atPtr(4000), Content: "4"},
	}

	out := Reconcile(enhanced, legacy)

	ids := make([]string, len(out))
	for i, m := range out {
		ids[i] = m.ID
	}
	assert.Equal(t, []string{"e1", "l2", "e3", "l4"}, ids)
}

func TestReconcile_Deterministic(t *testing.T) {
	enhanced := []domain.EnhancedMessage{
		{ID: "e1", Timestamp: at(0), Content: "a"},
		{ID: "e2", Timestamp: at(0), Content: "b"},
	}
	legacy := []domain.LegacyMessage{
		{ID: "l1", Timestamp: atPtr(0), Content: "c"},
		{ID: "l2", Timestamp: atPtr(200), Content: "a"},
	}

	first := Reconcile(enhanced, legacy)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Reconcile(enhanced, legacy))
	}
}

func TestReconcile_DoesNotMutateInputs(t *testing.T) {
	enhanced := []domain.EnhancedMessage{{ID: "a", Timestamp: at(0), Content: "hi", ReadBy: []domain.ReadReceipt{{UserID: "u1"}}}}
	legacy := []domain.LegacyMessage{{ID: "b", Timestamp: atPtr(5000), Content: "yo"}}

	out := Reconcile(enhanced, legacy)
	out[0].ReadBy[0].UserID = "changed"
	out[1].Content = "changed"

	assert.Equal(t, "u1", enhanced[0].ReadBy[0].UserID)
	assert.Empty(t, enhanced[0].Provenance)
	assert.Equal(t, "yo", legacy[0].Content)
	assert.Empty(t, legacy[0].SenderRole)
}

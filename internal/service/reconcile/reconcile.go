// Package reconcile merges the enhanced and legacy message stores into one
// ordered, duplicate-free timeline per conversation.
package reconcile

import (
	"sort"
	"time"

	"portal-messaging/internal/domain"
	"portal-messaging/pkg/constants"
)

// epoch stands in for a missing legacy timestamp so the record sorts first
var epoch = time.Unix(0, 0).UTC()

// Result is a reconciled timeline plus counters for metrics
type Result struct {
	Messages          []domain.EnhancedMessage
	DuplicatesDropped int
}

// Reconcile merges enhanced and legacy messages using the default dedup window
func Reconcile(enhanced []domain.EnhancedMessage, legacy []domain.LegacyMessage) []domain.EnhancedMessage {
	return ReconcileWithWindow(enhanced, legacy, constants.DedupWindow).Messages
}

// ReconcileWithWindow merges the two sequences. Inputs are never modified.
//
// A legacy record is dropped when an enhanced record has the same id, or has
// identical content with a timestamp strictly less than window apart. The
// output is ascending by timestamp; equal timestamps keep enhanced records
// ahead of legacy ones and otherwise keep input order.
func ReconcileWithWindow(enhanced []domain.EnhancedMessage, legacy []domain.LegacyMessage, window time.Duration) Result {
	type entry struct {
		msg    domain.EnhancedMessage
		source int // 0 enhanced, 1 legacy
		seq    int
	}

	entries := make([]entry, 0, len(enhanced)+len(legacy))
	ids := make(map[string]struct{}, len(enhanced))
	byContent := make(map[string][]time.Time, len(enhanced))

	for i := range enhanced {
		m := copyEnhanced(&enhanced[i])
		m.Provenance = domain.ProvenanceEnhanced
		if m.Timestamp.IsZero() {
			m.Timestamp = epoch
		}
		ids[m.ID] = struct{}{}
		byContent[m.Content] = append(byContent[m.Content], m.Timestamp)
		entries = append(entries, entry{msg: m, source: 0, seq: i})
	}

	dropped := 0
	for i := range legacy {
		l := &legacy[i]
		ts := epoch
		if l.Timestamp != nil && !l.Timestamp.IsZero() {
			ts = *l.Timestamp
		}
		if isDuplicate(l.ID, l.Content, ts, ids, byContent, window) {
			dropped++
			continue
		}
		entries = append(entries, entry{msg: Normalize(l), source: 1, seq: i})
	}

	sort.SliceStable(entries, func(a, b int) bool {
		ta, tb := entries[a].msg.Timestamp, entries[b].msg.Timestamp
		if !ta.Equal(tb) {
			return ta.Before(tb)
		}
		if entries[a].source != entries[b].source {
			return entries[a].source < entries[b].source
		}
		return entries[a].seq < entries[b].seq
	})

	out := make([]domain.EnhancedMessage, len(entries))
	for i := range entries {
		out[i] = entries[i].msg
	}
	return Result{Messages: out, DuplicatesDropped: dropped}
}

func isDuplicate(id, content string, ts time.Time, ids map[string]struct{}, byContent map[string][]time.Time, window time.Duration) bool {
	if _, ok := ids[id]; ok && id != "" {
		return true
	}
	for _, ets := range byContent[content] {
		d := ts.Sub(ets)
		if d < 0 {
			d = -d
		}
		if d < window {
			return true
		}
	}
	return false
}

// Normalize converts a legacy record into the enhanced shape, filling defaults
// for the fields the legacy store never carried.
func Normalize(l *domain.LegacyMessage) domain.EnhancedMessage {
	ts := epoch
	if l.Timestamp != nil && !l.Timestamp.IsZero() {
		ts = *l.Timestamp
	}
	m := domain.EnhancedMessage{
		ID:             l.ID,
		ConversationID: l.ConversationID,
		SenderID:       l.SenderID,
		SenderName:     l.SenderName,
		SenderRole:     l.SenderRole,
		Content:        l.Content,
		Timestamp:      ts,
		ReplyTo:        l.ReplyTo,
		Attachments:    append([]domain.Attachment(nil), l.Attachments...),
		Priority:       l.Priority,
		Status:         l.Status,
		Department:     l.Department,
		IsEscalation:   l.IsEscalation,
		ReadBy:         append([]domain.ReadReceipt{}, l.ReadBy...),
		MessageType:    l.MessageType,
		Provenance:     domain.ProvenanceLegacy,
	}
	if m.SenderRole == "" {
		m.SenderRole = domain.RoleAffiliate
	}
	if m.Priority == "" {
		m.Priority = domain.PriorityMedium
	}
	if m.Status == "" {
		m.Status = domain.MessageSent
	}
	if m.MessageType == "" {
		m.MessageType = domain.MessageTypeText
	}
	return m
}

func copyEnhanced(src *domain.EnhancedMessage) domain.EnhancedMessage {
	m := *src
	m.Attachments = append([]domain.Attachment(nil), src.Attachments...)
	m.ReadBy = append([]domain.ReadReceipt{}, src.ReadBy...)
	if src.EditedAt != nil {
		at := *src.EditedAt
		m.EditedAt = &at
	}
	if src.Metadata != nil {
		m.Metadata = make(map[string]interface{}, len(src.Metadata))
		for k, v := range src.Metadata {
			m.Metadata[k] = v
		}
	}
	return m
}

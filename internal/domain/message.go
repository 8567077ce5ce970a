package domain

import (
	"time"
)

// MessageStatus is the delivery state of a message
type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
)

// MessageType distinguishes user text from engine-emitted messages
type MessageType string

const (
	MessageTypeText       MessageType = "text"
	MessageTypeSystem     MessageType = "system"
	MessageTypeEscalation MessageType = "escalation"
	MessageTypeResolution MessageType = "resolution"
)

// Provenance names the store a message record was read from
type Provenance string

const (
	ProvenanceEnhanced Provenance = "enhanced"
	ProvenanceLegacy   Provenance = "legacy"
)

// ReadReceipt records one reader; readBy has set semantics on UserID
type ReadReceipt struct {
	UserID   string    `json:"userId"`
	UserName string    `json:"userName"`
	ReadAt   time.Time `json:"readAt"`
}

// EnhancedMessage is the canonical message shape.
// Maps to the Cassandra enhanced_messages table.
type EnhancedMessage struct {
	ID               string                 `json:"id"`
	ConversationID   string                 `json:"conversationId"`
	SenderID         string                 `json:"senderId"`
	SenderName       string                 `json:"senderName"`
	SenderRole       Role                   `json:"senderRole"`
	Content          string                 `json:"content"`
	Timestamp        time.Time              `json:"timestamp"`
	ReplyTo          string                 `json:"replyTo,omitempty"`
	Attachments      []Attachment           `json:"attachments,omitempty"`
	Priority         Priority               `json:"priority"`
	Status           MessageStatus          `json:"status"`
	Department       string                 `json:"department,omitempty"`
	IsEscalation     bool                   `json:"isEscalation"`
	EscalationReason string                 `json:"escalationReason,omitempty"`
	ReadBy           []ReadReceipt          `json:"readBy"`
	EditedAt         *time.Time             `json:"editedAt,omitempty"`
	EditedBy         string                 `json:"editedBy,omitempty"`
	OriginalContent  string                 `json:"originalContent,omitempty"`
	MessageType      MessageType            `json:"messageType"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`

	// Provenance is set by the reconciler, never persisted
	Provenance Provenance `json:"provenance,omitempty"`
}

// IsReadBy reports whether userID already has a read receipt
func (m *EnhancedMessage) IsReadBy(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// LegacyMessage is a record from the older message store.
// Role, priority, status and type may be absent; empty means missing.
type LegacyMessage struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	SenderName     string        `json:"senderName"`
	SenderRole     Role          `json:"senderRole,omitempty"`
	Content        string        `json:"content"`
	Timestamp      *time.Time    `json:"timestamp,omitempty"`
	ReplyTo        string        `json:"replyTo,omitempty"`
	Attachments    []Attachment  `json:"attachments,omitempty"`
	Priority       Priority      `json:"priority,omitempty"`
	Status         MessageStatus `json:"status,omitempty"`
	Department     string        `json:"department,omitempty"`
	IsEscalation   bool          `json:"isEscalation,omitempty"`
	ReadBy         []ReadReceipt `json:"readBy,omitempty"`
	MessageType    MessageType   `json:"messageType,omitempty"`
}

// IsReadBy reports whether userID already has a read receipt
func (m *LegacyMessage) IsReadBy(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// ToLegacy reduces an enhanced message to the fields the legacy store keeps.
// Priority and status are dropped; the sender role, message type and
// escalation flag survive so system notices keep their meaning.
func (m *EnhancedMessage) ToLegacy() *LegacyMessage {
	ts := m.Timestamp
	return &LegacyMessage{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		SenderRole:     m.SenderRole,
		Content:        m.Content,
		Timestamp:      &ts,
		ReplyTo:        m.ReplyTo,
		Attachments:    append([]Attachment(nil), m.Attachments...),
		IsEscalation:   m.IsEscalation,
		MessageType:    m.MessageType,
	}
}

package domain

import (
	"time"
)

// Role is the portal role of a conversation participant
type Role string

const (
	RoleGovernor  Role = "governor"
	RoleAdmin     Role = "admin"
	RoleAffiliate Role = "affiliate"
)

// Valid reports whether r is one of the three portal roles
func (r Role) Valid() bool {
	switch r {
	case RoleGovernor, RoleAdmin, RoleAffiliate:
		return true
	}
	return false
}

// ConversationType describes which roles a conversation was opened between
type ConversationType string

const (
	ConversationAdminAffiliate    ConversationType = "admin_affiliate"
	ConversationAdminGovernor     ConversationType = "admin_governor"
	ConversationAffiliateGovernor ConversationType = "affiliate_governor"
	ConversationGroup             ConversationType = "group"
)

// Valid reports whether t is a known conversation type
func (t ConversationType) Valid() bool {
	switch t {
	case ConversationAdminAffiliate, ConversationAdminGovernor, ConversationAffiliateGovernor, ConversationGroup:
		return true
	}
	return false
}

// RequiredRoles returns the role pair a non-group conversation must contain.
// Group conversations return nil.
func (t ConversationType) RequiredRoles() []Role {
	switch t {
	case ConversationAdminAffiliate:
		return []Role{RoleAdmin, RoleAffiliate}
	case ConversationAdminGovernor:
		return []Role{RoleAdmin, RoleGovernor}
	case ConversationAffiliateGovernor:
		return []Role{RoleAffiliate, RoleGovernor}
	}
	return nil
}

// ConversationStatus is the escalation lifecycle state
type ConversationStatus string

const (
	StatusActive    ConversationStatus = "active"
	StatusEscalated ConversationStatus = "escalated"
	StatusResolved  ConversationStatus = "resolved"
	StatusArchived  ConversationStatus = "archived"
)

// Priority applies to both conversations and messages
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a known priority
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// AuditAction is the kind of structural change recorded in the audit trail
type AuditAction string

const (
	AuditCreated            AuditAction = "created"
	AuditParticipantAdded   AuditAction = "participant_added"
	AuditParticipantRemoved AuditAction = "participant_removed"
	AuditEscalated          AuditAction = "escalated"
	AuditResolved           AuditAction = "resolved"
	AuditArchived           AuditAction = "archived"
)

// ConversationParticipant is a member of exactly one conversation
type ConversationParticipant struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Role     Role       `json:"role"`
	Email    string     `json:"email,omitempty"`
	JoinedAt time.Time  `json:"joinedAt"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// ConversationAuditEntry is immutable once appended
type ConversationAuditEntry struct {
	ID              string                 `json:"id"`
	Action          AuditAction            `json:"action"`
	PerformedBy     string                 `json:"performedBy"`
	PerformedByName string                 `json:"performedByName"`
	PerformedByRole Role                   `json:"performedByRole"`
	Timestamp       time.Time              `json:"timestamp"`
	Details         map[string]interface{} `json:"details,omitempty"`
}

// Conversation is the aggregate root for conversation metadata.
// Participants and the audit trail are owned by it and persisted with it.
type Conversation struct {
	ID          string           `json:"id"`
	Type        ConversationType `json:"type"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Department  string           `json:"department,omitempty"`
	Tags        []string         `json:"tags,omitempty"`

	Participants []ConversationParticipant `json:"participants"`

	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`

	LastActivity      time.Time `json:"lastActivity"`
	LastMessage       string    `json:"lastMessage,omitempty"`
	LastMessageSender string    `json:"lastMessageSender,omitempty"`

	Status   ConversationStatus `json:"status"`
	Priority Priority           `json:"priority"`

	IsEscalated      bool       `json:"isEscalated"`
	EscalatedAt      *time.Time `json:"escalatedAt,omitempty"`
	EscalatedBy      string     `json:"escalatedBy,omitempty"`
	EscalationReason string     `json:"escalationReason,omitempty"`

	AuditTrail []ConversationAuditEntry `json:"auditTrail"`
}

// Participant returns the participant with the given id
func (c *Conversation) Participant(userID string) (ConversationParticipant, bool) {
	for _, p := range c.Participants {
		if p.ID == userID {
			return p, true
		}
	}
	return ConversationParticipant{}, false
}

// HasParticipant reports whether userID is a member
func (c *Conversation) HasParticipant(userID string) bool {
	_, ok := c.Participant(userID)
	return ok
}

// HasRole reports whether any participant holds role
func (c *Conversation) HasRole(role Role) bool {
	for _, p := range c.Participants {
		if p.Role == role {
			return true
		}
	}
	return false
}

// DistinctRoles counts the distinct roles among participants
func (c *Conversation) DistinctRoles() int {
	seen := make(map[Role]struct{}, 3)
	for _, p := range c.Participants {
		seen[p.Role] = struct{}{}
	}
	return len(seen)
}

// VisibleTo applies the role-based visibility rule: governors see every
// conversation, everyone else only conversations they participate in.
func (c *Conversation) VisibleTo(caller Caller) bool {
	if caller.Role == RoleGovernor {
		return true
	}
	return c.HasParticipant(caller.UserID)
}

// AppendAudit appends an entry keeping the trail monotonic by timestamp
func (c *Conversation) AppendAudit(entry ConversationAuditEntry) {
	if n := len(c.AuditTrail); n > 0 {
		if last := c.AuditTrail[n-1].Timestamp; entry.Timestamp.Before(last) {
			entry.Timestamp = last
		}
	}
	c.AuditTrail = append(c.AuditTrail, entry)
}

// Clone returns a deep copy so a failed mutation can be discarded
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Tags = append([]string(nil), c.Tags...)
	out.Participants = make([]ConversationParticipant, len(c.Participants))
	for i, p := range c.Participants {
		if p.LastSeen != nil {
			ls := *p.LastSeen
			p.LastSeen = &ls
		}
		out.Participants[i] = p
	}
	out.AuditTrail = make([]ConversationAuditEntry, len(c.AuditTrail))
	for i, e := range c.AuditTrail {
		if e.Details != nil {
			details := make(map[string]interface{}, len(e.Details))
			for k, v := range e.Details {
				details[k] = v
			}
			e.Details = details
		}
		out.AuditTrail[i] = e
	}
	if c.EscalatedAt != nil {
		at := *c.EscalatedAt
		out.EscalatedAt = &at
	}
	return &out
}

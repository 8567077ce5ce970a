package domain

// Caller is the authenticated identity supplied by the session layer.
// It is passed explicitly into every registry and state machine call.
type Caller struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
	Email       string `json:"email,omitempty"`
}

// AsParticipant converts the caller into a participant record
func (c Caller) AsParticipant() ConversationParticipant {
	return ConversationParticipant{
		ID:    c.UserID,
		Name:  c.DisplayName,
		Role:  c.Role,
		Email: c.Email,
	}
}

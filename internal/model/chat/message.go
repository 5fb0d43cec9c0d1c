package chat

import (
	"fmt"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the roles a conversation may contain.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is an append-only entry of a session's log.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      Role      `json:"role"`
	Parts     Parts     `json:"parts"`
	CreatedAt time.Time `json:"createdAt"`
}

// HistoryMessage is the client-facing shape of a stored message.
type HistoryMessage struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Parts   Parts  `json:"parts"`
}

// ToHistory flattens the message for rendering while keeping the structured parts.
func (m Message) ToHistory() HistoryMessage {
	parts := m.Parts
	if parts == nil {
		parts = Parts{}
	}
	return HistoryMessage{
		ID:      m.ID,
		Role:    m.Role,
		Content: parts.Text(),
		Parts:   parts,
	}
}

// IncomingMessage is one entry of the history a client submits with a turn.
//
// Clients send either a flat "content" string or a "parts" array (or both);
// UnmarshalJSON normalizes every shape into Parts.
type IncomingMessage struct {
	ID    string `json:"id,omitempty"`
	Role  Role   `json:"role"`
	Parts Parts  `json:"parts"`
}

func (m IncomingMessage) String() string {
	return fmt.Sprintf("%s: %s", m.Role, m.Parts.Text())
}

package chat

import "time"

// DefaultTitle is stored when no title can be derived from the first user message.
const DefaultTitle = "New Chat"

// Session is one persisted conversation thread owned by a single user.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

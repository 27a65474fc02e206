package models

import "time"

// Role identifies the author of a transcript message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry in a session transcript.
// Messages are immutable once appended.
type Message struct {
	ID         string    `json:"id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	AgentUsed  string    `json:"agent_used,omitempty"` // empty for user messages
	Confidence float64   `json:"confidence"`           // 0.0-1.0
	Timestamp  time.Time `json:"timestamp"`
}

// Session holds the conversational state for one interaction stream.
// Owned exclusively by the memory manager; everyone else works with
// read-only snapshots.
type Session struct {
	ID           string            `json:"id"`
	Messages     []Message         `json:"messages"`
	Preferences  map[string]string `json:"preferences,omitempty"`
	LastActivity time.Time         `json:"last_activity"`
	CreatedAt    time.Time         `json:"created_at"`
}

// LastAgent returns the agent that produced the most recent assistant
// message, or "" if the session has none.
func (s *Session) LastAgent() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant && s.Messages[i].AgentUsed != "" {
			return s.Messages[i].AgentUsed
		}
	}
	return ""
}

// Clone returns a deep copy safe to hand to agents alongside an in-flight
// request. Mutating the clone never touches the managed session.
func (s *Session) Clone() *Session {
	cp := &Session{
		ID:           s.ID,
		Messages:     make([]Message, len(s.Messages)),
		LastActivity: s.LastActivity,
		CreatedAt:    s.CreatedAt,
	}
	copy(cp.Messages, s.Messages)
	if s.Preferences != nil {
		cp.Preferences = make(map[string]string, len(s.Preferences))
		for k, v := range s.Preferences {
			cp.Preferences[k] = v
		}
	}
	return cp
}

// Package history stores per-session conversation transcripts.
//
// A session's history always begins with exactly one system message, inserted
// atomically on first access. Messages are only ever appended; nothing is
// rolled back when a later pipeline stage fails.
package history

import (
	"context"
	"errors"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

var (
	// ErrNotFound is returned when a session has no history.
	ErrNotFound = errors.New("history: session not found")

	// ErrEmptySessionID is returned for a blank session identifier.
	ErrEmptySessionID = errors.New("history: session id required")
)

// Store holds conversation histories keyed by session id.
// Implementations must be safe for concurrent use across sessions.
type Store interface {
	// GetOrCreate returns the session's history, creating it with the
	// system message if absent. Creation is atomic.
	GetOrCreate(ctx context.Context, sessionID string) ([]Message, error)

	// Append adds msg to the end of the session's history and returns the
	// updated snapshot. Returns ErrNotFound if the session does not exist.
	Append(ctx context.Context, sessionID string, msg Message) ([]Message, error)

	// Messages returns a snapshot of the session's history.
	// Returns ErrNotFound if the session does not exist.
	Messages(ctx context.Context, sessionID string) ([]Message, error)

	// Delete removes the session's history. Deleting a missing session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// Close releases any resources held by the store.
	Close() error
}

func clone(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

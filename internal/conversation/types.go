// Package conversation holds per-session transcripts for the chat pipeline.
package conversation

import (
	"errors"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultMaxTurns is the retained transcript length when none is configured.
const DefaultMaxTurns = 40

var ErrEmptySessionID = errors.New("session id is required")

// Turn is one message in a transcript. Turns are values and never mutated.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store keeps an ordered transcript per session id.
type Store interface {
	AppendUserTurn(sessionID, content string) (Turn, error)
	AppendAssistantTurn(sessionID, content string) (Turn, error)
	// Context returns the most recent maxTurns turns, oldest first.
	// An unknown session yields an empty slice and no error.
	Context(sessionID string, maxTurns int) []Turn
	Transcript(sessionID string) []Turn
	Len(sessionID string) int
	Purge(sessionID string)
	Sessions() []string
}

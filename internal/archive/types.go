// Package archive is an audit trail of conversation turns. It is readable
// through the chat API but never restored into a live transcript.
package archive

import (
	"context"
	"time"
)

// Record stores a single user or assistant turn.
type Record struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	TurnID      string    `json:"turn_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

type Store interface {
	SaveTurn(ctx context.Context, record Record) error
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]Record, error)
	Mode() string
	Close() error
}

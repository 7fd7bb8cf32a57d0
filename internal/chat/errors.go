package chat

import (
	"errors"
	"fmt"

	"github.com/ent0n29/brandely/internal/reliability"
)

var (
	ErrEmptyMessage    = errors.New("message text is empty")
	ErrMissingSession  = errors.New("session id is required")
	ErrArchiveDisabled = errors.New("turn archive is not configured")

	// ErrProvider and ErrTimeout classify a failed completion. The user turn
	// stays in the transcript and no assistant turn is added.
	ErrProvider = errors.New("completion provider failed")
	ErrTimeout  = errors.New("completion provider timed out")

	errEmptyCompletion = errors.New("provider returned an empty reply")
)

// TurnError reports a completion failure for one user message.
type TurnError struct {
	SessionID string
	TurnID    string
	Kind      error
	Class     reliability.Class
	Err       error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("session %s: %v: %v", e.SessionID, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the provider cause to errors.Is/As.
func (e *TurnError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

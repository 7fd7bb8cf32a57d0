package httpapi

import (
	"context"
	"sync"
)

// turnCanceler lets a client_control cancel abort the turn in flight.
type turnCanceler struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

func (t *turnCanceler) Begin(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
	return ctx
}

func (t *turnCanceler) End() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

// Cancel is a no-op when no turn is running.
func (t *turnCanceler) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
}

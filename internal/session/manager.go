package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var ErrNotFound = errors.New("session not found")

type Session struct {
	ID             string    `json:"session_id"`
	Status         Status    `json:"status"`
	TurnCount      int       `json:"turn_count"`
	BlockedCount   int       `json:"blocked_count"`
	FailedCount    int       `json:"failed_count"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type entry struct {
	Session
	// turn is a one-slot semaphore serializing the pipeline per session.
	turn     chan struct{}
	inflight int
}

// Manager registers sessions and serializes turns within each session.
// Sessions live for the process lifetime unless an idle timeout is set.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*entry
	idleTimeout time.Duration
	onExpire    func(*Session)
	// purging holds ids whose expire hook is still running. Acquire waits
	// on them so a new turn never lands in a transcript being purged.
	purging map[string]chan struct{}
}

// NewManager creates a manager. idleTimeout <= 0 disables expiry.
func NewManager(idleTimeout time.Duration) *Manager {
	if idleTimeout < 0 {
		idleTimeout = 0
	}
	return &Manager{
		sessions:    make(map[string]*entry),
		idleTimeout: idleTimeout,
		purging:     make(map[string]chan struct{}),
	}
}

func (m *Manager) IdleTimeout() time.Duration { return m.idleTimeout }

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Create registers a session with a fresh id.
func (m *Manager) Create() *Session {
	return m.Ensure(uuid.NewString())
}

// Ensure returns the session for id, registering it on first sight.
func (m *Manager) Ensure(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.ensureLocked(id))
}

func (m *Manager) ensureLocked(id string) *entry {
	if e, ok := m.sessions[id]; ok {
		return e
	}
	now := time.Now().UTC()
	e := &entry{
		Session: Session{
			ID:             id,
			Status:         StatusActive,
			StartedAt:      now,
			LastActivityAt: now,
		},
		turn: make(chan struct{}, 1),
	}
	m.sessions[id] = e
	return e
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(e), nil
}

// Acquire blocks until the caller owns the turn slot for id, or ctx ends.
// Waiters are admitted one at a time; release must be called exactly once.
func (m *Manager) Acquire(ctx context.Context, id string) (release func(), err error) {
	var e *entry
	for e == nil {
		m.mu.Lock()
		done, busy := m.purging[id]
		if !busy {
			e = m.ensureLocked(id)
			e.inflight++
		}
		m.mu.Unlock()
		if busy {
			select {
			case <-done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	select {
	case e.turn <- struct{}{}:
	case <-ctx.Done():
		m.mu.Lock()
		e.inflight--
		m.mu.Unlock()
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.turn
			m.mu.Lock()
			e.inflight--
			e.LastActivityAt = time.Now().UTC()
			m.mu.Unlock()
		})
	}, nil
}

// Record counts a processed message against the session.
func (m *Manager) Record(id string, outcome Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	switch outcome {
	case OutcomeReplied:
		e.TurnCount++
	case OutcomeBlocked:
		e.BlockedCount++
	case OutcomeFailed:
		e.TurnCount++
		e.FailedCount++
	}
	e.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if m.idleTimeout <= 0 {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireIdle()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) expireIdle() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for id, e := range m.sessions {
		if e.inflight > 0 || now.Sub(e.LastActivityAt) < m.idleTimeout {
			continue
		}
		if _, busy := m.purging[id]; busy {
			continue
		}
		e.Status = StatusEnded
		expired = append(expired, clone(e))
		delete(m.sessions, id)
		m.purging[id] = make(chan struct{})
	}
	hook := m.onExpire
	m.mu.Unlock()

	for _, s := range expired {
		if hook != nil {
			hook(s)
		}
		m.mu.Lock()
		close(m.purging[s.ID])
		delete(m.purging, s.ID)
		m.mu.Unlock()
	}
}

func clone(e *entry) *Session {
	c := e.Session
	return &c
}

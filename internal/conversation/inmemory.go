package conversation

import (
	"sort"
	"sync"
	"time"
)

// InMemoryStore keeps transcripts for the life of the process.
// Each transcript has its own lock, so sessions never contend on appends.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*transcript
	maxTurns int
	now      func() time.Time
}

type transcript struct {
	mu    sync.Mutex
	turns []Turn
}

func NewInMemoryStore(maxTurns int) *InMemoryStore {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &InMemoryStore{
		sessions: make(map[string]*transcript),
		maxTurns: maxTurns,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemoryStore) MaxTurns() int { return s.maxTurns }

func (s *InMemoryStore) AppendUserTurn(sessionID, content string) (Turn, error) {
	return s.append(sessionID, RoleUser, content)
}

func (s *InMemoryStore) AppendAssistantTurn(sessionID, content string) (Turn, error) {
	return s.append(sessionID, RoleAssistant, content)
}

func (s *InMemoryStore) append(sessionID string, role Role, content string) (Turn, error) {
	if sessionID == "" {
		return Turn{}, ErrEmptySessionID
	}
	turn := Turn{Role: role, Content: content, CreatedAt: s.now()}
	// The map read lock is held for the whole append so Purge cannot
	// drop the transcript between lookup and write.
	for {
		s.mu.RLock()
		t, ok := s.sessions[sessionID]
		if ok {
			t.push(turn, s.maxTurns)
			s.mu.RUnlock()
			return turn, nil
		}
		s.mu.RUnlock()
		s.create(sessionID)
	}
}

func (t *transcript) push(turn Turn, maxTurns int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns = append(t.turns, turn)
	if over := len(t.turns) - maxTurns; over > 0 {
		// Copy down so the dropped prefix can be collected.
		kept := make([]Turn, maxTurns)
		copy(kept, t.turns[over:])
		t.turns = kept
	}
}

func (s *InMemoryStore) Context(sessionID string, maxTurns int) []Turn {
	t := s.get(sessionID)
	if t == nil {
		return []Turn{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.turns)
	if maxTurns <= 0 || maxTurns > n {
		maxTurns = n
	}
	out := make([]Turn, maxTurns)
	copy(out, t.turns[n-maxTurns:])
	return out
}

func (s *InMemoryStore) Transcript(sessionID string) []Turn {
	return s.Context(sessionID, 0)
}

func (s *InMemoryStore) Len(sessionID string) int {
	t := s.get(sessionID)
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.turns)
}

func (s *InMemoryStore) Purge(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Sessions lists known session ids in sorted order.
func (s *InMemoryStore) Sessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *InMemoryStore) get(sessionID string) *transcript {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[sessionID]
}

func (s *InMemoryStore) create(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		s.sessions[sessionID] = &transcript{}
	}
}

package conversation

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestAppendKeepsOrder(t *testing.T) {
	s := NewInMemoryStore(100)
	for i := 0; i < 10; i++ {
		if _, err := s.AppendUserTurn("s1", fmt.Sprintf("m%d", i)); err != nil {
			t.Fatalf("AppendUserTurn() error = %v", err)
		}
	}
	got := s.Transcript("s1")
	if len(got) != 10 {
		t.Fatalf("len(Transcript()) = %d, want 10", len(got))
	}
	for i, turn := range got {
		if want := fmt.Sprintf("m%d", i); turn.Content != want || turn.Role != RoleUser {
			t.Fatalf("turn[%d] = %+v, want user %q", i, turn, want)
		}
	}
}

func TestTrimKeepsMostRecent(t *testing.T) {
	const k = 4
	s := NewInMemoryStore(k)
	for i := 0; i < 11; i++ {
		if i%2 == 0 {
			_, _ = s.AppendUserTurn("s1", fmt.Sprintf("t%d", i))
		} else {
			_, _ = s.AppendAssistantTurn("s1", fmt.Sprintf("t%d", i))
		}
	}
	got := s.Transcript("s1")
	if len(got) != k {
		t.Fatalf("len(Transcript()) = %d, want %d", len(got), k)
	}
	for i, turn := range got {
		if want := fmt.Sprintf("t%d", 7+i); turn.Content != want {
			t.Fatalf("turn[%d].Content = %q, want %q", i, turn.Content, want)
		}
	}
}

func TestDefaultMaxTurns(t *testing.T) {
	s := NewInMemoryStore(0)
	if s.MaxTurns() != DefaultMaxTurns {
		t.Fatalf("MaxTurns() = %d, want %d", s.MaxTurns(), DefaultMaxTurns)
	}
	for i := 0; i < DefaultMaxTurns+5; i++ {
		_, _ = s.AppendUserTurn("s1", "x")
	}
	if n := s.Len("s1"); n != DefaultMaxTurns {
		t.Fatalf("Len() = %d, want %d", n, DefaultMaxTurns)
	}
}

func TestContextWindow(t *testing.T) {
	s := NewInMemoryStore(10)
	for _, c := range []string{"a", "b", "c"} {
		_, _ = s.AppendUserTurn("s1", c)
	}

	got := s.Context("s1", 2)
	if len(got) != 2 || got[0].Content != "b" || got[1].Content != "c" {
		t.Fatalf("Context(2) = %+v, want [b c]", got)
	}
	if got := s.Context("s1", 50); len(got) != 3 {
		t.Fatalf("len(Context(50)) = %d, want 3", len(got))
	}
	if s.Len("s1") != 3 {
		t.Fatalf("Context() must not trim the stored transcript")
	}
}

func TestContextUnknownSessionIsEmpty(t *testing.T) {
	s := NewInMemoryStore(10)
	got := s.Context("missing", 10)
	if got == nil || len(got) != 0 {
		t.Fatalf("Context(missing) = %#v, want empty non-nil slice", got)
	}
	if s.Len("missing") != 0 {
		t.Fatalf("Len(missing) != 0")
	}
}

func TestContextReturnsCopy(t *testing.T) {
	s := NewInMemoryStore(10)
	_, _ = s.AppendUserTurn("s1", "original")
	got := s.Context("s1", 1)
	got[0].Content = "mutated"
	if s.Transcript("s1")[0].Content != "original" {
		t.Fatalf("stored transcript was mutated through Context()")
	}
}

func TestSessionIsolation(t *testing.T) {
	s := NewInMemoryStore(10)
	_, _ = s.AppendUserTurn("a", "secret-a")
	_, _ = s.AppendUserTurn("b", "hello-b")

	for _, turn := range s.Transcript("b") {
		if turn.Content == "secret-a" {
			t.Fatalf("session b contains session a content")
		}
	}
	if ids := s.Sessions(); len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("Sessions() = %v, want [a b]", ids)
	}

	s.Purge("a")
	if s.Len("a") != 0 || s.Len("b") != 1 {
		t.Fatalf("Purge(a) affected the wrong session")
	}
}

func TestEmptySessionID(t *testing.T) {
	s := NewInMemoryStore(10)
	if _, err := s.AppendUserTurn("", "x"); !errors.Is(err, ErrEmptySessionID) {
		t.Fatalf("error = %v, want ErrEmptySessionID", err)
	}
}

func TestConcurrentSessions(t *testing.T) {
	s := NewInMemoryStore(1000)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		id := fmt.Sprintf("s%d", w)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, _ = s.AppendUserTurn(id, fmt.Sprintf("%d", i))
			}
		}()
	}
	wg.Wait()

	for w := 0; w < 8; w++ {
		id := fmt.Sprintf("s%d", w)
		got := s.Transcript(id)
		if len(got) != 100 {
			t.Fatalf("len(Transcript(%s)) = %d, want 100", id, len(got))
		}
		for i, turn := range got {
			if turn.Content != fmt.Sprintf("%d", i) {
				t.Fatalf("%s turn[%d] = %q out of order", id, i, turn.Content)
			}
		}
	}
}

func TestPurgeWaitsForInFlightAppend(t *testing.T) {
	s := NewInMemoryStore(10)
	if _, err := s.AppendUserTurn("s1", "seed"); err != nil {
		t.Fatalf("AppendUserTurn() error = %v", err)
	}
	tr := s.sessions["s1"]
	tr.mu.Lock()

	appended := make(chan struct{})
	go func() {
		defer close(appended)
		if _, err := s.AppendAssistantTurn("s1", "late"); err != nil {
			t.Errorf("AppendAssistantTurn() error = %v", err)
		}
	}()
	time.Sleep(10 * time.Millisecond)

	purged := make(chan struct{})
	go func() {
		defer close(purged)
		s.Purge("s1")
	}()
	select {
	case <-purged:
		tr.mu.Unlock()
		t.Fatalf("Purge() finished while an append was still writing")
	case <-time.After(20 * time.Millisecond):
	}

	tr.mu.Unlock()
	<-appended
	<-purged
	if n := s.Len("s1"); n != 0 {
		t.Fatalf("Len() after purge = %d, want 0", n)
	}
	if _, err := s.AppendUserTurn("s1", "fresh"); err != nil {
		t.Fatalf("AppendUserTurn() error = %v", err)
	}
	if got := s.Transcript("s1"); len(got) != 1 || got[0].Content != "fresh" {
		t.Fatalf("Transcript() after purge = %+v, want only the fresh turn", got)
	}
}

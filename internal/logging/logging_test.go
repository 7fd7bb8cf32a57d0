package logging

import "testing"

func TestNew(t *testing.T) {
	for _, enc := range []string{"", "json", "console"} {
		l, err := New("info", enc)
		if err != nil {
			t.Fatalf("New(info, %q) error = %v", enc, err)
		}
		if !l.Core().Enabled(0) {
			t.Fatalf("info level should be enabled for %q", enc)
		}
		if l.Core().Enabled(-1) {
			t.Fatalf("debug level should be disabled for %q", enc)
		}
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New("loud", "json"); err == nil {
		t.Fatalf("New(loud) expected error")
	}
	if _, err := New("info", "xml"); err == nil {
		t.Fatalf("New(info, xml) expected error")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatalf("OrNop(nil) returned nil")
	}
}

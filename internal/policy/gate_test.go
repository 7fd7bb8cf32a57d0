package policy

import "testing"

func TestKeywordGateDefaults(t *testing.T) {
	g := NewKeywordGate(DefaultBannedPhrases)

	got := g.Evaluate("I want to discuss a president")
	if got.IsSafe {
		t.Fatalf("IsSafe = true, want false")
	}
	if got.Reason != ReasonBlocked {
		t.Fatalf("Reason = %q, want %q", got.Reason, ReasonBlocked)
	}
	if got.Matched != "president" {
		t.Fatalf("Matched = %q, want %q", got.Matched, "president")
	}

	got = g.Evaluate("I want a logo in blue and gold")
	if !got.IsSafe {
		t.Fatalf("IsSafe = false, want true (matched %q)", got.Matched)
	}
	if got.Reason != ReasonOK {
		t.Fatalf("Reason = %q, want %q", got.Reason, ReasonOK)
	}
	if got.OriginalInput != "I want a logo in blue and gold" {
		t.Fatalf("OriginalInput = %q", got.OriginalInput)
	}
}

func TestKeywordGateSubstringAndCase(t *testing.T) {
	g := NewKeywordGate([]string{"  Kill ", "kill", ""})
	if n := len(g.Phrases()); n != 1 {
		t.Fatalf("len(Phrases()) = %d, want 1", n)
	}

	cases := []struct {
		in   string
		safe bool
	}{
		{"KILL the lights", false},
		{"my new skill set", false},
		{"a calming tea company", true},
		{"", true},
	}
	for _, tc := range cases {
		got := g.Evaluate(tc.in)
		if got.IsSafe != tc.safe {
			t.Fatalf("Evaluate(%q).IsSafe = %v, want %v", tc.in, got.IsSafe, tc.safe)
		}
	}
}

func TestKeywordGateDeterministic(t *testing.T) {
	g := NewKeywordGate(DefaultBannedPhrases)
	first := g.Evaluate("Tell me about the election campaign")
	for i := 0; i < 5; i++ {
		if got := g.Evaluate("Tell me about the election campaign"); got != first {
			t.Fatalf("Evaluate() = %+v, want %+v", got, first)
		}
	}
}

func TestPatternGate(t *testing.T) {
	g, err := NewPatternGate([]string{`\bweapons?\b`})
	if err != nil {
		t.Fatalf("NewPatternGate() error = %v", err)
	}
	if got := g.Evaluate("Selling WEAPONS online"); got.IsSafe {
		t.Fatalf("IsSafe = true, want false")
	}
	if got := g.Evaluate("weaponry brand"); !got.IsSafe {
		t.Fatalf("IsSafe = false, want true for word-boundary pattern")
	}

	if _, err := NewPatternGate([]string{"("}); err == nil {
		t.Fatalf("NewPatternGate() expected compile error")
	}
}

func TestParseEnforcement(t *testing.T) {
	cases := map[string]Enforcement{
		"":      EnforceLog,
		"log":   EnforceLog,
		"BLOCK": EnforceBlock,
	}
	for in, want := range cases {
		got, err := ParseEnforcement(in)
		if err != nil {
			t.Fatalf("ParseEnforcement(%q) error = %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseEnforcement(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := ParseEnforcement("warn"); err == nil {
		t.Fatalf("ParseEnforcement(warn) expected error")
	}
}

func TestGatesFirstBlockWins(t *testing.T) {
	pattern, err := NewPatternGate([]string{`\bponzi\b`})
	if err != nil {
		t.Fatalf("NewPatternGate() error = %v", err)
	}
	gates := Gates{NewKeywordGate([]string{"cartel"}), pattern}

	if v := gates.Evaluate("a ponzi scheme logo"); v.IsSafe || v.Reason != ReasonBlocked {
		t.Fatalf("Evaluate(ponzi) = %+v, want blocked", v)
	}
	if v := gates.Evaluate("cartel chic"); v.IsSafe || v.Matched != "cartel" {
		t.Fatalf("Evaluate(cartel) = %+v, want blocked by keyword", v)
	}
	if v := gates.Evaluate("blue and gold"); !v.IsSafe || v.Reason != ReasonOK {
		t.Fatalf("Evaluate(safe) = %+v, want safe", v)
	}
}

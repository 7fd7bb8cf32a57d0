package policy

import (
	"strings"
	"testing"
)

func TestRedact(t *testing.T) {
	cases := []struct {
		name   string
		input  string
		counts map[string]int
		keep   string
	}{
		{
			name:   "mixed",
			input:  "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242.",
			counts: map[string]int{PIIEmail: 1, PIIPhone: 1, PIICard: 1},
		},
		{
			name:   "iban",
			input:  "Wire it to DE89 3704 0044 0532 0130 00 please",
			counts: map[string]int{PIIIBAN: 1},
			keep:   "please",
		},
		{
			name:   "non luhn digits fall through to phone",
			input:  "order 1234 5678 9012 3456",
			counts: map[string]int{PIIPhone: 1},
		},
		{
			name:  "clean",
			input: "Solace is a calm tea brand for 2025",
			keep:  "Solace is a calm tea brand for 2025",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := Redact(tc.input)
			if r.Changed() != (len(tc.counts) > 0) {
				t.Fatalf("Changed() = %v, want %v (%q)", r.Changed(), len(tc.counts) > 0, r.Text)
			}
			if len(r.Counts) != len(tc.counts) {
				t.Fatalf("Counts = %v, want %v (%q)", r.Counts, tc.counts, r.Text)
			}
			for kind, n := range tc.counts {
				if r.Counts[kind] != n {
					t.Fatalf("Counts[%s] = %d, want %d (%q)", kind, r.Counts[kind], n, r.Text)
				}
				if marker := "[REDACTED_" + strings.ToUpper(kind) + "]"; !strings.Contains(r.Text, marker) {
					t.Fatalf("output missing marker %q: %q", marker, r.Text)
				}
			}
			if tc.keep != "" && !strings.Contains(r.Text, tc.keep) {
				t.Fatalf("output %q lost %q", r.Text, tc.keep)
			}
		})
	}
}

func TestLuhnValid(t *testing.T) {
	if !luhnValid("4242-4242-4242-4242") {
		t.Fatalf("luhnValid(test card) = false, want true")
	}
	if luhnValid("4242 4242 4242 4241") {
		t.Fatalf("luhnValid(bad check digit) = true, want false")
	}
}

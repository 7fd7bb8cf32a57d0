package policy

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	ReasonOK      = "OK"
	ReasonBlocked = "Blocked due to banned phrase."
)

// Verdict is the outcome of evaluating one input. It is not persisted.
type Verdict struct {
	IsSafe        bool   `json:"is_safe"`
	Reason        string `json:"reason"`
	OriginalInput string `json:"original_input"`
	Matched       string `json:"matched,omitempty"`
}

// Gate classifies raw user input as safe or blocked.
type Gate interface {
	Evaluate(input string) Verdict
}

// DefaultBannedPhrases covers political, violent, drug-related and criminal topics.
var DefaultBannedPhrases = []string{
	"president", "election", "government", "politics", "campaign", "senator", "parliament",
	"kill", "murder", "weapon", "violence", "how to kill", "plan to kill", "kill a", "shoot", "stab",
	"drugs", "cocaine", "heroin", "weed", "meth", "hasj", "hash", "coke", "crack",
	"crime", "criminal", "jail", "prison", "steal", "cartel", "smuggle", "rape", "kidnap",
	"money laundering", "launder money",
}

// KeywordGate blocks any input containing one of its phrases, case-insensitively.
// Matching is plain substring: "skill" contains "kill" and is blocked.
type KeywordGate struct {
	phrases []string
}

func NewKeywordGate(phrases []string) *KeywordGate {
	seen := make(map[string]struct{}, len(phrases))
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return &KeywordGate{phrases: out}
}

// Phrases returns a copy of the normalized phrase set.
func (g *KeywordGate) Phrases() []string {
	out := make([]string, len(g.phrases))
	copy(out, g.phrases)
	return out
}

func (g *KeywordGate) Evaluate(input string) Verdict {
	lowered := strings.ToLower(input)
	for _, phrase := range g.phrases {
		if strings.Contains(lowered, phrase) {
			return blocked(input, phrase)
		}
	}
	return safe(input)
}

// PatternGate blocks input matching any of its regular expressions.
type PatternGate struct {
	patterns []*regexp.Regexp
}

func NewPatternGate(exprs []string) (*PatternGate, error) {
	patterns := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			continue
		}
		if !strings.HasPrefix(expr, "(?i)") {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", expr, err)
		}
		patterns = append(patterns, re)
	}
	return &PatternGate{patterns: patterns}, nil
}

func (g *PatternGate) Evaluate(input string) Verdict {
	for _, re := range g.patterns {
		if m := re.FindString(input); m != "" {
			return blocked(input, strings.ToLower(m))
		}
	}
	return safe(input)
}

// Gates evaluates each gate in order and returns the first blocking verdict.
type Gates []Gate

func (gs Gates) Evaluate(input string) Verdict {
	for _, g := range gs {
		if v := g.Evaluate(input); !v.IsSafe {
			return v
		}
	}
	return safe(input)
}

// Enforcement decides what the pipeline does with a blocked verdict.
type Enforcement string

const (
	// EnforceLog records the verdict and lets the message through.
	EnforceLog Enforcement = "log"
	// EnforceBlock refuses the message without touching the transcript.
	EnforceBlock Enforcement = "block"
)

func ParseEnforcement(v string) (Enforcement, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", string(EnforceLog):
		return EnforceLog, nil
	case string(EnforceBlock):
		return EnforceBlock, nil
	default:
		return "", fmt.Errorf("unsupported safety enforcement %q (expected log|block)", v)
	}
}

func safe(input string) Verdict {
	return Verdict{IsSafe: true, Reason: ReasonOK, OriginalInput: input}
}

func blocked(input, matched string) Verdict {
	return Verdict{IsSafe: false, Reason: ReasonBlocked, OriginalInput: input, Matched: matched}
}

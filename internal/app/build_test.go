package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ent0n29/brandely/internal/config"
	"github.com/ent0n29/brandely/internal/llm"
	"github.com/ent0n29/brandely/internal/policy"
	"github.com/ent0n29/brandely/internal/stream"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		BindAddr:          ":0",
		MetricsNamespace:  "brandely_app_test",
		LLMMode:           "mock",
		MaxHistoryTurns:   4,
		ContextTurns:      4,
		RequestTimeout:    time.Second,
		SafetyEnforcement: policy.EnforceLog,
		StreamMode:        stream.ModeWhole,
	}
}

func TestBuildWiresMockPipeline(t *testing.T) {
	cfg := testConfig(t)
	cfg.DatabaseURL = "sqlite://" + filepath.Join(t.TempDir(), "archive.db")

	res, err := Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if res.Provider != "mock" || res.Archive.Mode() != "sqlite" {
		t.Fatalf("provider=%q archive=%q, want mock/sqlite", res.Provider, res.Archive.Mode())
	}

	for i := 0; i < 3; i++ {
		if _, err := res.Chat.HandleMessage(context.Background(), "s1", "hello"); err != nil {
			t.Fatalf("HandleMessage() error = %v", err)
		}
	}
	if n := res.Store.Len("s1"); n != 4 {
		t.Fatalf("Len = %d, want trimmed to 4", n)
	}
	if err := res.Cleanup(); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
}

func TestBuildRequiresOpenAIKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLMMode = "openai"
	_, err := Build(context.Background(), cfg, nil)
	if !errors.Is(err, llm.ErrMissingCredential) {
		t.Fatalf("Build() error = %v, want ErrMissingCredential", err)
	}
}

func TestBuildGateWithPatterns(t *testing.T) {
	cfg := testConfig(t)
	cfg.BannedPhrases = []string{"cartel"}
	cfg.SafetyPatterns = []string{`\bponzi\b`}

	gate, err := BuildGate(cfg)
	if err != nil {
		t.Fatalf("BuildGate() error = %v", err)
	}
	if gate.Evaluate("ponzi").IsSafe || gate.Evaluate("cartel").IsSafe {
		t.Fatalf("gate let a configured phrase through")
	}
	if !gate.Evaluate("president").IsSafe {
		t.Fatalf("configured phrases should replace the defaults")
	}

	cfg.SafetyPatterns = []string{"("}
	if _, err := BuildGate(cfg); err == nil {
		t.Fatalf("BuildGate() expected pattern error")
	}
}

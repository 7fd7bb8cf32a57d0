package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/brandely/internal/app"
	"github.com/ent0n29/brandely/internal/config"
	"github.com/ent0n29/brandely/internal/policy"
	"github.com/ent0n29/brandely/internal/stream"
)

func TestWSURLForSession(t *testing.T) {
	got, err := wsURLForSession("https://brandely.example/api/", "s 1")
	if err != nil {
		t.Fatalf("wsURLForSession() error = %v", err)
	}
	want := "wss://brandely.example/api/v1/chat/ws?session_id=s+1"
	if got != want {
		t.Fatalf("wsURLForSession() = %q, want %q", got, want)
	}
	if _, err := wsURLForSession("ftp://x", "s"); err == nil {
		t.Fatalf("wsURLForSession(ftp) expected error")
	}
}

func TestPercentile(t *testing.T) {
	values := []time.Duration{5 * time.Millisecond, time.Millisecond, 3 * time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}
	if got := percentile(values, 50); got != 3*time.Millisecond {
		t.Fatalf("p50 = %s, want 3ms", got)
	}
	if got := percentile(values, 95); got != 5*time.Millisecond {
		t.Fatalf("p95 = %s, want 5ms", got)
	}
	if got := percentile(nil, 95); got != 0 {
		t.Fatalf("percentile(nil) = %s, want 0", got)
	}
}

func TestRunAgainstMockServer(t *testing.T) {
	built, err := app.Build(context.Background(), config.Config{
		MetricsNamespace:  "perfchat_test",
		LLMMode:           "mock",
		MaxHistoryTurns:   40,
		RequestTimeout:    time.Second,
		SafetyEnforcement: policy.EnforceLog,
		StreamMode:        stream.ModeWord,
	}, nil)
	if err != nil {
		t.Fatalf("app.Build() error = %v", err)
	}
	defer built.Cleanup()
	ts := httptest.NewServer(built.API.Router())
	defer ts.Close()

	opts := options{baseURL: ts.URL, turns: 3}
	if err := opts.normalize("hello|palette ideas"); err != nil {
		t.Fatalf("normalize() error = %v", err)
	}
	var out bytes.Buffer
	samples, err := run(context.Background(), opts, &out)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("len(samples) = %d, want 3", len(samples))
	}
	for _, s := range samples {
		if s.Reason != "completed" || s.FirstDelta <= 0 {
			t.Fatalf("unexpected sample: %+v", s)
		}
	}
	printSummary(&out, samples)
	if !strings.Contains(out.String(), "turn_total") {
		t.Fatalf("summary missing: %s", out.String())
	}
}

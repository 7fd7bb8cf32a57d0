package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ent0n29/brandely/internal/conversation"
)

func TestOpenAIInvokerStreams(t *testing.T) {
	var gotMessages []map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Model    string           `json:"model"`
			Stream   bool             `json:"stream"`
			Messages []map[string]any `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotMessages = body.Messages

		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Solace ", "is lovely."} {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":%q,\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", body.Model, part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer ts.Close()

	inv := NewOpenAIInvoker("sk-test", ts.URL)
	var deltas []string
	resp, err := inv.Complete(context.Background(), Request{
		SystemPrompt: "You are Brandely.",
		Turns:        []conversation.Turn{{Role: conversation.RoleUser, Content: "My brand is Solace"}},
		Temperature:  0.7,
	}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Text != "Solace is lovely." {
		t.Fatalf("resp.Text = %q", resp.Text)
	}
	if len(deltas) != 2 {
		t.Fatalf("deltas = %q, want 2", deltas)
	}
	if len(gotMessages) != 2 || gotMessages[0]["role"] != "system" || gotMessages[1]["role"] != "user" {
		t.Fatalf("unexpected messages: %+v", gotMessages)
	}
}

func TestOpenAIInvokerStatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer ts.Close()

	_, err := NewOpenAIInvoker("sk-test", ts.URL).Complete(context.Background(), Request{}, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("StatusCode = %d, want %d", se.StatusCode, http.StatusTooManyRequests)
	}
}

func TestOpenAIInvokerSendsZeroTemperature(t *testing.T) {
	var body map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"ok\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer ts.Close()

	_, err := NewOpenAIInvoker("sk-test", ts.URL).Complete(context.Background(), Request{
		Turns:       []conversation.Turn{{Role: conversation.RoleUser, Content: "hi"}},
		Temperature: 0,
	}, nil)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	got, ok := body["temperature"].(float64)
	if !ok {
		t.Fatalf("request body temperature = %v, want a number", body["temperature"])
	}
	if got > 1e-6 {
		t.Fatalf("temperature = %v, want ~0", got)
	}
}

// Package llm is the boundary to the language-model provider that writes
// assistant replies.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/brandely/internal/conversation"
)

var ErrMissingCredential = errors.New("llm provider credential is not configured")

// Request is the normalized completion request.
type Request struct {
	SessionID    string              `json:"session_id"`
	SystemPrompt string              `json:"system_prompt"`
	Turns        []conversation.Turn `json:"messages"`
	Model        string              `json:"model,omitempty"`
	Temperature  float64             `json:"temperature"`
}

// Response is the final reply after all deltas were delivered.
type Response struct {
	Text string `json:"text"`
}

// DeltaHandler receives streamed text fragments in order.
type DeltaHandler func(delta string) error

// Invoker produces one assistant reply per call. Callers do not retry.
type Invoker interface {
	Complete(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error)
}

// StatusError reports a non-2xx answer from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s http status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s http status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Config controls invoker construction.
type Config struct {
	Mode             string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	HTTPURL          string
	HTTPStreamStrict bool
}

func NewInvoker(cfg Config) (Invoker, string, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
			return NewOpenAIInvoker(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL), "openai", nil
		}
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPInvoker(cfg.HTTPURL, cfg.HTTPStreamStrict), "http", nil
		}
		return NewMockInvoker(), "mock", nil
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, "", fmt.Errorf("openai mode: %w (set OPENAI_API_KEY)", ErrMissingCredential)
		}
		return NewOpenAIInvoker(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL), "openai", nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, "", errors.New("llm HTTP url is required for http mode")
		}
		return NewHTTPInvoker(cfg.HTTPURL, cfg.HTTPStreamStrict), "http", nil
	case "mock":
		return NewMockInvoker(), "mock", nil
	default:
		return nil, "", fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
}

// HTTPStatus exposes the upstream status code for error classification.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

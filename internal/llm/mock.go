package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/brandely/internal/conversation"
)

// MockInvoker gives deterministic replies when no provider is configured.
type MockInvoker struct{}

func NewMockInvoker() *MockInvoker { return &MockInvoker{} }

func (m *MockInvoker) Complete(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	text := buildMockReply(req)
	if onDelta != nil && text != "" {
		if err := onDelta(text); err != nil {
			return Response{}, err
		}
	}
	return Response{Text: text}, nil
}

func buildMockReply(req Request) string {
	var last, earlier string
	for i := len(req.Turns) - 1; i >= 0; i-- {
		if req.Turns[i].Role != conversation.RoleUser {
			continue
		}
		if last == "" {
			last = strings.TrimSpace(req.Turns[i].Content)
			continue
		}
		earlier = strings.TrimSpace(req.Turns[i].Content)
		break
	}
	if last == "" {
		last = "Tell me about your brand."
	}
	if earlier == "" {
		return fmt.Sprintf("I heard you: %s", last)
	}
	return fmt.Sprintf("I heard you: %s\nI also remember: %s", last, earlier)
}

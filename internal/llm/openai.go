package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ent0n29/brandely/internal/conversation"
)

const DefaultOpenAIModel = openai.GPT4oMini

// OpenAIInvoker streams chat completions from the OpenAI API or any
// compatible base URL.
type OpenAIInvoker struct {
	client *openai.Client
}

func NewOpenAIInvoker(apiKey, baseURL string) *OpenAIInvoker {
	cfg := openai.DefaultConfig(strings.TrimSpace(apiKey))
	if u := strings.TrimSpace(baseURL); u != "" {
		cfg.BaseURL = strings.TrimRight(u, "/")
	}
	return &OpenAIInvoker{client: openai.NewClientWithConfig(cfg)}
}

func (a *OpenAIInvoker) Complete(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = DefaultOpenAIModel
	}

	stream, err := a.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(req),
		Temperature: openAITemperature(req.Temperature),
		Stream:      true,
	})
	if err != nil {
		return Response{}, wrapOpenAIError(err)
	}
	defer stream.Close()

	var out strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Response{}, wrapOpenAIError(err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if err := emit(&out, chunk.Choices[0].Delta.Content, onDelta); err != nil {
			return Response{}, err
		}
	}
	return Response{Text: out.String()}, nil
}

// openAITemperature keeps a configured 0 on the wire. The request field is
// omitempty, so a literal zero would fall back to the provider default.
func openAITemperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

func toOpenAIMessages(req Request) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Turns)+1)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, t := range req.Turns {
		role := openai.ChatMessageRoleUser
		if t.Role == conversation.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	return msgs
}

func wrapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &StatusError{Provider: "openai", StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &StatusError{Provider: "openai", StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return fmt.Errorf("openai completion: %w", err)
}

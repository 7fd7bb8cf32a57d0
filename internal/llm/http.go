package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPInvoker posts requests to a completion endpoint that answers with JSON,
// plain text, server-sent events or NDJSON.
type HTTPInvoker struct {
	url    string
	strict bool
	client *http.Client
}

type httpMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type httpPayload struct {
	SessionID    string        `json:"session_id,omitempty"`
	SystemPrompt string        `json:"system_prompt"`
	Messages     []httpMessage `json:"messages"`
	Model        string        `json:"model,omitempty"`
	Temperature  float64       `json:"temperature"`
}

// NewHTTPInvoker builds an invoker. With strict set, undecodable stream frames
// are errors instead of being forwarded as raw text.
func NewHTTPInvoker(url string, strict bool) *HTTPInvoker {
	return &HTTPInvoker{
		url:    strings.TrimSpace(url),
		strict: strict,
		client: &http.Client{
			// Overall deadline comes from the caller's context.
			Timeout: 0,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (a *HTTPInvoker) Complete(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	p := httpPayload{
		SessionID:    req.SessionID,
		SystemPrompt: req.SystemPrompt,
		Messages:     make([]httpMessage, 0, len(req.Turns)),
		Model:        req.Model,
		Temperature:  req.Temperature,
	}
	for _, t := range req.Turns {
		p.Messages = append(p.Messages, httpMessage{Role: string(t.Role), Content: t.Content})
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream, application/x-ndjson, application/json")

	res, err := a.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Response{}, &StatusError{Provider: "http", StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	switch {
	case strings.Contains(ct, "text/event-stream"):
		return a.consumeSSE(res.Body, onDelta)
	case strings.Contains(ct, "application/x-ndjson"):
		return a.consumeNDJSON(res.Body, onDelta)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	var obj map[string]any
	text := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &obj); err == nil {
		text = extractText(obj)
	}
	if text != "" && onDelta != nil {
		if err := onDelta(text); err != nil {
			return Response{}, err
		}
	}
	return Response{Text: text}, nil
}

func (a *HTTPInvoker) consumeSSE(body io.Reader, onDelta DeltaHandler) (Response, error) {
	scanner := newLineScanner(body)
	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		delta, err := a.decodeFrame(data)
		if err != nil {
			return Response{}, err
		}
		if err := emit(&out, delta, onDelta); err != nil {
			return Response{}, err
		}
	}
	if err := scanner.Err(); err != nil {
		return Response{}, fmt.Errorf("stream read: %w", err)
	}
	return Response{Text: out.String()}, nil
}

func (a *HTTPInvoker) consumeNDJSON(body io.Reader, onDelta DeltaHandler) (Response, error) {
	scanner := newLineScanner(body)
	var out strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.TrimSpace(line) == "[DONE]" {
			break
		}
		delta, err := a.decodeFrame(line)
		if err != nil {
			return Response{}, err
		}
		if err := emit(&out, delta, onDelta); err != nil {
			return Response{}, err
		}
	}
	if err := scanner.Err(); err != nil {
		return Response{}, fmt.Errorf("stream read: %w", err)
	}
	return Response{Text: out.String()}, nil
}

func (a *HTTPInvoker) decodeFrame(frame string) (string, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(frame)), &obj); err != nil {
		if a.strict {
			return "", fmt.Errorf("decode stream frame: %w", err)
		}
		return frame, nil
	}
	return extractText(obj), nil
}

func emit(out *strings.Builder, delta string, onDelta DeltaHandler) error {
	if delta == "" {
		return nil
	}
	out.WriteString(delta)
	if onDelta != nil {
		return onDelta(delta)
	}
	return nil
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return scanner
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "delta", "output", "reply", "message"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// Command perfchat replays chat turns over the websocket API and reports
// first-delta and turn latency.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/ent0n29/brandely/internal/protocol"
)

type options struct {
	baseURL        string
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type wsEnvelope struct {
	Type      string `json:"type"`
	TurnID    string `json:"turn_id,omitempty"`
	Code      string `json:"code,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Reason    string `json:"reason,omitempty"`
	TextDelta string `json:"text_delta,omitempty"`
}

type turnSample struct {
	FirstDelta time.Duration
	Total      time.Duration
	Reason     string
}

var defaultUtterances = []string{
	"My brand is Solace, a calming tea company.",
	"Who are we talking to? Busy professionals who want a quiet moment.",
	"Suggest a color palette with HEX codes.",
	"Which Google Fonts would fit?",
}

func main() {
	if err := rootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "perfchat: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd(out io.Writer) *cobra.Command {
	var opts options
	var textsRaw string
	cmd := &cobra.Command{
		Use:          "perfchat",
		Short:        "Replay chat turns against a running Brandely server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.normalize(textsRaw); err != nil {
				return err
			}
			samples, err := run(cmd.Context(), opts, out)
			if err != nil {
				return err
			}
			printSummary(out, samples)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.baseURL, "base-url", "http://127.0.0.1:8080", "Brandely base URL")
	f.IntVar(&opts.turns, "turns", 8, "number of turns to replay")
	f.DurationVar(&opts.interTurnDelay, "inter-turn", 200*time.Millisecond, "delay between turns")
	f.DurationVar(&opts.turnTimeout, "turn-timeout", 90*time.Second, "timeout waiting for assistant_turn_end per turn")
	f.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	f.BoolVar(&opts.verbose, "verbose", true, "print replay progress")
	return cmd
}

func (o *options) normalize(textsRaw string) error {
	o.baseURL = strings.TrimRight(strings.TrimSpace(o.baseURL), "/")
	if o.baseURL == "" {
		return fmt.Errorf("base-url is required")
	}
	if o.turns <= 0 {
		return fmt.Errorf("turns must be > 0")
	}
	if o.interTurnDelay < 0 {
		o.interTurnDelay = 0
	}
	if o.turnTimeout < time.Second {
		o.turnTimeout = time.Second
	}
	o.texts = nil
	for _, part := range strings.Split(textsRaw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			o.texts = append(o.texts, t)
		}
	}
	if len(o.texts) == 0 {
		o.texts = append([]string(nil), defaultUtterances...)
	}
	return nil
}

func run(ctx context.Context, opts options, out io.Writer) ([]turnSample, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	sessionID, err := createSession(ctx, httpClient, opts.baseURL)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if opts.verbose {
		fmt.Fprintf(out, "perfchat: session=%s turns=%d\n", sessionID, opts.turns)
	}

	wsURL, err := wsURLForSession(opts.baseURL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	events := make(chan wsEnvelope, 256)
	readErrCh := make(chan error, 1)
	go readLoop(conn, events, readErrCh)

	samples := make([]turnSample, 0, opts.turns)
	for i := 0; i < opts.turns; i++ {
		text := opts.texts[i%len(opts.texts)]
		if opts.verbose {
			fmt.Fprintf(out, "perfchat: turn %d/%d text=%q\n", i+1, opts.turns, text)
		}
		sent := time.Now()
		msg := protocol.UserMessage{
			Type:      protocol.TypeUserMessage,
			SessionID: sessionID,
			Text:      text,
			TSMs:      sent.UnixMilli(),
		}
		if err := conn.WriteJSON(msg); err != nil {
			return samples, fmt.Errorf("turn %d send: %w", i+1, err)
		}
		sample, err := awaitTurnEnd(events, readErrCh, sent, opts.turnTimeout, out, opts.verbose)
		if err != nil {
			return samples, fmt.Errorf("turn %d await assistant_turn_end: %w", i+1, err)
		}
		samples = append(samples, sample)
		if opts.interTurnDelay > 0 && i < opts.turns-1 {
			time.Sleep(opts.interTurnDelay)
		}
	}
	return samples, nil
}

func createSession(ctx context.Context, client *http.Client, baseURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/chat/sessions", nil)
	if err != nil {
		return "", err
	}
	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var created createSessionResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return "", err
	}
	if strings.TrimSpace(created.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return created.SessionID, nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/chat/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, events chan<- wsEnvelope, readErrCh chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		events <- env
	}
}

func awaitTurnEnd(events <-chan wsEnvelope, readErrCh <-chan error, sent time.Time, timeout time.Duration, out io.Writer, verbose bool) (turnSample, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	var sample turnSample
	for {
		select {
		case env := <-events:
			switch protocol.MessageType(env.Type) {
			case protocol.TypeAssistantTextDelta:
				if sample.FirstDelta == 0 {
					sample.FirstDelta = time.Since(sent)
				}
			case protocol.TypeErrorEvent:
				if verbose {
					fmt.Fprintf(out, "perfchat: error_event code=%s detail=%s\n", env.Code, env.Detail)
				}
			case protocol.TypeAssistantTurnEnd:
				sample.Total = time.Since(sent)
				sample.Reason = env.Reason
				return sample, nil
			}
		case err := <-readErrCh:
			return sample, err
		case <-timer.C:
			return sample, fmt.Errorf("timeout after %s", timeout)
		}
	}
}

func printSummary(out io.Writer, samples []turnSample) {
	if len(samples) == 0 {
		fmt.Fprintln(out, "perfchat: no samples")
		return
	}
	var first, total []time.Duration
	reasons := map[string]int{}
	for _, s := range samples {
		if s.FirstDelta > 0 {
			first = append(first, s.FirstDelta)
		}
		total = append(total, s.Total)
		reasons[s.Reason]++
	}
	fmt.Fprintf(out, "perfchat: turns=%d reasons=%v\n", len(samples), reasons)
	fmt.Fprintf(out, "perfchat: first_delta p50=%s p95=%s\n", percentile(first, 50), percentile(first, 95))
	fmt.Fprintf(out, "perfchat: turn_total  p50=%s p95=%s\n", percentile(total, 50), percentile(total, 95))
}

// percentile uses nearest-rank on a sorted copy.
func percentile(values []time.Duration, p float64) time.Duration {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rank := int(p/100*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank].Round(time.Millisecond)
}

// Package chat runs one user message through the safety gate, the session
// transcript and the completion provider.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ent0n29/brandely/internal/archive"
	"github.com/ent0n29/brandely/internal/conversation"
	"github.com/ent0n29/brandely/internal/llm"
	"github.com/ent0n29/brandely/internal/logging"
	"github.com/ent0n29/brandely/internal/observability"
	"github.com/ent0n29/brandely/internal/policy"
	"github.com/ent0n29/brandely/internal/reliability"
	"github.com/ent0n29/brandely/internal/session"
)

const (
	DefaultRequestTimeout = 60 * time.Second
	DefaultRefusal        = "I'm here to help with branding, so I can't discuss that topic. Shall we get back to your brand?"

	archiveSaveTimeout = 2 * time.Second
)

type Config struct {
	Model           string
	Temperature     float64
	MaxHistoryTurns int
	// ContextTurns caps how many recent turns are sent to the provider.
	// Zero means MaxHistoryTurns.
	ContextTurns   int
	RequestTimeout time.Duration
	Enforcement    policy.Enforcement
	RefusalMessage string
	SystemPrompt   string
}

func (c Config) withDefaults() Config {
	if c.MaxHistoryTurns <= 0 {
		c.MaxHistoryTurns = conversation.DefaultMaxTurns
	}
	if c.ContextTurns <= 0 || c.ContextTurns > c.MaxHistoryTurns {
		c.ContextTurns = c.MaxHistoryTurns
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.Enforcement == "" {
		c.Enforcement = policy.EnforceLog
	}
	if strings.TrimSpace(c.RefusalMessage) == "" {
		c.RefusalMessage = DefaultRefusal
	}
	if strings.TrimSpace(c.SystemPrompt) == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	return c
}

// Deps are the collaborators of a Service. Gate, Store and Invoker are
// required; the rest fall back to in-process defaults.
type Deps struct {
	Gate     policy.Gate
	Store    conversation.Store
	Invoker  llm.Invoker
	Provider string
	Sessions *session.Manager
	Archive  archive.Store
	Metrics  *observability.Metrics
	Logger   *zap.Logger
}

// Reply is the outcome of one handled message.
type Reply struct {
	SessionID string
	TurnID    string
	Text      string
	Blocked   bool
	Verdict   policy.Verdict
}

type Service struct {
	cfg      Config
	gate     policy.Gate
	store    conversation.Store
	invoker  llm.Invoker
	provider string
	sessions *session.Manager
	archive  archive.Store
	metrics  *observability.Metrics
	logger   *zap.Logger

	pending sync.WaitGroup
}

func NewService(cfg Config, deps Deps) (*Service, error) {
	if deps.Gate == nil {
		return nil, errors.New("chat: safety gate is required")
	}
	if deps.Store == nil {
		return nil, errors.New("chat: conversation store is required")
	}
	if deps.Invoker == nil {
		return nil, errors.New("chat: completion invoker is required")
	}
	enforcement, err := policy.ParseEnforcement(string(cfg.Enforcement))
	if err != nil {
		return nil, err
	}
	cfg.Enforcement = enforcement
	if deps.Sessions == nil {
		deps.Sessions = session.NewManager(0)
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewMetrics("brandely")
	}
	if strings.TrimSpace(deps.Provider) == "" {
		deps.Provider = "unknown"
	}
	return &Service{
		cfg:      cfg.withDefaults(),
		gate:     deps.Gate,
		store:    deps.Store,
		invoker:  deps.Invoker,
		provider: deps.Provider,
		sessions: deps.Sessions,
		archive:  deps.Archive,
		metrics:  deps.Metrics,
		logger:   logging.OrNop(deps.Logger).Named("chat"),
	}, nil
}

func (s *Service) Config() Config             { return s.cfg }
func (s *Service) Provider() string           { return s.provider }
func (s *Service) Sessions() *session.Manager { return s.sessions }

// Evaluate runs the safety gate without touching any session.
func (s *Service) Evaluate(text string) policy.Verdict {
	return s.gate.Evaluate(text)
}

// Transcript returns a copy of the stored turns for sessionID.
func (s *Service) Transcript(sessionID string) []conversation.Turn {
	return s.store.Transcript(sessionID)
}

// DefaultArchiveLimit caps Archived when the caller passes no limit.
const DefaultArchiveLimit = 50

// Archived returns the most recent archived turns for sessionID, oldest
// first. Content is stored with PII redacted.
func (s *Service) Archived(ctx context.Context, sessionID string, limit int) ([]archive.Record, error) {
	if s.archive == nil {
		return nil, ErrArchiveDisabled
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrMissingSession
	}
	if limit <= 0 {
		limit = DefaultArchiveLimit
	}
	records, err := s.archive.RecentTurns(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	if records == nil {
		records = []archive.Record{}
	}
	return records, nil
}

// HandleMessage processes one user message and returns the assistant reply.
func (s *Service) HandleMessage(ctx context.Context, sessionID, text string) (Reply, error) {
	return s.HandleMessageStream(ctx, sessionID, text, nil)
}

// HandleMessageStream is HandleMessage with provider deltas forwarded to
// onDelta as they arrive. Messages for the same session are processed one at
// a time in arrival order.
func (s *Service) HandleMessageStream(ctx context.Context, sessionID, text string, onDelta llm.DeltaHandler) (Reply, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Reply{}, ErrMissingSession
	}
	if strings.TrimSpace(text) == "" {
		return Reply{}, ErrEmptyMessage
	}

	started := time.Now()
	turnID := uuid.NewString()
	log := s.logger.With(zap.String("session_id", sessionID), zap.String("turn_id", turnID))

	verdict := s.gate.Evaluate(text)
	s.metrics.ObserveStage(observability.StageGate, "", time.Since(started))
	s.observeVerdict(verdict)
	reply := Reply{SessionID: sessionID, TurnID: turnID, Verdict: verdict}

	if !verdict.IsSafe {
		log.Warn("safety gate flagged message",
			zap.String("matched", verdict.Matched),
			zap.String("enforcement", string(s.cfg.Enforcement)),
		)
		if s.cfg.Enforcement == policy.EnforceBlock {
			s.sessions.Ensure(sessionID)
			_ = s.sessions.Record(sessionID, session.OutcomeBlocked)
			s.metrics.TurnOutcomes.WithLabelValues(string(session.OutcomeBlocked)).Inc()
			s.metrics.ObserveTurn(observability.TurnSample{
				Provider: s.provider,
				Outcome:  observability.OutcomeBlocked,
				Flagged:  true,
			})
			reply.Blocked = true
			reply.Text = s.cfg.RefusalMessage
			return reply, nil
		}
	}

	release, err := s.sessions.Acquire(ctx, sessionID)
	if err != nil {
		return Reply{}, err
	}
	defer release()

	userTurn, err := s.store.AppendUserTurn(sessionID, text)
	if err != nil {
		return Reply{}, err
	}
	s.saveTurnBestEffort(sessionID, turnID, userTurn)

	req := llm.Request{
		SessionID:    sessionID,
		SystemPrompt: s.cfg.SystemPrompt,
		Turns:        s.store.Context(sessionID, s.cfg.ContextTurns),
		Model:        s.cfg.Model,
		Temperature:  s.cfg.Temperature,
	}
	s.metrics.ObserveStage(observability.StageContextReady, "", time.Since(started))

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	callStarted := time.Now()
	var firstDelta sync.Once
	resp, err := s.invoker.Complete(callCtx, req, func(delta string) error {
		firstDelta.Do(func() {
			s.metrics.ObserveStage(observability.StageFirstDelta, s.provider, time.Since(callStarted))
		})
		if onDelta == nil {
			return nil
		}
		return onDelta(delta)
	})
	s.metrics.ObserveCompletionLatency(s.provider, time.Since(callStarted))
	if err == nil && strings.TrimSpace(resp.Text) == "" {
		err = errEmptyCompletion
	}
	if err != nil {
		turnErr := s.turnError(ctx, callCtx, sessionID, turnID, err)
		_ = s.sessions.Record(sessionID, session.OutcomeFailed)
		s.metrics.TurnOutcomes.WithLabelValues(string(session.OutcomeFailed)).Inc()
		s.metrics.ProviderErrors.WithLabelValues(s.provider, turnErr.Class.Code).Inc()
		outcome := observability.OutcomeFailed
		if errors.Is(turnErr, ErrTimeout) {
			outcome = observability.OutcomeTimedOut
		}
		s.metrics.ObserveTurn(observability.TurnSample{
			Provider: s.provider,
			Outcome:  outcome,
			Flagged:  !verdict.IsSafe,
		})
		log.Error("completion failed",
			zap.String("provider", s.provider),
			zap.String("code", turnErr.Class.Code),
			zap.Error(err),
		)
		return Reply{}, turnErr
	}

	assistantTurn, err := s.store.AppendAssistantTurn(sessionID, resp.Text)
	if err != nil {
		return Reply{}, err
	}
	s.saveTurnBestEffort(sessionID, turnID, assistantTurn)
	_ = s.sessions.Record(sessionID, session.OutcomeReplied)
	s.metrics.TurnOutcomes.WithLabelValues(string(session.OutcomeReplied)).Inc()
	s.metrics.ObserveTurn(observability.TurnSample{
		Provider: s.provider,
		Outcome:  observability.OutcomeReplied,
		Flagged:  !verdict.IsSafe,
		Total:    time.Since(started),
	})

	log.Debug("turn completed",
		zap.Int("context_turns", len(req.Turns)),
		zap.Duration("elapsed", time.Since(started)),
	)
	reply.Text = resp.Text
	return reply, nil
}

// Wait blocks until queued archive writes finish.
func (s *Service) Wait() {
	s.pending.Wait()
}

func (s *Service) turnError(parent, callCtx context.Context, sessionID, turnID string, err error) *TurnError {
	kind := ErrProvider
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		kind = ErrTimeout
		err = errors.Join(err, context.DeadlineExceeded)
	}
	return &TurnError{
		SessionID: sessionID,
		TurnID:    turnID,
		Kind:      kind,
		Class:     reliability.Classify(err),
		Err:       err,
	}
}

func (s *Service) observeVerdict(v policy.Verdict) {
	result := "safe"
	if !v.IsSafe {
		result = "unsafe"
	}
	s.metrics.SafetyVerdicts.WithLabelValues(result, string(s.cfg.Enforcement)).Inc()
}

func (s *Service) saveTurnBestEffort(sessionID, turnID string, turn conversation.Turn) {
	if s.archive == nil {
		return
	}
	redacted := policy.Redact(turn.Content)
	if redacted.Changed() {
		s.logger.Debug("pii redacted before archive",
			zap.String("session_id", sessionID),
			zap.Any("kinds", redacted.Counts),
		)
	}
	record := archive.Record{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		TurnID:      turnID,
		Role:        string(turn.Role),
		Content:     redacted.Text,
		PIIRedacted: redacted.Changed(),
		CreatedAt:   turn.CreatedAt,
	}
	s.pending.Add(1)
	go func(r archive.Record) {
		defer s.pending.Done()
		saveCtx, cancel := context.WithTimeout(context.Background(), archiveSaveTimeout)
		defer cancel()
		if err := s.archive.SaveTurn(saveCtx, r); err != nil {
			s.metrics.SessionEvents.WithLabelValues("archive_save_failed").Inc()
			s.logger.Warn("archive save failed", zap.String("session_id", r.SessionID), zap.Error(err))
		}
	}(record)
}

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/brandely/internal/archive"
	"github.com/ent0n29/brandely/internal/chat"
	"github.com/ent0n29/brandely/internal/config"
	"github.com/ent0n29/brandely/internal/conversation"
	"github.com/ent0n29/brandely/internal/logging"
	"github.com/ent0n29/brandely/internal/observability"
	"github.com/ent0n29/brandely/internal/policy"
	"github.com/ent0n29/brandely/internal/session"
	"github.com/ent0n29/brandely/internal/stream"
)

// ChatService is the pipeline behind the HTTP and websocket surfaces.
type ChatService interface {
	HandleMessage(ctx context.Context, sessionID, text string) (chat.Reply, error)
	Evaluate(text string) policy.Verdict
	Transcript(sessionID string) []conversation.Turn
	Archived(ctx context.Context, sessionID string, limit int) ([]archive.Record, error)
}

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	chat     ChatService
	metrics  *observability.Metrics
	logger   *zap.Logger
	limiter  *sessionLimiter
	pacer    stream.Pacer
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, svc ChatService, metrics *observability.Metrics, logger *zap.Logger) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		chat:     svc,
		metrics:  metrics,
		logger:   logging.OrNop(logger).Named("httpapi"),
		limiter:  newSessionLimiter(cfg.RateLimitPerMin),
		pacer:    stream.TypingPacer{Initial: cfg.StreamInitialDelay, PerChunk: cfg.StreamChunkDelay},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			http.NotFound(w, r)
			return
		}
		s.metrics.Handler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Route("/v1/chat", func(r chi.Router) {
		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Get("/sessions/{id}/archive", s.handleSessionArchive)
		r.Post("/sessions/{id}/messages", s.handleSendMessage)
		r.Get("/ws", s.handleChatWS)
	})
	r.Post("/v1/safety/evaluate", s.handleEvaluate)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"llm_mode":     s.cfg.LLMMode,
		"enforcement":  s.cfg.SafetyEnforcement,
		"archive_mode": archive.ModeForURL(s.cfg.DatabaseURL),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.chat == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "chat service not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

type sessionResponse struct {
	*session.Session
	Turns []conversation.Turn `json:"turns"`
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

type sendMessageResponse struct {
	SessionID string         `json:"session_id"`
	TurnID    string         `json:"turn_id"`
	Reply     string         `json:"reply"`
	Blocked   bool           `json:"blocked"`
	Verdict   policy.Verdict `json:"verdict"`
}

type evaluateRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	sess := s.sessions.Create()
	s.observeSessions("created")

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:      sess.ID,
		Status:         sess.Status,
		StartedAt:      sess.StartedAt,
		LastActivityAt: sess.LastActivityAt,
		IdleTTLMS:      s.sessions.IdleTimeout().Milliseconds(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	sess, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	turns := []conversation.Turn{}
	if s.chat != nil {
		turns = s.chat.Transcript(id)
	}
	respondJSON(w, http.StatusOK, sessionResponse{Session: sess, Turns: turns})
}

type archiveResponse struct {
	SessionID string           `json:"session_id"`
	Mode      string           `json:"mode"`
	Records   []archive.Record `json:"records"`
}

func (s *Server) handleSessionArchive(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "chat service not configured")
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}
	records, err := s.chat.Archived(r.Context(), id, limit)
	switch {
	case errors.Is(err, chat.ErrArchiveDisabled):
		respondError(w, http.StatusNotFound, "archive_disabled", err.Error())
		return
	case err != nil:
		s.logger.Warn("archive read failed", zap.String("session_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "archive_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, archiveResponse{
		SessionID: id,
		Mode:      archive.ModeForURL(s.cfg.DatabaseURL),
		Records:   records,
	})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "chat service not configured")
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if !s.allow(id) {
		respondError(w, http.StatusTooManyRequests, "rate_limited", "too many messages for this session")
		return
	}

	reply, err := s.chat.HandleMessage(r.Context(), id, req.Text)
	if err != nil {
		status, code := statusForError(err)
		if status >= 500 {
			s.logger.Warn("message failed", zap.String("session_id", id), zap.Error(err))
		}
		respondError(w, status, code, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sendMessageResponse{
		SessionID: reply.SessionID,
		TurnID:    reply.TurnID,
		Reply:     reply.Text,
		Blocked:   reply.Blocked,
		Verdict:   reply.Verdict,
	})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "chat service not configured")
		return
	}
	var req evaluateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.chat.Evaluate(req.Text))
}

func (s *Server) allow(sessionID string) bool {
	if s.limiter.Allow(sessionID) {
		return true
	}
	if s.metrics != nil {
		s.metrics.RateLimited.Inc()
	}
	return false
}

func (s *Server) observeSessions(event string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues(event).Inc()
}

// statusForError maps pipeline errors to an HTTP status and stable code.
func statusForError(err error) (int, string) {
	var turnErr *chat.TurnError
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest, "empty_message"
	case errors.Is(err, chat.ErrMissingSession):
		return http.StatusBadRequest, "missing_session_id"
	case errors.Is(err, chat.ErrTimeout):
		return http.StatusGatewayTimeout, "provider_timeout"
	case errors.As(err, &turnErr):
		return http.StatusBadGateway, turnErr.Class.Code
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout, "canceled"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
)

package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/brandely/internal/chat"
	"github.com/ent0n29/brandely/internal/protocol"
	"github.com/ent0n29/brandely/internal/stream"
)

// handleChatWS serves one chat connection. User messages are handled one at
// a time in arrival order; replies are replayed as paced text deltas.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.chat == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "chat service not configured")
		return
	}
	s.sessions.Ensure(sessionID)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.observeSessions("ws_connected")
	log := s.logger.With(zap.String("session_id", sessionID))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan protocol.UserMessage, 64)
	outbound := make(chan any, 256)
	turns := &turnCanceler{}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					log.Debug("websocket write failed", zap.Error(err))
					cancel()
					return
				}
				s.observeWS("outbound", messageTypeOf(msg))
			}
		}
	}()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		for msg := range inbound {
			if ctx.Err() != nil {
				continue
			}
			s.runTurn(ctx, turns, sessionID, msg.Text, outbound)
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.send(ctx, outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Detail:    err.Error(),
			})
			continue
		}
		s.observeWS("inbound", messageTypeOf(parsed))

		switch m := parsed.(type) {
		case protocol.UserMessage:
			if m.SessionID != "" && m.SessionID != sessionID {
				s.send(ctx, outbound, protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sessionID,
					Code:      "session_mismatch",
					Source:    "gateway",
					Detail:    "message session_id does not match the connection",
				})
				continue
			}
			if !s.allow(sessionID) {
				s.send(ctx, outbound, protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sessionID,
					Code:      "rate_limited",
					Source:    "gateway",
					Retryable: true,
					Detail:    "too many messages for this session",
				})
				continue
			}
			select {
			case <-ctx.Done():
				break readLoop
			case inbound <- m:
			}
		case protocol.ClientControl:
			switch m.Action {
			case protocol.ActionCancel:
				turns.Cancel()
			case protocol.ActionPing:
				s.send(ctx, outbound, protocol.SystemEvent{
					Type:      protocol.TypeSystemEvent,
					SessionID: sessionID,
					Code:      protocol.CodePong,
				})
			}
		}
	}

	cancel()
	close(inbound)
	<-workerDone
	<-writerDone
	s.observeSessions("ws_disconnected")
}

// runTurn handles one user message and streams the outcome to outbound.
func (s *Server) runTurn(ctx context.Context, turns *turnCanceler, sessionID, text string, outbound chan<- any) {
	turnCtx := turns.Begin(ctx)
	defer turns.End()

	s.send(ctx, outbound, protocol.SystemEvent{
		Type:      protocol.TypeSystemEvent,
		SessionID: sessionID,
		Code:      protocol.CodeThinking,
		Detail:    chat.ThinkingNotice,
	})

	reply, err := s.chat.HandleMessage(turnCtx, sessionID, text)
	if err != nil {
		_, code := statusForError(err)
		retryable := false
		source := "gateway"
		var turnErr *chat.TurnError
		if errors.As(err, &turnErr) {
			retryable = turnErr.Class.Retryable
			source = "provider"
		}
		s.send(ctx, outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      code,
			Source:    source,
			Retryable: retryable,
			Detail:    err.Error(),
		})
		if turnErr != nil {
			reason := protocol.ReasonFailed
			if errors.Is(err, context.Canceled) {
				reason = protocol.ReasonCanceled
			}
			s.send(ctx, outbound, protocol.AssistantTurnEnd{
				Type:      protocol.TypeAssistantTurnEnd,
				SessionID: sessionID,
				TurnID:    turnErr.TurnID,
				Reason:    reason,
			})
		}
		return
	}

	if !reply.Verdict.IsSafe {
		s.send(ctx, outbound, protocol.SafetyEvent{
			Type:      protocol.TypeSafetyEvent,
			SessionID: sessionID,
			TurnID:    reply.TurnID,
			IsSafe:    reply.Verdict.IsSafe,
			Reason:    reply.Verdict.Reason,
			Matched:   reply.Verdict.Matched,
			Blocked:   reply.Blocked,
		})
	}

	reason := protocol.ReasonCompleted
	if reply.Blocked {
		reason = protocol.ReasonBlocked
	}
	err = stream.Play(turnCtx, stream.NewReply(reply.Text, s.cfg.StreamMode), s.pacer, func(chunk string) error {
		return s.send(turnCtx, outbound, protocol.AssistantTextDelta{
			Type:      protocol.TypeAssistantTextDelta,
			SessionID: sessionID,
			TurnID:    reply.TurnID,
			TextDelta: chunk,
		})
	})
	if err != nil {
		// The reply is already stored; only its display was cut short.
		reason = protocol.ReasonCanceled
	}
	s.send(ctx, outbound, protocol.AssistantTurnEnd{
		Type:      protocol.TypeAssistantTurnEnd,
		SessionID: sessionID,
		TurnID:    reply.TurnID,
		Reason:    reason,
		Text:      reply.Text,
	})
}

func (s *Server) send(ctx context.Context, outbound chan<- any, msg any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case outbound <- msg:
		return nil
	}
}

func (s *Server) observeWS(direction string, t protocol.MessageType) {
	if s.metrics == nil || t == "" {
		return
	}
	s.metrics.WSMessages.WithLabelValues(direction, string(t)).Inc()
}

func messageTypeOf(v any) protocol.MessageType {
	switch m := v.(type) {
	case protocol.UserMessage:
		return m.Type
	case protocol.ClientControl:
		return m.Type
	case protocol.AssistantTextDelta:
		return m.Type
	case protocol.AssistantTurnEnd:
		return m.Type
	case protocol.SafetyEvent:
		return m.Type
	case protocol.SystemEvent:
		return m.Type
	case protocol.ErrorEvent:
		return m.Type
	default:
		return ""
	}
}

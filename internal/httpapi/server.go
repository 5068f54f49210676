// Package httpapi exposes the session, memory, and auth endpoints plus
// the websocket turn channel.
package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/nova/internal/assistant"
	"github.com/ent0n29/nova/internal/auth"
	"github.com/ent0n29/nova/internal/config"
	"github.com/ent0n29/nova/internal/memory"
	"github.com/ent0n29/nova/internal/observability"
	"github.com/ent0n29/nova/internal/protocol"
	"github.com/ent0n29/nova/internal/session"
)

// TurnHandler runs one turn of the conversation loop.
type TurnHandler interface {
	HandleTurn(ctx context.Context, sessionID, input string) (assistant.TurnResult, error)
	HandleVoiceTurn(ctx context.Context, sessionID string, audio []byte) (assistant.TurnResult, []byte, error)
}

// Authenticator resolves a secret phrase into an identity and manages
// the stored credential.
type Authenticator interface {
	Configured() bool
	Setup(phrase string) error
	Authenticate(phrase string) auth.Identity
}

// CredentialResetter removes the stored secret phrase.
type CredentialResetter interface {
	Reset() error
}

// MemoryReader serves the long-term memory endpoint.
type MemoryReader interface {
	Retrieve(ctx context.Context, username string, topK int) ([]memory.Entry, error)
}

type Server struct {
	cfg       config.Config
	sessions  *session.Manager
	turns     TurnHandler
	auth      Authenticator
	creds     CredentialResetter
	retriever MemoryReader
	metrics   *observability.Metrics
	upgrader  websocket.Upgrader
}

func New(
	cfg config.Config,
	sessions *session.Manager,
	turns TurnHandler,
	authn Authenticator,
	creds CredentialResetter,
	retriever MemoryReader,
	metrics *observability.Metrics,
) *Server {
	return &Server{
		cfg:       cfg,
		sessions:  sessions,
		turns:     turns,
		auth:      authn,
		creds:     creds,
		retriever: retriever,
		metrics:   metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up. Other websites must
				// not be able to drive a session if Nova is ever exposed
				// beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
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

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/session", s.handleCreateSession)
	r.Post("/v1/session/{id}/end", s.handleEndSession)
	r.Get("/v1/session/ws", s.handleSessionWS)
	r.Get("/v1/memory", s.handleMemory)
	r.Get("/v1/auth/status", s.handleAuthStatus)
	r.Post("/v1/auth/reset", s.handleAuthReset)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"auth_configured": s.auth.Configured(),
	})
}

type createSessionRequest struct {
	SecretPhrase string `json:"secret_phrase"`
}

type createSessionResponse struct {
	SessionID       string    `json:"session_id"`
	Username        string    `json:"username"`
	IsCreator       bool      `json:"is_creator"`
	Status          string    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	// An absent or wrong phrase still yields a session, just as Guest.
	id := s.auth.Authenticate(req.SecretPhrase)
	if s.metrics != nil {
		outcome := "guest"
		if id.IsCreator {
			outcome = "creator"
		}
		s.metrics.AuthOutcomes.WithLabelValues(outcome).Inc()
	}

	sess := s.sessions.Create(id)
	s.noteSessionEvent("created")

	respondJSON(w, http.StatusCreated, createSessionResponse{
		SessionID:       sess.ID,
		Username:        id.Username,
		IsCreator:       id.IsCreator,
		Status:          string(sess.Status),
		StartedAt:       sess.StartedAt,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.noteSessionEvent("ended")
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	username := sess.Identity.Username
	if override := strings.TrimSpace(r.URL.Query().Get("username")); override != "" && override != username {
		// Reading another user's memory is a creator privilege.
		if !sess.Identity.IsCreator {
			respondError(w, http.StatusForbidden, "forbidden", "memory for other users is creator-only")
			return
		}
		username = override
	}

	topK := s.cfg.MemoryTopK
	if raw := strings.TrimSpace(r.URL.Query().Get("top_k")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_top_k", "top_k must be a positive integer")
			return
		}
		topK = n
	}

	entries, err := s.retriever.Retrieve(r.Context(), username, topK)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"username": username,
		"entries":  entries,
	})
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"configured": s.auth.Configured(),
	})
}

func (s *Server) handleAuthReset(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	if !sess.Identity.IsCreator {
		respondError(w, http.StatusForbidden, "forbidden", "credential reset is creator-only")
		return
	}
	if err := s.creds.Reset(); err != nil {
		respondError(w, http.StatusInternalServerError, "reset_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"reset": true})
}

// requireSession resolves the session_id query parameter to an active
// session, writing an error response when it cannot.
func (s *Server) requireSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return nil, false
	}
	sess, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return nil, false
	}
	if sess.Status != session.StatusActive {
		respondError(w, http.StatusConflict, "session_ended", "session is no longer active")
		return nil, false
	}
	return sess, true
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	if s.turns == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "turn handler not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.noteSessionEvent("ws_connected")
	defer s.noteSessionEvent("ws_disconnected")

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.writeWS(conn, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sess.ID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}

		switch msg := parsed.(type) {
		case protocol.ClientText:
			s.runTextTurn(r.Context(), conn, sess.ID, msg.Text)
		case protocol.ClientAudio:
			s.runVoiceTurn(r.Context(), conn, sess.ID, msg)
		case protocol.ClientControl:
			if msg.Action == "end" {
				if _, err := s.sessions.End(sess.ID); err == nil {
					s.noteSessionEvent("ended")
				}
				s.writeWS(conn, protocol.SystemEvent{
					Type:      protocol.TypeSystemEvent,
					SessionID: sess.ID,
					Code:      "session_ended",
				})
				return
			}
		}
	}
}

func (s *Server) runTextTurn(ctx context.Context, conn *websocket.Conn, sessionID, text string) {
	result, err := s.turns.HandleTurn(ctx, sessionID, text)
	if err != nil {
		s.writeWS(conn, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      "turn_failed",
			Source:    "assistant",
			Retryable: true,
			Detail:    err.Error(),
		})
		return
	}
	s.writeTurn(conn, sessionID, result, nil)
}

func (s *Server) runVoiceTurn(ctx context.Context, conn *websocket.Conn, sessionID string, msg protocol.ClientAudio) {
	pcm, err := base64.StdEncoding.DecodeString(msg.PCM16Base64)
	if err != nil {
		s.writeWS(conn, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      "invalid_audio",
			Source:    "gateway",
			Retryable: false,
			Detail:    "pcm16_base64 is not valid base64",
		})
		return
	}

	result, spoken, err := s.turns.HandleVoiceTurn(ctx, sessionID, pcm)
	if err != nil {
		s.writeWS(conn, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      "turn_failed",
			Source:    "assistant",
			Retryable: true,
			Detail:    err.Error(),
		})
		return
	}
	s.writeTurn(conn, sessionID, result, spoken)
}

func (s *Server) writeTurn(conn *websocket.Conn, sessionID string, result assistant.TurnResult, spoken []byte) {
	s.writeWS(conn, protocol.AssistantReply{
		Type:      protocol.TypeAssistantReply,
		SessionID: sessionID,
		TurnID:    result.TurnID,
		Text:      result.Response,
		Command:   result.Command,
	})
	if len(spoken) > 0 {
		s.writeWS(conn, protocol.AssistantAudio{
			Type:        protocol.TypeAssistantAudio,
			SessionID:   sessionID,
			TurnID:      result.TurnID,
			Format:      "wav",
			AudioBase64: base64.StdEncoding.EncodeToString(spoken),
		})
	}
	if result.Degraded {
		s.writeWS(conn, protocol.SystemEvent{
			Type:      protocol.TypeSystemEvent,
			SessionID: sessionID,
			Code:      "memory_degraded",
			Detail:    "turn stored in volatile memory only",
		})
	}
	s.writeWS(conn, protocol.AssistantTurnEnd{
		Type:      protocol.TypeAssistantTurnEnd,
		SessionID: sessionID,
		TurnID:    result.TurnID,
		Reason:    "completed",
	})
}

func (s *Server) writeWS(conn *websocket.Conn, msg any) {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_ = conn.WriteJSON(msg)
}

func (s *Server) noteSessionEvent(event string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues(event).Inc()
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
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
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

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/rupeeline/collectbot/internal/config"
	"github.com/rupeeline/collectbot/internal/dialogue"
	"github.com/rupeeline/collectbot/internal/engine"
	"github.com/rupeeline/collectbot/internal/observability"
	"github.com/rupeeline/collectbot/internal/store"
)

// Call continuation actions returned to the telephony layer.
const (
	actionContinue = "continue"
	actionHangup   = "hangup"
	actionTransfer = "transfer"
)

const technicalDifficultyReply = "I'm experiencing technical difficulties. Please try calling back later. Goodbye."
const notFoundReply = "Sorry, I can't find your information. Please contact customer service."

type Server struct {
	cfg      config.Config
	engine   *engine.Engine
	store    store.Store
	metrics  *observability.Metrics
	monitor  *Monitor
	upgrader websocket.Upgrader
}

func New(cfg config.Config, eng *engine.Engine, st store.Store, metrics *observability.Metrics, monitor *Monitor) *Server {
	return &Server{
		cfg:     cfg,
		engine:  eng,
		store:   st,
		metrics: metrics,
		monitor: monitor,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same origin
				// unless explicitly opened up. Non-browser clients omit Origin.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
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
	if s.cfg.AllowAnyOrigin {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/voice/incoming", s.instrumented("incoming", s.handleIncoming))
	r.Post("/v1/voice/continue", s.instrumented("continue", s.handleContinue))
	r.Post("/v1/voice/status", s.instrumented("status", s.handleStatus))
	r.Post("/v1/voice/outbound", s.instrumented("outbound", s.handleOutbound))
	r.Post("/v1/voice/outbound/greeting", s.instrumented("outbound_greeting", s.handleOutboundGreeting))

	r.Get("/v1/monitor/ws", s.handleMonitorWS)

	return r
}

// instrumented wraps a handler with the per-endpoint request counter.
func (s *Server) instrumented(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		if s.metrics != nil {
			s.metrics.WebhookRequests.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// callStartResponse is the incoming/outbound greeting payload for the
// telephony layer.
type callStartResponse struct {
	SessionID  string `json:"session_id,omitempty"`
	BorrowerID string `json:"borrower_id,omitempty"`
	ReplyText  string `json:"reply_text"`
	NextState  string `json:"next_state"`
	Action     string `json:"action"`
}

func (s *Server) handleIncoming(w http.ResponseWriter, r *http.Request) {
	from := strings.TrimSpace(r.FormValue("From"))
	callSID := strings.TrimSpace(r.FormValue("CallSid"))
	if from == "" || callSID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "From and CallSid are required")
		return
	}

	start, err := s.engine.StartInbound(r.Context(), from, callSID)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, callStartResponse{
			ReplyText: technicalDifficultyReply,
			NextState: string(dialogue.StateEndCall),
			Action:    actionHangup,
		})
		return
	}
	respondJSON(w, http.StatusOK, callStartResponse{
		SessionID:  start.SessionID,
		BorrowerID: start.BorrowerID,
		ReplyText:  start.Greeting,
		NextState:  string(start.NextState),
		Action:     startAction(start),
	})
}

// turnResponse continues an in-flight call.
type turnResponse struct {
	ReplyText    string `json:"reply_text"`
	NextState    string `json:"next_state"`
	Intent       string `json:"intent,omitempty"`
	Sentiment    string `json:"sentiment,omitempty"`
	FallbackUsed bool   `json:"fallback_used"`
	Action       string `json:"action"`
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.FormValue("session_id"))
	borrowerID := strings.TrimSpace(r.FormValue("borrower_id"))
	state := dialogue.NormalizeState(r.FormValue("state"))
	speech := strings.TrimSpace(r.FormValue("SpeechResult"))
	if sessionID == "" || borrowerID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "session_id and borrower_id are required")
		return
	}
	if speech == "" {
		speech = "No speech detected"
	}

	reply, err := s.engine.HandleTurn(r.Context(), sessionID, borrowerID, state, speech)
	switch {
	case errors.Is(err, engine.ErrSessionTerminal):
		respondJSON(w, http.StatusConflict, turnResponse{
			NextState: string(dialogue.StateEndCall),
			Action:    actionHangup,
		})
		return
	case errors.Is(err, store.ErrNotFound):
		respondJSON(w, http.StatusNotFound, turnResponse{
			ReplyText: notFoundReply,
			NextState: string(dialogue.StateEndCall),
			Action:    actionHangup,
		})
		return
	case err != nil:
		respondJSON(w, http.StatusInternalServerError, turnResponse{
			ReplyText: technicalDifficultyReply,
			NextState: string(dialogue.StateEndCall),
			Action:    actionHangup,
		})
		return
	}

	respondJSON(w, http.StatusOK, turnResponse{
		ReplyText:    reply.ReplyText,
		NextState:    string(reply.NextState),
		Intent:       string(reply.Intent),
		Sentiment:    string(reply.Sentiment),
		FallbackUsed: reply.FallbackUsed,
		Action:       stateAction(reply.NextState),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	callSID := strings.TrimSpace(r.FormValue("CallSid"))
	status := strings.TrimSpace(r.FormValue("CallStatus"))
	if callSID == "" || status == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "CallSid and CallStatus are required")
		return
	}
	duration := 0
	if v := strings.TrimSpace(r.FormValue("CallDuration")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			duration = n
		}
	}

	if err := s.engine.CloseCall(r.Context(), callSID, status, duration); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "close_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleOutbound(w http.ResponseWriter, r *http.Request) {
	borrowerID := strings.TrimSpace(r.FormValue("borrower_id"))
	if borrowerID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "borrower_id is required")
		return
	}

	sess, err := s.engine.Initiate(r.Context(), borrowerID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "borrower_not_found", err.Error())
		return
	case errors.Is(err, engine.ErrBorrowerDNC):
		respondError(w, http.StatusForbidden, "borrower_dnc", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "initiate_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"session_id":  sess.ID,
		"borrower_id": sess.BorrowerID,
		"call_sid":    sess.CallSID,
	})
}

func (s *Server) handleOutboundGreeting(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.FormValue("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "session_id is required")
		return
	}

	start, err := s.engine.OutboundGreeting(r.Context(), sessionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondJSON(w, http.StatusNotFound, callStartResponse{
			ReplyText: notFoundReply,
			NextState: string(dialogue.StateEndCall),
			Action:    actionHangup,
		})
		return
	case err != nil:
		respondJSON(w, http.StatusInternalServerError, callStartResponse{
			ReplyText: technicalDifficultyReply,
			NextState: string(dialogue.StateEndCall),
			Action:    actionHangup,
		})
		return
	}
	respondJSON(w, http.StatusOK, callStartResponse{
		SessionID:  start.SessionID,
		BorrowerID: start.BorrowerID,
		ReplyText:  start.Greeting,
		NextState:  string(start.NextState),
		Action:     startAction(start),
	})
}

func startAction(start engine.CallStart) string {
	if start.EndCall {
		return actionHangup
	}
	return actionContinue
}

func stateAction(state dialogue.State) string {
	switch state {
	case dialogue.StateEndCall:
		return actionHangup
	case dialogue.StateTransfer:
		return actionTransfer
	default:
		return actionContinue
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// Package httpgw implements the HTTP Gateway: the REST chat endpoint, the
// signed webhook receivers, and the optional A2A task protocol, all sharing
// one *http.Server and the MessageBus's inbound/outbound queues. Grounded
// on the teacher's internal/gateway.Server mux-building shape.
package httpgw

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/bus"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/config"
)

const (
	maxBodyBytes  = 1 << 20 // 1 MB
	chatTimeout   = 120 * time.Second
	gatewayVersion = "0.1.0"
)

// AgentTurner runs a synchronous agent turn against a session key. Declared
// here (not imported from internal/agent) to keep httpgw decoupled from the
// agent package; satisfied by *agent.Loop.ProcessDirect.
type AgentTurner interface {
	ProcessDirect(ctx context.Context, sessionKey, message, channel, chatID string) (string, error)
}

// pendingChat is a one-shot waiter for a single /api/chat request's reply.
type pendingChat struct {
	ch chan string
}

// Server is the HTTP Gateway: REST chat, health, webhooks, and A2A, all
// wired to a MessageBus shared with the channel adapters and agent loop.
type Server struct {
	cfg    *config.GatewayConfig
	msgBus *bus.MessageBus
	agent  AgentTurner
	logger *slog.Logger

	pendingMu sync.Mutex
	pending   map[string]*pendingChat // chat_id -> waiter

	tasks *taskStore

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer constructs a Server. agent may be nil; webhook agent_turn
// routing and A2A both fail clearly if invoked without one wired.
func NewServer(cfg *config.GatewayConfig, msgBus *bus.MessageBus, agent AgentTurner, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		msgBus:  msgBus,
		agent:   agent,
		logger:  logger,
		pending: make(map[string]*pendingChat),
		tasks:   newTaskStore(1000),
	}
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/chat", s.auth(s.handleChat))
	mux.HandleFunc("POST /api/webhook/{name}", s.handleWebhook)
	mux.HandleFunc("GET /ws", s.handleEvents)

	if s.cfg.A2A.Enabled {
		mux.HandleFunc("GET /.well-known/agent.json", s.handleAgentCard)
		mux.HandleFunc("POST /a2a/tasks", s.auth(s.handleCreateTask))
		mux.HandleFunc("GET /a2a/tasks/{id}", s.auth(s.handleGetTask))
	}

	s.mux = mux
	return mux
}

// Start begins listening until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	s.logger.Info("httpgw.starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpgw server: %w", err)
	}
	return nil
}

// auth wraps a handler with a bearer-token check, skipped entirely when no
// token is configured (local/dev mode).
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" && extractBearerToken(r) != s.cfg.Token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": gatewayVersion})
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type chatResponse struct {
	Content   string `json:"content"`
	SessionID string `json:"session_id"`
}

// handleChat implements spec.md's POST /api/chat: publish an inbound on the
// synthetic "http" channel, wait for the outbound router to deliver a
// response via Deliver, and return it — or 504 after chatTimeout.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	waiter := &pendingChat{ch: make(chan string, 1)}
	s.pendingMu.Lock()
	s.pending[sessionID] = waiter
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		if s.pending[sessionID] == waiter {
			delete(s.pending, sessionID)
		}
		s.pendingMu.Unlock()
	}()

	if err := s.msgBus.PublishInbound(r.Context(), bus.InboundMessage{
		Channel:  "http",
		SenderID: "http",
		ChatID:   sessionID,
		Content:  req.Message,
		Ts:       time.Now().UnixMilli(),
	}); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	select {
	case content := <-waiter.ch:
		writeJSON(w, http.StatusOK, chatResponse{Content: content, SessionID: sessionID})
	case <-time.After(chatTimeout):
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": "timed out waiting for a response"})
	case <-r.Context().Done():
	}
}

// Deliver implements channels.ResponseWaiter: claims an outbound message
// addressed to a pending /api/chat request by chat_id (== session_id).
func (s *Server) Deliver(chatID, content string) bool {
	s.pendingMu.Lock()
	waiter, ok := s.pending[chatID]
	if ok {
		delete(s.pending, chatID)
	}
	s.pendingMu.Unlock()
	if !ok {
		return false
	}
	select {
	case waiter.ch <- content:
	default:
	}
	return true
}

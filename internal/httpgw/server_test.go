package httpgw

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/bus"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/config"
)

func newTestServer() (*Server, *bus.MessageBus) {
	b := bus.New()
	cfg := &config.GatewayConfig{}
	return NewServer(cfg, b, nil, nil), b
}

func TestHandleChatDeliversResponse(t *testing.T) {
	s, b := newTestServer()

	go func() {
		msg, ok := b.ConsumeInbound(context.Background())
		if !ok {
			return
		}
		_ = b.PublishOutbound(context.Background(), bus.OutboundMessage{Channel: "http", ChatID: msg.ChatID, Content: "hello back"})
	}()
	go func() {
		out, ok := b.SubscribeOutbound(context.Background())
		if ok {
			s.Deliver(out.ChatID, out.Content)
		}
	}()

	body, _ := json.Marshal(chatRequest{Message: "hi"})
	req := httptest.NewRequest("POST", "/api/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleChat(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Content != "hello back" {
		t.Fatalf("unexpected content: %+v", resp)
	}
}

func TestHandleChatRejectsEmptyMessage(t *testing.T) {
	s, _ := newTestServer()
	body, _ := json.Marshal(chatRequest{Message: ""})
	req := httptest.NewRequest("POST", "/api/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleChat(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAuthRejectsBadToken(t *testing.T) {
	s, _ := newTestServer()
	s.cfg.Token = "secret"
	handler := s.auth(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	})
	req := httptest.NewRequest("POST", "/api/chat", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthAllowsGoodToken(t *testing.T) {
	s, _ := newTestServer()
	s.cfg.Token = "secret"
	called := false
	handler := s.auth(func(w http.ResponseWriter, r *http.Request) { called = true })
	req := httptest.NewRequest("POST", "/api/chat", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	handler(rec, req)
	if !called {
		t.Fatal("expected handler to run with valid token")
	}
}

func TestDeliverReturnsFalseForUnknownChatID(t *testing.T) {
	s, _ := newTestServer()
	if s.Deliver("nope", "content") {
		t.Fatal("expected Deliver to return false for an unregistered chat id")
	}
}

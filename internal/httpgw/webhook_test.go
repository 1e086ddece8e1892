package httpgw

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/bus"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/config"
)

type stubAgentTurner struct {
	reply string
}

func (s stubAgentTurner) ProcessDirect(ctx context.Context, sessionKey, message, channel, chatID string) (string, error) {
	return s.reply, nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignatureAcceptsPlainDigest(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	sig := sign("shh", body)
	req := httptest.NewRequest("POST", "/api/webhook/x", nil)
	req.Header.Set("X-Signature-256", sig)
	if !verifySignature(req, "shh", body) {
		t.Fatal("expected valid signature to verify")
	}
}

func TestVerifySignatureAcceptsSha256Prefix(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	sig := "sha256=" + sign("shh", body)
	req := httptest.NewRequest("POST", "/api/webhook/x", nil)
	req.Header.Set("X-Hub-Signature-256", sig)
	if !verifySignature(req, "shh", body) {
		t.Fatal("expected prefixed signature to verify")
	}
}

func TestVerifySignatureRejectsWrongSecret(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	sig := sign("shh", body)
	req := httptest.NewRequest("POST", "/api/webhook/x", nil)
	req.Header.Set("X-Signature-256", sig)
	if verifySignature(req, "different", body) {
		t.Fatal("expected mismatched secret to fail")
	}
}

func TestVerifySignatureNoSecretSkipsCheck(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/webhook/x", nil)
	if !verifySignature(req, "", []byte("anything")) {
		t.Fatal("expected no-secret webhooks to skip validation")
	}
}

func TestRenderTemplateSubstitutesFieldsThenBody(t *testing.T) {
	body := []byte(`{"title":"Deploy finished","status":"ok"}`)
	out := renderTemplate("{{title}} ({{status}})", body)
	if out != "Deploy finished (ok)" {
		t.Fatalf("unexpected render: %q", out)
	}
}

func TestRenderTemplateFallsBackToRawBody(t *testing.T) {
	out := renderTemplate("payload: {{body}}", []byte("raw text"))
	if out != "payload: raw text" {
		t.Fatalf("unexpected render: %q", out)
	}
}

func TestRenderTemplateEmptyReturnsBody(t *testing.T) {
	out := renderTemplate("", []byte("verbatim"))
	if out != "verbatim" {
		t.Fatalf("expected verbatim body passthrough, got %q", out)
	}
}

func TestHandleWebhookAgentTurnReturnsOkDelivered(t *testing.T) {
	b := bus.New()
	cfg := &config.GatewayConfig{
		Webhooks: map[string]config.WebhookConfig{
			"alert": {
				Enabled:   true,
				Secret:    "s",
				Template:  "alert: {{title}}",
				AgentTurn: true,
				Targets:   []config.WebhookTarget{{Channel: "telegram", To: "42"}},
			},
		},
	}
	s := NewServer(cfg, b, stubAgentTurner{reply: "ok"}, nil)

	outCh := make(chan bus.OutboundMessage, 1)
	go func() {
		out, ok := b.SubscribeOutbound(context.Background())
		if ok {
			outCh <- out
		}
	}()

	srv := httptest.NewServer(s.BuildMux())
	defer srv.Close()

	body := []byte(`{"title":"x","body":"y"}`)
	sig := sign("s", body)
	req, _ := http.NewRequest("POST", srv.URL+"/api/webhook/alert", bytes.NewReader(body))
	req.Header.Set("X-Signature-256", sig)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if decoded["status"] != "ok" || decoded["delivered"] != true {
		t.Fatalf("expected {status:ok, delivered:true}, got %+v", decoded)
	}

	select {
	case out := <-outCh:
		if out.Channel != "telegram" || out.ChatID != "42" || out.Content != "ok" {
			t.Fatalf("unexpected outbound: %+v", out)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound message")
	}
}

package httpgw

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/bus"
	"github.com/nextlevelbuilder/oxicrab-gw/pkg/protocol"
)

// handleWebhook implements POST /api/webhook/{name}: HMAC validation,
// templating, and delivery direct-to-targets or through the agent loop.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	wh, ok := s.cfg.Webhooks[name]
	if !ok || !wh.Enabled {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown webhook"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body too large"})
		return
	}

	if !verifySignature(r, wh.Secret, body) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid signature"})
		return
	}

	message := renderTemplate(wh.Template, body)

	if wh.AgentTurn {
		if s.agent == nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "agent not wired"})
			return
		}
		if len(wh.Targets) == 0 {
			writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
			return
		}
		first := wh.Targets[0]
		text, err := s.agent.ProcessDirect(r.Context(), "webhook:"+name, message, first.Channel, first.To)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		for _, t := range wh.Targets {
			if pubErr := s.msgBus.PublishOutbound(r.Context(), bus.OutboundMessage{Channel: t.Channel, ChatID: t.To, Content: text}); pubErr != nil {
				s.logger.Warn("httpgw.webhook_publish_failed", "webhook", name, "error", pubErr)
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "delivered": true})
		return
	}

	for _, t := range wh.Targets {
		if err := s.msgBus.PublishOutbound(r.Context(), bus.OutboundMessage{Channel: t.Channel, ChatID: t.To, Content: message}); err != nil {
			s.logger.Warn("httpgw.webhook_publish_failed", "webhook", name, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
}

// verifySignature checks the raw body against secret using whichever of the
// accepted signature headers is present; the computed HMAC-SHA256 digest is
// compared with or without a "sha256=" prefix in constant time.
func verifySignature(r *http.Request, secret string, body []byte) bool {
	if secret == "" {
		return true // no secret configured: skip (local/dev webhook)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, h := range protocol.WebhookSignatureHeaders {
		v := r.Header.Get(h)
		if v == "" {
			continue
		}
		v = strings.TrimPrefix(v, "sha256=")
		if hmac.Equal([]byte(v), []byte(expected)) {
			return true
		}
	}
	return false
}

// renderTemplate substitutes top-level JSON fields of body as "{{key}}"
// first, then the raw body itself as "{{body}}", per spec.md §4.12.
func renderTemplate(tpl string, body []byte) string {
	if tpl == "" {
		return string(body)
	}

	out := tpl
	var fields map[string]interface{}
	if json.Unmarshal(body, &fields) == nil {
		for k, v := range fields {
			out = strings.ReplaceAll(out, "{{"+k+"}}", fmt.Sprint(v))
		}
	}
	out = strings.ReplaceAll(out, "{{body}}", string(body))
	return out
}

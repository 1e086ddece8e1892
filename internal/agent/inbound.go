package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/bus"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/cognitive"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/discourse"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/memory"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/providers"
	"github.com/nextlevelbuilder/oxicrab-gw/pkg/protocol"
)

const refusalText = "I can't act on that message — it matches a pattern I treat as an instruction-override attempt."

// processInbound implements spec.md's process_inbound: turn routing,
// PromptGuard, system-prompt assembly, the tool-use subloop, and the
// post-subloop leak/memory/persistence steps. Callers must hold the
// per-session-key lock.
func (l *Loop) processInbound(ctx context.Context, key string, msg bus.InboundMessage) error {
	l.sessionMgr.GetOrCreate(key)
	dr := l.sessionMgr.Discourse(key)
	dr.AdvanceTurn()
	defer l.sessionMgr.SaveDiscourse(key, dr)

	if handled, err := l.routeAuthorization(ctx, key, msg); handled {
		return err
	}

	if !l.cfg.PromptGuardWarnOnly {
		if matches := l.promptGuard.Scan(msg.Content); len(matches) > 0 {
			l.logger.Warn("agent.prompt_guard_blocked", "session", key, "matches", len(matches))
			return l.publishFinal(ctx, msg.Channel, msg.ChatID, refusalText)
		}
	} else if matches := l.promptGuard.Scan(msg.Content); len(matches) > 0 {
		l.logger.Warn("agent.prompt_guard_matched", "session", key, "matches", len(matches))
	}

	systemPrompt := l.systemPrompt(ctx, msg.Content, dr)
	l.sessionMgr.AddMessage(key, providers.Message{Role: "user", Content: msg.Content})

	l.publishTyping(msg.Channel, msg.ChatID)

	l.publishAgentEvent(protocol.AgentEventRunStarted, key, nil)
	tracker := cognitive.New(l.cfg.Cognitive)
	finalText, err := l.runSubloop(ctx, key, systemPrompt, tracker, dr, subloopOptions{})
	if err != nil {
		l.publishAgentEvent(protocol.AgentEventRunFailed, key, map[string]string{"error": err.Error()})
		return fmt.Errorf("tool-use subloop: %w", err)
	}
	l.publishAgentEvent(protocol.AgentEventRunCompleted, key, nil)

	if err := l.publishFinal(ctx, msg.Channel, msg.ChatID, finalText); err != nil {
		l.logger.Warn("agent.publish_final_failed", "session", key, "error", err)
	}

	entities := discourse.ExtractFromAssistantText(finalText)
	dr.RegisterEntities(entities)
	l.rememberEntities(ctx, key, entities)

	if err := l.sessionMgr.Save(key); err != nil {
		l.logger.Warn("agent.session_save_failed", "session", key, "error", err)
	}
	return nil
}

// routeAuthorization applies dm_policy. handled is true when the message
// was fully disposed of here (pairing reply sent, or silently dropped) and
// the caller must not continue into PromptGuard/the subloop.
func (l *Loop) routeAuthorization(ctx context.Context, key string, msg bus.InboundMessage) (handled bool, err error) {
	if msg.Channel == "http" {
		// Synthetic channel for internal/httpgw's /api/chat; already gated by
		// the gateway's own bearer-token check, so dm_policy does not apply.
		return false, nil
	}
	policy := l.cfg.Channels[msg.Channel]
	if policy.resolvedPolicy() == "open" {
		return false, nil
	}
	if policy.allows(msg.SenderID) {
		return false, nil
	}

	switch policy.resolvedPolicy() {
	case "pairing":
		if l.pairing == nil {
			l.logger.Debug("agent.pairing_unavailable_dropped", "session", key)
			return true, nil
		}
		code, err := l.pairing.Request(msg.Channel, msg.SenderID)
		if err != nil {
			return true, fmt.Errorf("pairing request: %w", err)
		}
		l.msgBus.Broadcast(bus.Event{
			Name:    protocol.EventDevicePairReq,
			Payload: map[string]string{"channel": msg.Channel, "sender_id": msg.SenderID, "code": code},
		})
		return true, l.publishFinal(ctx, msg.Channel, msg.ChatID, pairingReplyText(code))
	default: // "allowlist"
		l.logger.Debug("agent.unauthorized_dropped", "session", key, "channel", msg.Channel, "sender", msg.SenderID)
		return true, nil
	}
}

// systemPrompt assembles the turn's system prompt fresh: static identity +
// ContextProviders sections + USER.md + memory excerpts + discourse
// context. It is passed directly in each LLM request rather than persisted
// into session history, so it never drifts stale across a long session.
func (l *Loop) systemPrompt(ctx context.Context, userText string, dr *discourse.Register) string {
	var parts []string
	if l.cfg.Identity != "" {
		parts = append(parts, l.cfg.Identity)
	}
	if l.ctxProviders != nil {
		parts = append(parts, l.ctxProviders.BuildSections(ctx)...)
	}
	if l.cfg.UserFile != "" {
		parts = append(parts, "## User\n"+l.cfg.UserFile)
	}
	if excerpt := l.memoryExcerpt(ctx, userText); excerpt != "" {
		parts = append(parts, excerpt)
	}
	if dc := dr.ContextString(); dc != "" {
		parts = append(parts, dc)
	}
	return strings.Join(parts, "\n\n")
}

func (l *Loop) memoryExcerpt(ctx context.Context, query string) string {
	if l.memoryStore == nil || isBlank(query) {
		return ""
	}
	results, err := l.memoryStore.Search(ctx, query, nil, defaultMemoryExcerpts)
	if err != nil || len(results) == 0 {
		if err != nil {
			l.logger.Warn("agent.memory_search_failed", "error", err)
		}
		return ""
	}
	var b strings.Builder
	b.WriteString("## Memory\n")
	for _, r := range results {
		fmt.Fprintf(&b, "- %s\n", r.Content)
	}
	return b.String()
}

// rememberEntities upserts newly observed discourse entities into the
// memory store so future turns' memory excerpts can surface them.
func (l *Loop) rememberEntities(ctx context.Context, key string, entities []discourse.Entity) {
	if l.memoryStore == nil {
		return
	}
	for _, e := range entities {
		id := key + ":" + e.Type + ":" + e.ID
		err := l.memoryStore.Upsert(ctx, memory.Entry{
			ID:      id,
			Kind:    "discourse_entity",
			Key:     key,
			Content: fmt.Sprintf("%s %s: %s", e.Type, e.ID, e.Label),
		})
		if err != nil {
			l.logger.Warn("agent.memory_upsert_failed", "error", err)
		}
	}
}

// publishFinal sends the turn's final reply through the bus (which applies
// LeakDetector redaction internally) and mirrors it to the /ws event stream
// as a chat.message event. It does not touch session history.
func (l *Loop) publishFinal(ctx context.Context, channel, chatID, text string) error {
	l.msgBus.Broadcast(bus.Event{
		Name:    protocol.EventChat,
		Payload: map[string]string{"type": protocol.ChatEventMessage, "channel": channel, "chat_id": chatID},
	})
	return l.msgBus.PublishOutbound(ctx, bus.OutboundMessage{Channel: channel, ChatID: chatID, Content: text})
}

package agent

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/cognitive"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/discourse"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/providers"
)

// ProcessDirect implements spec.md's agent.process_direct: a synchronous
// turn against an arbitrary session key, bypassing dm_policy/PromptGuard
// routing and the bus round-trip, for trusted internal callers (CronService
// agent_turn jobs, the HTTP /api/chat endpoint). Returns the final text
// directly instead of publishing it.
func (l *Loop) ProcessDirect(ctx context.Context, sessionKey, message, channel, chatID string) (string, error) {
	lock := l.lockFor(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	l.sessionMgr.GetOrCreate(sessionKey)
	dr := l.sessionMgr.Discourse(sessionKey)
	dr.AdvanceTurn()
	defer l.sessionMgr.SaveDiscourse(sessionKey, dr)

	systemPrompt := l.systemPrompt(ctx, message, dr)
	l.sessionMgr.AddMessage(sessionKey, providers.Message{Role: "user", Content: message})

	tracker := cognitive.New(l.cfg.Cognitive)
	finalText, err := l.runSubloop(ctx, sessionKey, systemPrompt, tracker, dr, subloopOptions{})
	if err != nil {
		return "", fmt.Errorf("process_direct subloop: %w", err)
	}

	entities := discourse.ExtractFromAssistantText(finalText)
	dr.RegisterEntities(entities)
	l.rememberEntities(ctx, sessionKey, entities)

	if err := l.sessionMgr.Save(sessionKey); err != nil {
		l.logger.Warn("agent.session_save_failed", "session", sessionKey, "error", err)
	}
	return finalText, nil
}

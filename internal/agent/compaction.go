package agent

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/cognitive"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/providers"
)

const defaultKeepRecent = 10

const summarizePrompt = "Summarize the conversation so far in a few compact sentences, preserving names, decisions, and open threads. Output only the summary."

// compact implements spec.md 4.3: invoke the LLM with a summarization
// prompt over the full history, keep the trailing keep_recent entries
// verbatim, replace the prefix with a single summary entry, and inject a
// cognitive breadcrumb noting the compaction. A failed compaction logs a
// warning and leaves history untouched.
func (l *Loop) compact(ctx context.Context, key string, tracker *cognitive.Tracker) {
	keepRecent := l.cfg.Compaction.KeepRecent
	if keepRecent <= 0 {
		keepRecent = defaultKeepRecent
	}

	history := l.sessionMgr.GetHistory(key)
	req := providers.ChatRequest{
		Messages:    append(append([]providers.Message(nil), history...), providers.Message{Role: "user", Content: summarizePrompt}),
		Model:       l.resolvedModel(),
		Temperature: l.cfg.Temperature,
		MaxTokens:   512,
	}

	resp, err := l.provider.Chat(ctx, req)
	if err != nil || isBlank(resp.Content) {
		if err == nil {
			err = fmt.Errorf("empty summary")
		}
		l.logger.Warn("agent.compaction_failed", "session", key, "error", err)
		return
	}

	l.sessionMgr.Compact(key, resp.Content, keepRecent)
	l.sessionMgr.AddMessage(key, providers.Message{Role: "system", Content: tracker.Breadcrumb() + " — compacted history"})
}

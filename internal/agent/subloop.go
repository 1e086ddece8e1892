package agent

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/cognitive"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/discourse"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/providers"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/tools"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/tracing"
	"github.com/nextlevelbuilder/oxicrab-gw/pkg/protocol"
)

// subloopOptions lets a reduced subagent run bound iterations and restrict
// the visible tool set, without duplicating the subloop itself.
type subloopOptions struct {
	MaxIterations int
	ToolFilter    func(tools.Tool) bool
}

func (o subloopOptions) maxIterations(fallback int) int {
	if o.MaxIterations > 0 {
		return o.MaxIterations
	}
	return fallback
}

// runSubloop implements spec.md's tool-use subloop: CostGuard pre-flight,
// the LLM call, cost recording, parallel tool-call execution with
// safety/discourse post-processing, cognitive-pressure injection, and
// compaction triggering. Returns the final assistant text.
func (l *Loop) runSubloop(ctx context.Context, key, systemPrompt string, tracker *cognitive.Tracker, dr *discourse.Register, opts subloopOptions) (string, error) {
	maxIter := opts.maxIterations(l.cfg.MaxToolIterations)
	toolDefs := l.toolDefinitions(opts.ToolFilter)
	emptyRetries := 0

	for iter := 0; iter < maxIter; iter++ {
		if reason, ok := l.costGuard.CheckAllowed(); !ok {
			return reason, nil
		}

		history := l.sessionMgr.GetHistory(key)
		messages := append([]providers.Message{{Role: "system", Content: systemPrompt}}, history...)

		req := providers.ChatRequest{
			Messages:    messages,
			Tools:       toolDefs,
			Model:       l.resolvedModel(),
			Temperature: l.cfg.Temperature,
			MaxTokens:   l.cfg.MaxTokens,
		}

		spanCtx, span := tracing.StartSpan(ctx, "llm.chat",
			tracing.String("llm.model", req.Model),
			tracing.Int("llm.tool_count", len(toolDefs)),
		)
		resp, err := l.provider.Chat(spanCtx, req)
		if err == nil {
			span.SetAttributes(
				tracing.Int("llm.tokens.input", resp.Usage.PromptTokens),
				tracing.Int("llm.tokens.output", resp.Usage.CompletionTokens),
			)
		}
		tracing.EndWithError(span, err)
		if err != nil {
			return "", fmt.Errorf("provider chat: %w", err)
		}

		cents := l.costGuard.RecordLLMCall(req.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens,
			resp.Usage.CacheCreationTokens, resp.Usage.CacheReadTokens)
		l.sessionMgr.AccumulateTokens(key, int64(resp.Usage.PromptTokens), int64(resp.Usage.CompletionTokens))
		l.sessionMgr.SetLastPromptTokens(key, resp.Usage.PromptTokens, len(messages))
		if l.memoryStore != nil {
			if err := l.memoryStore.RecordCost(ctx, req.Model, int64(resp.Usage.PromptTokens), int64(resp.Usage.CompletionTokens),
				int64(resp.Usage.CacheCreationTokens), int64(resp.Usage.CacheReadTokens), cents); err != nil {
				l.logger.Warn("agent.cost_ledger_record_failed", "error", err)
			}
		}

		if len(resp.ToolCalls) > 0 {
			l.sessionMgr.AddMessage(key, providers.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})

			names := l.executeToolCalls(ctx, key, resp.ToolCalls, dr, opts.ToolFilter)
			tracker.RecordToolCalls(names)

			if pm := tracker.PressureMessage(); pm != "" {
				l.sessionMgr.AddMessage(key, providers.Message{Role: "user", Content: pm})
			}

			if l.shouldCompact(key, iter) {
				l.compact(ctx, key, tracker)
			}
			continue
		}

		if !isBlank(resp.Content) {
			l.sessionMgr.AddMessage(key, providers.Message{Role: "assistant", Content: resp.Content})
			return resp.Content, nil
		}

		if emptyRetries >= l.cfg.ReplyRetries {
			return "I wasn't able to generate a response this time.", nil
		}
		emptyRetries++
		l.publishAgentEvent(protocol.AgentEventRunRetrying, key, map[string]string{"attempt": fmt.Sprint(emptyRetries)})
		select {
		case <-time.After(backoffWithJitter(emptyRetries, time.Now().UnixNano())):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	return "I hit the conversation step limit before finishing — let me know if you'd like me to continue.", nil
}

func (l *Loop) toolDefinitions(filter func(tools.Tool) bool) []providers.ToolDefinition {
	var defs []providers.ToolDefinition
	for _, t := range l.toolRegistry.List() {
		if filter != nil && !filter(t) {
			continue
		}
		defs = append(defs, tools.ToProviderDef(t))
	}
	return defs
}

// executeToolCalls validates, executes, safety-scans, and appends one
// tool-result history entry per call, in the same order the LLM issued
// them (calls run concurrently but each writes into its own result slot,
// so result order never depends on completion order). Returns the
// executed tool names for cognitive tracking.
func (l *Loop) executeToolCalls(ctx context.Context, key string, calls []providers.ToolCall, dr *discourse.Register, filter func(tools.Tool) bool) []string {
	results := make([]*tools.Result, len(calls))

	for _, call := range calls {
		l.publishAgentEvent(protocol.AgentEventToolCall, key, map[string]string{"tool": call.Name})
	}

	if len(calls) == 1 {
		results[0] = l.executeOne(ctx, calls[0], filter)
	} else {
		g, gctx := errgroup.WithContext(ctx)
		for i, call := range calls {
			i, call := i, call
			g.Go(func() error {
				results[i] = l.executeOne(gctx, call, filter)
				return nil
			})
		}
		_ = g.Wait() // executeOne never returns an error itself; failures live in Result.IsError
	}

	names := make([]string, len(calls))
	for i, call := range calls {
		res := results[i]
		names[i] = call.Name
		l.publishAgentEvent(protocol.AgentEventToolResult, key, map[string]string{"tool": call.Name})

		if matches := l.promptGuard.Scan(res.ForLLM); len(matches) > 0 {
			l.logger.Warn("agent.tool_output_prompt_guard_match", "tool", call.Name, "matches", len(matches))
		}
		content := l.pathSan.Sanitize(res.ForLLM)

		l.sessionMgr.AddMessage(key, providers.Message{Role: "tool", Content: content, ToolCallID: call.ID})

		if entities := discourse.ExtractFromToolResult(call.Name, res.ForLLM); len(entities) > 0 {
			dr.RegisterEntities(entities)
		}
	}
	return names
}

func (l *Loop) executeOne(ctx context.Context, call providers.ToolCall, filter func(tools.Tool) bool) *tools.Result {
	spanCtx, span := tracing.StartSpan(ctx, "tool.execute", tracing.String("tool.name", call.Name))
	defer span.End()

	if filter != nil {
		if t, ok := l.toolRegistry.Get(call.Name); !ok || !filter(t) {
			return tools.ErrorResult(fmt.Sprintf("tool %q is not available in this context", call.Name))
		}
	}
	res := l.toolRegistry.Execute(spanCtx, call.Name, call.Arguments)
	if res.IsError {
		span.SetAttributes(tracing.String("tool.error", res.ForLLM))
	}
	return res
}

// shouldCompact reports whether the compaction threshold (token count or
// iteration interval) has been crossed.
func (l *Loop) shouldCompact(key string, iter int) bool {
	threshold := l.cfg.Compaction.ThresholdTokens
	every := l.cfg.Compaction.CheckpointEvery
	if threshold <= 0 && every <= 0 {
		return false
	}
	if every > 0 && iter > 0 && iter%every == 0 {
		return true
	}
	if threshold <= 0 {
		return false
	}
	return l.sessionMgr.PromptTokens(key) > threshold
}

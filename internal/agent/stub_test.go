package agent

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/providers"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/tools"
)

// scriptedProvider returns one ChatResponse per call, in order, cycling the
// last entry if exhausted; used to drive deterministic subloop scenarios.
type scriptedProvider struct {
	responses []providers.ChatResponse
	calls     int
	requests  []providers.ChatRequest
}

func (p *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.requests = append(p.requests, req)
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	p.calls++
	resp := p.responses[idx]
	return &resp, nil
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return p.Chat(ctx, req)
}

func (p *scriptedProvider) DefaultModel() string   { return "stub-model" }
func (p *scriptedProvider) Name() string           { return "stub" }
func (p *scriptedProvider) Warmup(context.Context) error { return nil }

// echoTool returns its "text" argument verbatim, or errors if the schema
// requirement is unmet (enforced by the registry before Execute runs).
type echoTool struct {
	subagentAccess tools.SubagentAccess
	calls          int
}

func (t *echoTool) Name() string        { return "echo" }
func (t *echoTool) Description() string { return "echoes text back" }
func (t *echoTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"text": map[string]interface{}{"type": "string"}},
		"required":   []interface{}{"text"},
	}
}
func (t *echoTool) Capabilities() tools.Capabilities {
	return tools.Capabilities{BuiltIn: true, SubagentAccess: t.subagentAccess}
}
func (t *echoTool) Execute(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
	t.calls++
	text, _ := args["text"].(string)
	return tools.NewResult(fmt.Sprintf("echo: %s", text)), nil
}

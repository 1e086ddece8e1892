package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/tools"
)

// BridgeTool proxies a single MCP server tool through the local Tool
// contract, so the registry and its execution pipeline (timeout, panic
// isolation, truncation, caching, logging) apply uniformly.
type BridgeTool struct {
	server     string
	client     *mcpclient.Client
	mcpTool    mcpgo.Tool
	namePrefix string
	trust      string
	connected  *atomic.Bool
}

func NewBridgeTool(server string, mcpTool mcpgo.Tool, client *mcpclient.Client, prefix, trust string, connected *atomic.Bool) *BridgeTool {
	return &BridgeTool{server: server, client: client, mcpTool: mcpTool, namePrefix: prefix, trust: trust, connected: connected}
}

// OriginalName is the tool name as declared by the MCP server, before any
// configured prefix.
func (b *BridgeTool) OriginalName() string { return b.mcpTool.Name }

func (b *BridgeTool) Name() string {
	if b.namePrefix != "" {
		return b.namePrefix + "_" + b.mcpTool.Name
	}
	return b.mcpTool.Name
}

func (b *BridgeTool) Description() string {
	return fmt.Sprintf("[%s] %s", b.server, b.mcpTool.Description)
}

func (b *BridgeTool) Schema() map[string]interface{} {
	if b.mcpTool.InputSchema.Type == "" {
		return map[string]interface{}{"type": "object"}
	}
	data, err := json.Marshal(b.mcpTool.InputSchema)
	if err != nil {
		return map[string]interface{}{"type": "object"}
	}
	var schema map[string]interface{}
	if err := json.Unmarshal(data, &schema); err != nil {
		return map[string]interface{}{"type": "object"}
	}
	return schema
}

// Capabilities reflects the server's declared trust level: an untrusted
// server's tools are treated as destructive and unavailable to subagents,
// regardless of what the tool itself claims to do.
func (b *BridgeTool) Capabilities() tools.Capabilities {
	if b.trust == "trusted" {
		return tools.Capabilities{NetworkOutbound: true, SubagentAccess: tools.SubagentAllowed}
	}
	return tools.Capabilities{NetworkOutbound: true, DestructiveAction: true, SubagentAccess: tools.SubagentDenied}
}

func (b *BridgeTool) Execute(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
	if b.connected != nil && !b.connected.Load() {
		return tools.ErrorResult(fmt.Sprintf("MCP server %q is disconnected", b.server)), nil
	}

	req := mcpgo.CallToolRequest{}
	req.Params.Name = b.mcpTool.Name
	req.Params.Arguments = args

	res, err := b.client.CallTool(ctx, req)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("mcp call failed: %v", err)), nil
	}

	var text string
	for _, c := range res.Content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			text += tc.Text
		}
	}
	if res.IsError {
		return tools.ErrorResult(text), nil
	}
	return tools.SilentResult(text), nil
}

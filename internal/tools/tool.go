// Package tools implements the Tool contract and ToolRegistry: a uniform
// execution pipeline (context injection, schema validation, caching,
// timeout/panic isolation, truncation, logging) over a homogeneous set of
// built-in and MCP-proxied tools.
package tools

import (
	"context"
	"encoding/json"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/providers"
)

// SubagentAccess describes whether a tool may be exposed to a spawned
// subagent.
type SubagentAccess int

const (
	SubagentDenied SubagentAccess = iota
	SubagentChildOnly
	SubagentAllowed
)

// Capabilities flags a tool's risk surface for policy decisions.
type Capabilities struct {
	BuiltIn           bool
	NetworkOutbound   bool
	DestructiveAction bool
	SubagentAccess    SubagentAccess
}

// Result is the unified return type from tool execution. Result is the
// exclusive channel by which a tool reports outcome: errors are carried,
// never thrown.
type Result struct {
	ForLLM  string `json:"for_llm"`
	ForUser string `json:"for_user,omitempty"`
	Silent  bool   `json:"silent"`
	IsError bool   `json:"is_error"`

	Usage    *providers.Usage `json:"-"`
	Provider string           `json:"-"`
}

func NewResult(forLLM string) *Result           { return &Result{ForLLM: forLLM} }
func SilentResult(forLLM string) *Result        { return &Result{ForLLM: forLLM, Silent: true} }
func ErrorResult(message string) *Result        { return &Result{ForLLM: message, IsError: true} }
func UserResult(content string) *Result         { return &Result{ForLLM: content, ForUser: content} }

// Tool is the interface every built-in or MCP-proxied tool implements.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]interface{}
	Capabilities() Capabilities
	Execute(ctx context.Context, args map[string]interface{}) (*Result, error)
}

// ContextSetter is implemented by tools that need to know the originating
// channel/chat before executing (e.g. "message" binds the default send
// target).
type ContextSetter interface {
	SetContext(channel, chatID string)
}

// CacheableTool marks a tool's results as safe to cache for cacheTTL,
// keyed on (name, canonical args).
type CacheableTool interface {
	CacheTTLSeconds() int
}

// ToProviderDef converts a Tool into the schema handed to the LLM.
func ToProviderDef(t Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		},
	}
}

// canonicalArgs produces a deterministic cache key from an args map.
func canonicalArgs(args map[string]interface{}) string {
	data, err := json.Marshal(sortedMap(args))
	if err != nil {
		return ""
	}
	return string(data)
}

// sortedMap re-encodes nested maps so json.Marshal's natural key-sort
// produces a stable string across calls with the same logical content.
func sortedMap(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, val := range x {
			out[k] = sortedMap(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, val := range x {
			out[i] = sortedMap(val)
		}
		return out
	default:
		return x
	}
}

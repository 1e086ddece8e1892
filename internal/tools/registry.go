package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultMaxChars = 8000
)

type cacheEntry struct {
	result    *Result
	expiresAt time.Time
}

// Registry stores the homogeneous set of registered tools and implements
// the execute pipeline: lookup, context injection, schema validation,
// cache lookup, timeout+panic-isolated execution, truncation, logging.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool

	cacheMu sync.Mutex
	cache   map[string]cacheEntry

	timeout  time.Duration
	maxChars int
}

// NewRegistry constructs an empty Registry. timeout and maxChars of 0 fall
// back to the package defaults.
func NewRegistry(timeout time.Duration, maxChars int) *Registry {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	return &Registry{
		tools:    make(map[string]Tool),
		cache:    make(map[string]cacheEntry),
		timeout:  timeout,
		maxChars: maxChars,
	}
}

// Register stores t under its own name; a duplicate name replaces the
// previous registration.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Unregister removes a tool, used when an MCP server disconnects.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// SetContext propagates the originating channel/chat to every tool that
// implements ContextSetter (only the built-in message tool does; there is
// no cron tool).
func (r *Registry) SetContext(channel, chatID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tools {
		if cs, ok := t.(ContextSetter); ok {
			cs.SetContext(channel, chatID)
		}
	}
}

// Execute runs the full pipeline for a single tool call and never returns
// an error itself — failures are carried in Result.IsError so the caller
// can feed them back to the LLM as a tool_result.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) *Result {
	start := time.Now()

	t, ok := r.Get(name)
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool %q", name))
	}

	if err := validateArgs(t.Schema(), args); err != nil {
		res := ErrorResult(fmt.Sprintf("invalid arguments: %v", err))
		logExecution(name, start, false)
		return res
	}

	cacheKey := ""
	if ct, ok := t.(CacheableTool); ok && ct.CacheTTLSeconds() > 0 {
		cacheKey = name + "|" + canonicalArgs(args)
		if cached, ok := r.cacheGet(cacheKey); ok {
			return cached
		}
	}

	result := r.runWithTimeoutAndRecover(ctx, t, args)
	result.ForLLM = truncateOutput(result.ForLLM, r.maxChars)

	if cacheKey != "" && !result.IsError {
		if ct, ok := t.(CacheableTool); ok {
			r.cacheSet(cacheKey, result, time.Duration(ct.CacheTTLSeconds())*time.Second)
		}
	}

	logExecution(name, start, !result.IsError)
	return result
}

func (r *Registry) runWithTimeoutAndRecover(ctx context.Context, t Tool, args map[string]interface{}) (result *Result) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer func() {
			if p := recover(); p != nil {
				result = ErrorResult(fmt.Sprintf("tool %q panicked: %v", t.Name(), p))
			}
			close(done)
		}()
		res, err := t.Execute(callCtx, args)
		if err != nil {
			result = ErrorResult(err.Error())
			return
		}
		result = res
	}()

	select {
	case <-done:
		return result
	case <-callCtx.Done():
		return ErrorResult(fmt.Sprintf("tool %q timed out after %s", t.Name(), r.timeout))
	}
}

func (r *Registry) cacheGet(key string) (*Result, bool) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	entry, ok := r.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(r.cache, key)
		return nil, false
	}
	return entry.result, true
}

func (r *Registry) cacheSet(key string, result *Result, ttl time.Duration) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	r.cache[key] = cacheEntry{result: result, expiresAt: time.Now().Add(ttl)}
}

func logExecution(name string, start time.Time, success bool) {
	slog.Info("tool.executed", "name", name, "duration_ms", time.Since(start).Milliseconds(), "success", success)
}

// validateArgs checks that every schema-required field is present. The
// types of the supplied values are not checked.
func validateArgs(schema map[string]interface{}, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	required, _ := schema["required"].([]string)
	if required == nil {
		if raw, ok := schema["required"].([]interface{}); ok {
			for _, v := range raw {
				if s, ok := v.(string); ok {
					required = append(required, s)
				}
			}
		}
	}
	for _, field := range required {
		if _, ok := args[field]; !ok {
			return fmt.Errorf("missing required field %q", field)
		}
	}
	return nil
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// truncateOutput strips ANSI escapes, pretty-prints JSON payloads, and
// truncates at a rune boundary with a fixed marker.
func truncateOutput(s string, maxChars int) string {
	s = ansiPattern.ReplaceAllString(s, "")

	if pretty, ok := prettyPrintJSON(s); ok {
		s = pretty
	}

	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	return string(r[:maxChars]) + "\n[truncated " + fmt.Sprint(len(r)-maxChars) + " more characters]"
}

func prettyPrintJSON(s string) (string, bool) {
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return "", false
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", false
	}
	return string(out), true
}

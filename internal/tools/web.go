package tools

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

const (
	defaultFetchMaxBytes = 200_000
	fetchUserAgent       = "oxicrab-gw/1.0 (+gateway tool)"

	// jsShellThreshold is the body size below which a plain fetch is
	// treated as a JS app shell (near-empty HTML with a root div and
	// script tags) worth retrying through a headless browser.
	jsShellThreshold = 800
	renderTimeout    = 20 * time.Second
)

// WebFetchTool fetches a URL with a size cap and basic SSRF protection
// (only http/https, no loopback or private-range hosts). When renderJS is
// set, it renders the page in a headless browser via go-rod if the call
// passes render=true or the plain fetch comes back looking like an empty
// SPA shell; without renderJS it never renders.
type WebFetchTool struct {
	maxBytes int
	client   *http.Client
	renderJS bool
}

func NewWebFetchTool(maxBytes int, renderJS bool) *WebFetchTool {
	if maxBytes <= 0 {
		maxBytes = defaultFetchMaxBytes
	}
	return &WebFetchTool{maxBytes: maxBytes, client: &http.Client{Timeout: 30 * time.Second}, renderJS: renderJS}
}

func (t *WebFetchTool) Name() string        { return "web_fetch" }
func (t *WebFetchTool) Description() string { return "Fetch a URL and return its body, capped to a byte limit" }
func (t *WebFetchTool) Capabilities() Capabilities {
	return Capabilities{BuiltIn: true, NetworkOutbound: true, SubagentAccess: SubagentAllowed}
}
func (t *WebFetchTool) CacheTTLSeconds() int { return 300 }
func (t *WebFetchTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url":    map[string]interface{}{"type": "string", "description": "http(s) URL to fetch"},
			"render": map[string]interface{}{"type": "boolean", "description": "force rendering the page in a headless browser instead of a plain HTTP fetch"},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	raw, _ := args["url"].(string)
	if raw == "" {
		return ErrorResult("url is required"), nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid url: %v", err)), nil
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrorResult("only http/https urls are allowed"), nil
	}
	if err := rejectPrivateHost(u.Hostname()); err != nil {
		return ErrorResult(err.Error()), nil
	}

	forceRender, _ := args["render"].(bool)
	if t.renderJS && forceRender {
		html, err := t.renderPage(ctx, raw)
		if err != nil {
			return ErrorResult(fmt.Sprintf("render failed: %v", err)), nil
		}
		return SilentResult(html), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return ErrorResult(fmt.Sprintf("fetch failed: %v", err)), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.maxBytes)))
	if err != nil {
		return ErrorResult(fmt.Sprintf("read body: %v", err)), nil
	}

	if t.renderJS && len(body) < jsShellThreshold {
		if html, err := t.renderPage(ctx, raw); err == nil {
			return SilentResult(html), nil
		}
		// headless render unavailable or failed; fall through to the
		// plain (likely thin) body rather than failing the whole fetch.
	}

	return SilentResult(string(body)), nil
}

// renderPage loads rawURL in a headless Chrome instance and returns the
// fully JS-rendered HTML, for SPA pages a plain HTTP fetch can't see past.
func (t *WebFetchTool) renderPage(ctx context.Context, rawURL string) (string, error) {
	renderCtx, cancel := context.WithTimeout(ctx, renderTimeout)
	defer cancel()

	browser := rod.New().Context(renderCtx)
	if err := browser.Connect(); err != nil {
		return "", fmt.Errorf("launch headless browser: %w", err)
	}
	defer browser.Close()

	page, err := browser.Page(proto.TargetCreateTarget{URL: rawURL})
	if err != nil {
		return "", fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait for page load: %w", err)
	}
	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("read rendered html: %w", err)
	}
	if len(html) > t.maxBytes {
		html = html[:t.maxBytes]
	}
	return html, nil
}

// rejectPrivateHost blocks loopback, link-local, and RFC1918 addresses to
// prevent the web_fetch tool from reaching internal services.
func rejectPrivateHost(host string) error {
	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("resolve host %q: %w", host, err)
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsPrivate() {
			return fmt.Errorf("host %q resolves to a non-routable address", host)
		}
	}
	return nil
}

// WebSearchTool delegates to a pluggable backend (Brave, DuckDuckGo, ...);
// the HTTP wiring for a concrete backend is configured by the caller.
type WebSearchTool struct {
	search func(ctx context.Context, query string) (string, error)
}

func NewWebSearchTool(search func(ctx context.Context, query string) (string, error)) *WebSearchTool {
	return &WebSearchTool{search: search}
}

func (t *WebSearchTool) Name() string        { return "web_search" }
func (t *WebSearchTool) Description() string { return "Search the web and return a list of results" }
func (t *WebSearchTool) Capabilities() Capabilities {
	return Capabilities{BuiltIn: true, NetworkOutbound: true, SubagentAccess: SubagentAllowed}
}
func (t *WebSearchTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string"},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return ErrorResult("query is required"), nil
	}
	if t.search == nil {
		return ErrorResult("no web search backend configured"), nil
	}
	out, err := t.search(ctx, query)
	if err != nil {
		return ErrorResult(fmt.Sprintf("search failed: %v", err)), nil
	}
	return SilentResult(out), nil
}

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/providers"
)

// duckDuckGoSearch satisfies tools.NewWebSearchTool's search func. It hits
// DuckDuckGo's HTML-only endpoint (no API key required) and pulls out
// result titles/snippets with a small regexp scrape rather than a full HTML
// parser, matching the light-touch scraping internal/tools/web.go already
// does for fetched pages.
func duckDuckGoSearch(ctx context.Context, query string) (string, error) {
	endpoint := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "oxicrab-gateway/1.0")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("duckduckgo search: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return "", fmt.Errorf("read search response: %w", err)
	}

	matches := resultLinkRE.FindAllStringSubmatch(string(body), 8)
	if len(matches) == 0 {
		return "no results", nil
	}

	var b strings.Builder
	for i, m := range matches {
		title := stripTags(m[2])
		if title == "" {
			continue
		}
		fmt.Fprintf(&b, "%d. %s — %s\n", i+1, title, m[1])
	}
	return b.String(), nil
}

var (
	resultLinkRE = regexp.MustCompile(`(?s)<a rel="nofollow" class="result__a" href="([^"]+)"[^>]*>(.*?)</a>`)
	tagRE        = regexp.MustCompile(`<[^>]+>`)
)

func stripTags(s string) string {
	return strings.TrimSpace(tagRE.ReplaceAllString(s, ""))
}

// echoProvider is a zero-dependency Provider used by `gateway --echo` and
// `agent --echo`, so channel and tool wiring can be smoke-tested without
// spending on a real model.
type echoProvider struct{}

func newEchoProvider() providers.Provider { return echoProvider{} }

func (echoProvider) Name() string         { return "echo" }
func (echoProvider) DefaultModel() string { return "echo-1" }
func (echoProvider) Warmup(ctx context.Context) error { return nil }

func (echoProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = req.Messages[i].Content
			break
		}
	}
	return &providers.ChatResponse{
		Content:      "echo: " + last,
		FinishReason: "stop",
		Usage:        providers.Usage{PromptTokens: len(last), CompletionTokens: len(last)},
	}, nil
}

func (e echoProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	resp, err := e.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	onChunk(providers.StreamChunk{Content: resp.Content, Done: true})
	return resp, nil
}

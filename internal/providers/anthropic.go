package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const anthropicDefaultModel = "claude-sonnet-4-5-20250929"

// AnthropicProvider drives the Anthropic Messages API. Only the fields this
// gateway consumes are modeled; the full wire protocol is out of scope.
type AnthropicProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewAnthropicProvider builds a provider using apiKey against the public
// Anthropic API, or baseURL if non-empty (test doubles, proxies).
func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return &AnthropicProvider{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *AnthropicProvider) Name() string         { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string { return anthropicDefaultModel }

func (p *AnthropicProvider) Warmup(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	p.setHeaders(req)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

func (p *AnthropicProvider) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("content-type", "application/json")
}

type anthropicWireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicWireRequest struct {
	Model       string                  `json:"model"`
	Messages    []anthropicWireMessage  `json:"messages"`
	System      string                  `json:"system,omitempty"`
	MaxTokens   int                     `json:"max_tokens"`
	Temperature float64                 `json:"temperature"`
	Tools       []anthropicWireTool     `json:"tools,omitempty"`
	Stream      bool                    `json:"stream,omitempty"`
}

type anthropicWireTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type anthropicWireContentBlock struct {
	Type  string                 `json:"type"`
	Text  string                 `json:"text,omitempty"`
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`
}

type anthropicWireResponse struct {
	Content    []anthropicWireContentBlock `json:"content"`
	StopReason string                      `json:"stop_reason"`
	Usage      struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

func (p *AnthropicProvider) buildRequest(req ChatRequest, stream bool) anthropicWireRequest {
	var system strings.Builder
	var msgs []anthropicWireMessage
	for _, m := range req.Messages {
		if m.Role == "system" {
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.Content)
			continue
		}
		msgs = append(msgs, anthropicWireMessage{Role: m.Role, Content: m.Content})
	}

	model := req.Model
	if model == "" {
		model = p.DefaultModel()
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	var tools []anthropicWireTool
	for _, t := range req.Tools {
		tools = append(tools, anthropicWireTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}

	return anthropicWireRequest{
		Model:       model,
		Messages:    msgs,
		System:      system.String(),
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Tools:       tools,
		Stream:      stream,
	}
}

func (p *AnthropicProvider) toResponse(w anthropicWireResponse) *ChatResponse {
	resp := &ChatResponse{Usage: Usage{
		PromptTokens:        w.Usage.InputTokens,
		CompletionTokens:    w.Usage.OutputTokens,
		CacheCreationTokens: w.Usage.CacheCreationInputTokens,
		CacheReadTokens:     w.Usage.CacheReadInputTokens,
	}}
	var text strings.Builder
	for _, block := range w.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Arguments: block.Input})
		}
	}
	resp.Content = text.String()
	if len(resp.ToolCalls) > 0 {
		resp.FinishReason = "tool_calls"
	} else if w.StopReason == "max_tokens" {
		resp.FinishReason = "length"
	} else {
		resp.FinishReason = "stop"
	}
	return resp
}

func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, err := json.Marshal(p.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	p.setHeaders(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic chat: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("anthropic chat: status %d: %s", resp.StatusCode, string(raw))
	}

	var wire anthropicWireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("anthropic chat: decode response: %w", err)
	}
	return p.toResponse(wire), nil
}

// sseEvent is the minimal shape of an Anthropic server-sent event this
// gateway cares about: delta text and the terminal message_delta usage.
type sseEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type  string `json:"type"`
		Text  string `json:"text"`
		Usage struct {
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"delta"`
	Usage struct {
		InputTokens              int `json:"input_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

func (p *AnthropicProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	body, err := json.Marshal(p.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	p.setHeaders(httpReq)
	httpReq.Header.Set("accept", "text/event-stream")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic chat stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("anthropic chat stream: status %d: %s", resp.StatusCode, string(raw))
	}

	var text strings.Builder
	usage := Usage{}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		var ev sseEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Text != "" {
				text.WriteString(ev.Delta.Text)
				onChunk(StreamChunk{Content: ev.Delta.Text})
			}
		case "message_start":
			usage.PromptTokens = ev.Usage.InputTokens
			usage.CacheCreationTokens = ev.Usage.CacheCreationInputTokens
			usage.CacheReadTokens = ev.Usage.CacheReadInputTokens
		case "message_delta":
			usage.CompletionTokens = ev.Delta.Usage.OutputTokens
		}
	}
	onChunk(StreamChunk{Done: true})

	return &ChatResponse{Content: text.String(), FinishReason: "stop", Usage: usage}, scanner.Err()
}

var _ Provider = (*AnthropicProvider)(nil)

package tools

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/bus"
)

// OutboundPublisher abstracts the bus method the message tool depends on.
type OutboundPublisher interface {
	PublishOutbound(ctx context.Context, msg bus.OutboundMessage) error
}

// MessageTool sends a message to a channel/chat via the MessageBus,
// defaulting to the channel/chat the current turn originated from.
type MessageTool struct {
	publisher      OutboundPublisher
	defaultChannel string
	defaultChatID  string
}

func NewMessageTool(publisher OutboundPublisher) *MessageTool {
	return &MessageTool{publisher: publisher}
}

// SetContext implements ContextSetter: binds the current turn's origin as
// the default send target when the LLM omits channel/chat_id.
func (t *MessageTool) SetContext(channel, chatID string) {
	t.defaultChannel = channel
	t.defaultChatID = chatID
}

func (t *MessageTool) Name() string        { return "message" }
func (t *MessageTool) Description() string { return "Send a message to a channel and chat" }
func (t *MessageTool) Capabilities() Capabilities {
	return Capabilities{BuiltIn: true, SubagentAccess: SubagentDenied}
}
func (t *MessageTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"channel": map[string]interface{}{"type": "string", "description": "defaults to the current channel"},
			"chat_id": map[string]interface{}{"type": "string", "description": "defaults to the current chat"},
			"content": map[string]interface{}{"type": "string"},
		},
		"required": []string{"content"},
	}
}

func (t *MessageTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	content, _ := args["content"].(string)
	if content == "" {
		return ErrorResult("content is required"), nil
	}
	channel, _ := args["channel"].(string)
	if channel == "" {
		channel = t.defaultChannel
	}
	chatID, _ := args["chat_id"].(string)
	if chatID == "" {
		chatID = t.defaultChatID
	}
	if channel == "" || chatID == "" {
		return ErrorResult("no channel/chat_id available to send to"), nil
	}

	if err := t.publisher.PublishOutbound(ctx, bus.OutboundMessage{Channel: channel, ChatID: chatID, Content: content}); err != nil {
		return ErrorResult(fmt.Sprintf("publish failed: %v", err)), nil
	}
	return SilentResult("sent"), nil
}

// Package channels implements ChannelManager: the set of channel adapters
// (Telegram, Discord, a local CLI/websocket bridge) that bridge external
// transports to the MessageBus, plus outbound delivery with retry, status-
// message edit/send/delete tracking, and send_typing forwarding.
package channels

import (
	"context"
	"strings"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/bus"
)

// InternalChannels never receive outbound dispatch: "http" is claimed by
// the gateway's response-waiter router before it would reach here, and
// "subagent" results are delivered as synthetic inbound, never outbound.
var InternalChannels = map[string]bool{
	"http":     true,
	"subagent": true,
}

// IsInternalChannel reports whether name is excluded from outbound dispatch.
func IsInternalChannel(name string) bool {
	return InternalChannels[name]
}

// Channel is one external transport adapter.
type Channel interface {
	// Name returns the channel identifier used in session keys and routing.
	Name() string

	// Start begins listening for inbound messages. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts the adapter down.
	Stop(ctx context.Context) error

	// Send delivers an outbound message, discarding any platform message id.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// SendAndGetID delivers a message and returns its platform message id so
	// a later EditMessage/DeleteMessage call can target it.
	SendAndGetID(ctx context.Context, msg bus.OutboundMessage) (string, error)

	// EditMessage replaces the text of a previously sent message.
	EditMessage(ctx context.Context, chatID, messageID, content string) error

	// DeleteMessage removes a previously sent message.
	DeleteMessage(ctx context.Context, chatID, messageID string) error

	// SendTyping emits a best-effort typing/presence indicator.
	SendTyping(ctx context.Context, chatID string) error

	// IsRunning reports whether Start has completed and Stop has not.
	IsRunning() bool

	// IsAllowed checks a sender against the channel's allow list.
	IsAllowed(senderID string) bool
}

// BaseChannel provides the allow-list and lifecycle bookkeeping shared by
// every concrete adapter. Adapters embed it and implement Send/Start/Stop.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowList []string
	running   bool
}

// NewBaseChannel constructs a BaseChannel.
func NewBaseChannel(name string, msgBus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{name: name, bus: msgBus, allowList: allowList}
}

func (c *BaseChannel) Name() string { return c.name }

func (c *BaseChannel) Bus() *bus.MessageBus { return c.bus }

func (c *BaseChannel) IsRunning() bool { return c.running }

func (c *BaseChannel) SetRunning(running bool) { c.running = running }

// HasAllowList reports whether an allow list is configured.
func (c *BaseChannel) HasAllowList() bool { return len(c.allowList) > 0 }

// IsAllowed checks senderID against the allow list. An empty allow list
// admits every sender. Supports the compound "id|username" format so a
// config can allow-list by either platform id or handle.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range c.allowList {
		trimmed := strings.TrimPrefix(allowed, "@")
		allowedID := trimmed
		allowedUser := ""
		if idx := strings.Index(trimmed, "|"); idx > 0 {
			allowedID = trimmed[:idx]
			allowedUser = trimmed[idx+1:]
		}

		if senderID == allowed ||
			idPart == allowed ||
			senderID == trimmed ||
			idPart == trimmed ||
			idPart == allowedID ||
			(allowedUser != "" && senderID == allowedUser) ||
			(userPart != "" && (userPart == allowed || userPart == trimmed || userPart == allowedUser)) {
			return true
		}
	}
	return false
}

// HandleInbound publishes a received message to the bus. Adapters call this
// from their own receive loop; no allow-list check is made here —
// dm_policy/pairing enforcement for unauthorized senders happens in
// AgentLoop's routeAuthorization, so unauthorized senders still reach the
// agent as an unauthorized turn (for a pairing prompt) rather than being
// dropped silently at the transport edge.
func (c *BaseChannel) HandleInbound(ctx context.Context, senderID, chatID, content string, media []string, metadata map[string]string) error {
	return c.bus.PublishInbound(ctx, bus.InboundMessage{
		Channel:  c.name,
		SenderID: senderID,
		ChatID:   chatID,
		Content:  content,
		Media:    media,
		Metadata: metadata,
	})
}

// Truncate shortens s to maxLen runes, appending "...".
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

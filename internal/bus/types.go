// Package bus implements the MessageBus: bounded inbound/outbound queues,
// per-key sliding-window rate limiting, and outbound secret-leak redaction.
package bus

// InboundMessage is a message received from a channel adapter.
// Session key = "channel:chat_id"; immutable once published.
type InboundMessage struct {
	Channel  string            `json:"channel"`
	SenderID string            `json:"sender_id"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Media    []string          `json:"media_paths,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Ts       int64             `json:"timestamp"`
}

// SessionKey returns the canonical "channel:chat_id" key for this message.
func (m InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// OutboundMessage is a message to be delivered to a channel adapter.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	ReplyTo  string            `json:"reply_to,omitempty"`
	Media    []MediaAttachment `json:"media,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// IsStatus reports whether this outbound is an editable status/progress
// message rather than a final reply.
func (m OutboundMessage) IsStatus() bool {
	return m.Metadata != nil && m.Metadata["status"] == "true"
}

// MediaAttachment is a media file delivered alongside an outbound message.
type MediaAttachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Caption     string `json:"caption,omitempty"`
}

// Event is a server-side event broadcast to the gateway's optional /ws
// stream (agent lifecycle, cron ticks, health).
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription so callers don't
// need a concrete *MessageBus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

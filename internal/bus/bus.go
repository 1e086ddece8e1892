package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/safety"
)

const (
	defaultQueueCapacity = 1000
	maxInboundBytes      = 1 << 20 // 1 MB
	enqueueTimeout       = 10 * time.Second

	inboundRateLimit  = 30
	inboundRateWindow = 60 * time.Second
	outboundRateLimit = 60
	outboundRateWindow = 60 * time.Second

	maxTrackedRateKeys = 5000
)

// MessageBus is the single producer/consumer hub between channel adapters
// and the agent loop: bounded queues, per-key sliding-window rate limiting,
// and outbound leak redaction.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	inboundTaken  bool
	outboundTaken bool
	takeMu        sync.Mutex

	rlMu     sync.Mutex
	inRates  map[string]*rate.Limiter
	outRates map[string]*rate.Limiter

	leaks *safety.LeakDetector

	subMu sync.Mutex
	subs  map[string]EventHandler
}

// New constructs a MessageBus with default queue capacities and a fresh
// LeakDetector. Register known secrets via Leaks().RegisterSecret before
// traffic starts.
func New() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, defaultQueueCapacity),
		outbound: make(chan OutboundMessage, defaultQueueCapacity),
		inRates:  make(map[string]*rate.Limiter),
		outRates: make(map[string]*rate.Limiter),
		leaks:    safety.NewLeakDetector(),
		subs:     make(map[string]EventHandler),
	}
}

// Leaks returns the bus's LeakDetector so callers can register known
// secrets from config at startup.
func (b *MessageBus) Leaks() *safety.LeakDetector { return b.leaks }

// PublishInbound enforces the 1 MB size cap, the per-sender rate limit, and
// a bounded enqueue. Returns an error describing why the message was
// dropped; callers should log it and move on, never block indefinitely.
func (b *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	if len(msg.Content) > maxInboundBytes {
		slog.Warn("bus.inbound_too_large", "channel", msg.Channel, "bytes", len(msg.Content))
		return fmt.Errorf("message exceeds 1 MB limit")
	}

	key := msg.Channel + ":" + msg.SenderID
	if !b.allow(b.inRates, key, inboundRateLimit, inboundRateWindow) {
		return fmt.Errorf("rate limit exceeded")
	}

	select {
	case b.inbound <- msg:
		return nil
	case <-time.After(enqueueTimeout):
		return fmt.Errorf("queue full")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeInbound must be called by exactly one consumer (the AgentLoop), one
// call at a time; a call made while another is still waiting panics.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	b.takeMu.Lock()
	if b.inboundTaken {
		b.takeMu.Unlock()
		panic("bus: ConsumeInbound called concurrently")
	}
	b.inboundTaken = true
	b.takeMu.Unlock()
	defer func() {
		b.takeMu.Lock()
		b.inboundTaken = false
		b.takeMu.Unlock()
	}()

	select {
	case msg, ok := <-b.inbound:
		return msg, ok
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound enforces per-destination rate limiting and leak
// redaction before a bounded enqueue.
func (b *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) error {
	key := msg.Channel + ":" + msg.ChatID
	if !b.allow(b.outRates, key, outboundRateLimit, outboundRateWindow) {
		return fmt.Errorf("rate limit exceeded")
	}

	msg.Content = b.leaks.Redact(msg.Content)

	select {
	case b.outbound <- msg:
		return nil
	case <-time.After(enqueueTimeout):
		return fmt.Errorf("queue full")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubscribeOutbound must be called by exactly one consumer (the outbound
// router in internal/httpgw or internal/channels), one call at a time; a
// call made while another is still waiting panics.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	b.takeMu.Lock()
	if b.outboundTaken {
		b.takeMu.Unlock()
		panic("bus: SubscribeOutbound called concurrently")
	}
	b.outboundTaken = true
	b.takeMu.Unlock()
	defer func() {
		b.takeMu.Lock()
		b.outboundTaken = false
		b.takeMu.Unlock()
	}()

	select {
	case msg, ok := <-b.outbound:
		return msg, ok
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

// allow applies a per-key rate.Limiter over the given map (a token bucket
// refilling at limit/win, burst capped at limit — the sliding-window
// behavior the per-sender/per-destination caps need), evicting arbitrarily
// once the tracked-key cap is reached (matching the teacher's bounded
// rate-limiter strategy).
func (b *MessageBus) allow(m map[string]*rate.Limiter, key string, limit int, win time.Duration) bool {
	b.rlMu.Lock()
	defer b.rlMu.Unlock()

	if len(m) >= maxTrackedRateKeys {
		for k := range m {
			delete(m, k)
			if len(m) < maxTrackedRateKeys {
				break
			}
		}
	}

	lim, ok := m[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(win/time.Duration(limit)), limit)
		m[key] = lim
	}
	return lim.Allow()
}

// Subscribe registers an event handler for the optional /ws stream.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.subs[id] = handler
}

// Unsubscribe removes a previously registered handler.
func (b *MessageBus) Unsubscribe(id string) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	delete(b.subs, id)
}

// Broadcast delivers an event to every subscriber, best-effort.
func (b *MessageBus) Broadcast(event Event) {
	b.subMu.Lock()
	handlers := make([]EventHandler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.subMu.Unlock()
	for _, h := range handlers {
		h(event)
	}
}

var _ EventPublisher = (*MessageBus)(nil)

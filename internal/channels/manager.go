package channels

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/bus"
)

const (
	sendMaxRetries = 3
	sendBaseDelay  = 300 * time.Millisecond
)

// ResponseWaiter claims an outbound message addressed to a one-shot HTTP
// waiter (internal/httpgw's /api/chat). Deliver returns true if a waiter for
// chatID existed and consumed the message; the outbound router then skips
// ordinary channel dispatch for it. Declared here, not in internal/httpgw,
// so channels never imports the gateway package.
type ResponseWaiter interface {
	Deliver(chatID, content string) bool
}

type trackedStatus struct {
	messageID string
}

// Manager owns the registered channel adapters and runs the single outbound
// dispatch loop: HTTP response-waiter routing, then status-message
// edit/send/delete tracking (spec's "outbound router"), then plain send with
// retry+backoff, then typing-event forwarding.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel

	msgBus   *bus.MessageBus
	waiter   ResponseWaiter
	cancel   context.CancelFunc
	logger   *slog.Logger

	statusMu sync.Mutex
	statuses map[string]*trackedStatus // "channel:chat_id" -> tracked status message
}

// NewManager constructs a Manager. Channels are registered via
// RegisterChannel before or after StartAll; the dispatcher adapts either
// way since it resolves the channel name at delivery time.
func NewManager(msgBus *bus.MessageBus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		channels: make(map[string]Channel),
		msgBus:   msgBus,
		logger:   logger,
		statuses: make(map[string]*trackedStatus),
	}
}

// SetResponseRouter wires the HTTP gateway's pending-waiter lookup. Optional;
// when nil, outbound messages on channel "http" are simply dropped (no
// gateway process is running).
func (m *Manager) SetResponseRouter(w ResponseWaiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waiter = w
}

// RegisterChannel adds or replaces a channel adapter.
func (m *Manager) RegisterChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// UnregisterChannel removes a channel adapter by name.
func (m *Manager) UnregisterChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, name)
}

// GetChannel returns a registered channel by name.
func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// EnabledChannels lists the names of every registered channel.
func (m *Manager) EnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// Status returns a running snapshot keyed by channel name, for the CLI's
// status/doctor commands.
func (m *Manager) Status() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(m.channels))
	for name, ch := range m.channels {
		out[name] = ch.IsRunning()
	}
	return out
}

// StartAll starts every registered adapter and the outbound dispatch loop.
// The dispatcher runs even with zero channels registered, since
// ResponseWaiter-only traffic (the HTTP gateway) still needs routing.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	dispatchCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	channels := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		channels = append(channels, ch)
	}
	m.mu.Unlock()

	go m.dispatchOutbound(dispatchCtx)
	go m.dispatchTyping(dispatchCtx)

	for _, ch := range channels {
		if err := ch.Start(ctx); err != nil {
			m.logger.Error("channels.start_failed", "channel", ch.Name(), "error", err)
		}
	}
	return nil
}

// StopAll stops the dispatch loop and every registered adapter.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	channels := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		channels = append(channels, ch)
	}
	m.mu.Unlock()

	for _, ch := range channels {
		if err := ch.Stop(ctx); err != nil {
			m.logger.Warn("channels.stop_failed", "channel", ch.Name(), "error", err)
		}
	}
	return nil
}

// dispatchOutbound is the single consumer of the bus's outbound queue (the
// spec's 4.14 outbound router): HTTP response-waiter routing first, then
// status-message tracking, then plain channel delivery.
func (m *Manager) dispatchOutbound(ctx context.Context) {
	for {
		msg, ok := m.msgBus.SubscribeOutbound(ctx)
		if !ok {
			return
		}

		m.mu.RLock()
		waiter := m.waiter
		m.mu.RUnlock()
		if waiter != nil && waiter.Deliver(msg.ChatID, msg.Content) {
			continue
		}

		if IsInternalChannel(msg.Channel) {
			continue
		}

		ch, ok := m.GetChannel(msg.Channel)
		if !ok {
			m.logger.Warn("channels.unknown_destination", "channel", msg.Channel)
			continue
		}

		m.deliver(ctx, ch, msg)
		m.cleanupMedia(msg)
	}
}

// deliver implements spec's 4.11/4.14 status-message semantics: consecutive
// status updates for a (channel, chat_id) edit a single tracked message;
// a non-status message deletes any tracked status first.
func (m *Manager) deliver(ctx context.Context, ch Channel, msg bus.OutboundMessage) {
	key := msg.Channel + ":" + msg.ChatID

	if msg.IsStatus() {
		m.statusMu.Lock()
		st, exists := m.statuses[key]
		m.statusMu.Unlock()

		if exists {
			if err := m.editWithRetry(ctx, ch, msg.ChatID, st.messageID, msg.Content); err != nil {
				m.logger.Warn("channels.status_edit_failed", "channel", msg.Channel, "error", err)
			}
			return
		}
		id, err := m.sendAndGetIDWithRetry(ctx, ch, msg)
		if err != nil {
			m.logger.Warn("channels.status_send_failed", "channel", msg.Channel, "error", err)
			return
		}
		m.statusMu.Lock()
		m.statuses[key] = &trackedStatus{messageID: id}
		m.statusMu.Unlock()
		return
	}

	m.statusMu.Lock()
	st, exists := m.statuses[key]
	if exists {
		delete(m.statuses, key)
	}
	m.statusMu.Unlock()
	if exists {
		if err := ch.DeleteMessage(ctx, msg.ChatID, st.messageID); err != nil {
			m.logger.Debug("channels.status_cleanup_failed", "channel", msg.Channel, "error", err)
		}
	}

	if err := m.sendWithRetry(ctx, ch, msg); err != nil {
		m.logger.Error("channels.send_failed", "channel", msg.Channel, "error", err)
	}
}

// sendWithRetry retries transport errors up to sendMaxRetries times with
// exponential backoff, per spec.md §4.11.
func (m *Manager) sendWithRetry(ctx context.Context, ch Channel, msg bus.OutboundMessage) error {
	var err error
	for attempt := 0; attempt < sendMaxRetries; attempt++ {
		if err = ch.Send(ctx, msg); err == nil {
			return nil
		}
		if !sleepBackoff(ctx, attempt) {
			return err
		}
	}
	return err
}

func (m *Manager) sendAndGetIDWithRetry(ctx context.Context, ch Channel, msg bus.OutboundMessage) (string, error) {
	var id string
	var err error
	for attempt := 0; attempt < sendMaxRetries; attempt++ {
		if id, err = ch.SendAndGetID(ctx, msg); err == nil {
			return id, nil
		}
		if !sleepBackoff(ctx, attempt) {
			return "", err
		}
	}
	return "", err
}

func (m *Manager) editWithRetry(ctx context.Context, ch Channel, chatID, messageID, content string) error {
	var err error
	for attempt := 0; attempt < sendMaxRetries; attempt++ {
		if err = ch.EditMessage(ctx, chatID, messageID, content); err == nil {
			return nil
		}
		if !sleepBackoff(ctx, attempt) {
			return err
		}
	}
	return err
}

func sleepBackoff(ctx context.Context, attempt int) bool {
	delay := sendBaseDelay << attempt
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

// cleanupMedia removes temporary media files after a send attempt (created
// by tools like create_image/tts, only needed for the duration of delivery).
func (m *Manager) cleanupMedia(msg bus.OutboundMessage) {
	for _, media := range msg.Media {
		if media.URL == "" {
			continue
		}
		if err := os.Remove(media.URL); err != nil {
			m.logger.Debug("channels.media_cleanup_failed", "path", media.URL, "error", err)
		}
	}
}

// dispatchTyping subscribes to "typing" events broadcast by AgentLoop and
// forwards them to the originating channel's SendTyping, best-effort.
func (m *Manager) dispatchTyping(ctx context.Context) {
	const subID = "channels.typing"
	m.msgBus.Subscribe(subID, func(ev bus.Event) {
		if ev.Name != "typing" {
			return
		}
		payload, ok := ev.Payload.(map[string]string)
		if !ok {
			return
		}
		ch, ok := m.GetChannel(payload["channel"])
		if !ok {
			return
		}
		go func() {
			if err := ch.SendTyping(context.Background(), payload["chat_id"]); err != nil {
				m.logger.Debug("channels.typing_failed", "channel", payload["channel"], "error", err)
			}
		}()
	})
	defer m.msgBus.Unsubscribe(subID)

	<-ctx.Done()
}

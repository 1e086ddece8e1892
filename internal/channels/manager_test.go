package channels

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/bus"
)

type fakeChannel struct {
	name string

	mu       sync.Mutex
	sent     []bus.OutboundMessage
	edits    []string
	deletes  []string
	failNext int
	nextID   int
}

func (f *fakeChannel) Name() string                     { return f.name }
func (f *fakeChannel) Start(ctx context.Context) error  { return nil }
func (f *fakeChannel) Stop(ctx context.Context) error   { return nil }
func (f *fakeChannel) IsRunning() bool                  { return true }
func (f *fakeChannel) IsAllowed(senderID string) bool   { return true }
func (f *fakeChannel) SendTyping(ctx context.Context, chatID string) error { return nil }

func (f *fakeChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	_, err := f.SendAndGetID(ctx, msg)
	return err
}

func (f *fakeChannel) SendAndGetID(ctx context.Context, msg bus.OutboundMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return "", errTransport
	}
	f.nextID++
	f.sent = append(f.sent, msg)
	return string(rune('a' + f.nextID)), nil
}

func (f *fakeChannel) EditMessage(ctx context.Context, chatID, messageID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, messageID+":"+content)
	return nil
}

func (f *fakeChannel) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, messageID)
	return nil
}

type transportError struct{}

func (transportError) Error() string { return "transport error" }

var errTransport = transportError{}

func TestManagerStatusMessageEditsTrackedMessage(t *testing.T) {
	b := bus.New()
	m := NewManager(b, nil)
	ch := &fakeChannel{name: "telegram"}
	m.RegisterChannel(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.StartAll(ctx); err != nil {
		t.Fatalf("StartAll: %v", err)
	}

	status := func(text string) bus.OutboundMessage {
		return bus.OutboundMessage{Channel: "telegram", ChatID: "c1", Content: text, Metadata: map[string]string{"status": "true"}}
	}
	if err := b.PublishOutbound(ctx, status("thinking")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, func() bool { ch.mu.Lock(); defer ch.mu.Unlock(); return len(ch.sent) == 1 })

	if err := b.PublishOutbound(ctx, status("still thinking")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, func() bool { ch.mu.Lock(); defer ch.mu.Unlock(); return len(ch.edits) == 1 })

	ch.mu.Lock()
	sentCount := len(ch.sent)
	ch.mu.Unlock()
	if sentCount != 1 {
		t.Fatalf("expected exactly one sent status message, got %d", sentCount)
	}
}

func TestManagerNonStatusDeletesTrackedStatus(t *testing.T) {
	b := bus.New()
	m := NewManager(b, nil)
	ch := &fakeChannel{name: "telegram"}
	m.RegisterChannel(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.StartAll(ctx); err != nil {
		t.Fatalf("StartAll: %v", err)
	}

	status := bus.OutboundMessage{Channel: "telegram", ChatID: "c1", Content: "thinking", Metadata: map[string]string{"status": "true"}}
	if err := b.PublishOutbound(ctx, status); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, func() bool { ch.mu.Lock(); defer ch.mu.Unlock(); return len(ch.sent) == 1 })

	final := bus.OutboundMessage{Channel: "telegram", ChatID: "c1", Content: "done"}
	if err := b.PublishOutbound(ctx, final); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, func() bool { ch.mu.Lock(); defer ch.mu.Unlock(); return len(ch.deletes) == 1 })

	ch.mu.Lock()
	sentCount := len(ch.sent)
	ch.mu.Unlock()
	if sentCount != 2 {
		t.Fatalf("expected the tracked status sent once and the final reply sent once, got %d sends", sentCount)
	}
}

func TestManagerSkipsInternalChannels(t *testing.T) {
	b := bus.New()
	m := NewManager(b, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.StartAll(ctx); err != nil {
		t.Fatalf("StartAll: %v", err)
	}

	if err := b.PublishOutbound(ctx, bus.OutboundMessage{Channel: "subagent", ChatID: "x", Content: "ignored"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	time.Sleep(50 * time.Millisecond) // nothing registered for "subagent"; dispatcher must not block or panic
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

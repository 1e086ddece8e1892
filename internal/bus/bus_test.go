package bus

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestPublishInboundRejectsOversized(t *testing.T) {
	b := New()
	ctx := context.Background()
	big := strings.Repeat("a", maxInboundBytes+1)
	if err := b.PublishInbound(ctx, InboundMessage{Channel: "telegram", SenderID: "1", Content: big}); err == nil {
		t.Fatal("expected size-limit error")
	}
}

func TestPublishInboundRateLimit(t *testing.T) {
	b := New()
	ctx := context.Background()
	for i := 0; i < inboundRateLimit; i++ {
		if err := b.PublishInbound(ctx, InboundMessage{Channel: "telegram", SenderID: "1", Content: "hi"}); err != nil {
			t.Fatalf("message %d should succeed: %v", i, err)
		}
	}
	if err := b.PublishInbound(ctx, InboundMessage{Channel: "telegram", SenderID: "1", Content: "hi"}); err == nil {
		t.Fatal("expected rate limit exceeded on the limit+1-th message")
	}
}

func TestConsumeInboundOnlyOnce(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.ConsumeInbound(ctx)
	time.Sleep(10 * time.Millisecond)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on second ConsumeInbound call")
		}
	}()
	b.ConsumeInbound(ctx)
}

func TestPublishOutboundRedactsKnownSecret(t *testing.T) {
	b := New()
	b.Leaks().RegisterSecret("sk-abcdef123456")
	ctx := context.Background()

	if err := b.PublishOutbound(ctx, OutboundMessage{Channel: "cli", ChatID: "direct", Content: "my key is sk-abcdef123456"}); err != nil {
		t.Fatalf("publish outbound: %v", err)
	}
	msg, ok := b.SubscribeOutbound(ctx)
	if !ok {
		t.Fatal("expected an outbound message")
	}
	if strings.Contains(msg.Content, "sk-abcdef123456") {
		t.Fatalf("secret not redacted: %q", msg.Content)
	}
}

func TestSessionKey(t *testing.T) {
	msg := InboundMessage{Channel: "telegram", ChatID: "42"}
	if got, want := msg.SessionKey(), "telegram:42"; got != want {
		t.Fatalf("SessionKey() = %q, want %q", got, want)
	}
}

package providers

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeProvider struct {
	calls int
	fail  bool
}

func (f *fakeProvider) Name() string         { return "fake" }
func (f *fakeProvider) DefaultModel() string { return "fake-model" }
func (f *fakeProvider) Warmup(context.Context) error { return nil }

func (f *fakeProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("boom")
	}
	return &ChatResponse{Content: "ok"}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	return f.Chat(ctx, req)
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	inner := &fakeProvider{fail: true}
	cb := NewCircuitBreaker(inner, 3, 50*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := cb.Chat(ctx, ChatRequest{}); err == nil {
			t.Fatalf("call %d expected failure", i)
		}
	}

	if _, err := cb.Chat(ctx, ChatRequest{}); err != errCircuitOpen {
		t.Fatalf("expected circuit open, got %v", err)
	}
	if inner.calls != 3 {
		t.Fatalf("expected inner provider called 3 times, got %d", inner.calls)
	}
}

func TestCircuitBreakerHalfOpenRecovers(t *testing.T) {
	inner := &fakeProvider{fail: true}
	cb := NewCircuitBreaker(inner, 1, 10*time.Millisecond)
	ctx := context.Background()

	if _, err := cb.Chat(ctx, ChatRequest{}); err == nil {
		t.Fatal("expected initial failure to open the circuit")
	}
	time.Sleep(20 * time.Millisecond)

	inner.fail = false
	resp, err := cb.Chat(ctx, ChatRequest{})
	if err != nil {
		t.Fatalf("expected half-open probe to succeed: %v", err)
	}
	if resp.Content != "ok" {
		t.Fatalf("unexpected content %q", resp.Content)
	}

	if _, err := cb.Chat(ctx, ChatRequest{}); err != nil {
		t.Fatalf("expected circuit closed after successful probe: %v", err)
	}
}

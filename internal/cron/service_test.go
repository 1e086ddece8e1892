package cron

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/bus"
)

func TestServiceFiresEchoJobWithoutAgent(t *testing.T) {
	store, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	b := bus.New()
	svc := NewService(store, b, nil, nil, nil)

	job := &Job{
		ID:      "echo1",
		Name:    "wakeup",
		Enabled: true,
		Targets: []Target{{Channel: "cli", ChatID: "direct"}},
		Schedule: Schedule{Kind: ScheduleEvery, EveryMs: 1000},
		Payload:  Payload{Kind: PayloadEcho, Message: "wakeup"},
	}
	if err := svc.AddJob(job); err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	svc.tick(ctx)

	out := drainOne(t, b)
	if out.Channel != "cli" || out.ChatID != "direct" || out.Content != "wakeup" {
		t.Fatalf("unexpected outbound: %+v", out)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		stored, _ := store.Get("echo1")
		if stored.RunCount == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected run_count 1 after first fire, got %d", stored.RunCount)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServiceRespectsMaxRuns(t *testing.T) {
	store, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	b := bus.New()
	svc := NewService(store, b, nil, nil, nil)

	job := &Job{
		ID:       "capped",
		Enabled:  true,
		MaxRuns:  1,
		RunCount: 1,
		Targets:  []Target{{Channel: "cli", ChatID: "direct"}},
		Schedule: Schedule{Kind: ScheduleEvery, EveryMs: 1},
		Payload:  Payload{Kind: PayloadEcho, Message: "should not fire"},
	}
	if err := svc.AddJob(job); err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	svc.tick(ctx)

	select {
	case <-time.After(100 * time.Millisecond):
	default:
	}
	ctx2, cancel2 := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel2()
	if _, ok := b.SubscribeOutbound(ctx2); ok {
		t.Fatal("expected no outbound for a job already at max_runs")
	}
}

func drainOne(t *testing.T, b *bus.MessageBus) bus.OutboundMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, ok := b.SubscribeOutbound(ctx)
	if !ok {
		t.Fatal("expected an outbound message, got none")
	}
	return msg
}

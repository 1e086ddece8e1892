package subagent

import (
	"context"
	"errors"
	"testing"
	"time"
)

func waitForStatus(t *testing.T, m *Manager, id, want string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if task, ok := m.Get(id); ok && task.Status == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("task %s did not reach status %q", id, want)
}

func TestSpawnRunsToCompletion(t *testing.T) {
	m := NewManager(func(ctx context.Context, task *Task) (string, error) {
		return "done: " + task.Prompt, nil
	}, nil, Config{})

	task, err := m.Spawn(context.Background(), "telegram:1", "label", "do the thing", 0, "telegram", "1")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	waitForStatus(t, m, task.ID, StatusCompleted)
}

func TestSpawnRejectsAtMaxDepth(t *testing.T) {
	m := NewManager(func(ctx context.Context, task *Task) (string, error) { return "", nil }, nil, Config{MaxSpawnDepth: 2})
	_, err := m.Spawn(context.Background(), "telegram:1", "l", "p", 2, "telegram", "1")
	if err == nil {
		t.Fatal("expected depth limit error")
	}
}

func TestSpawnFailureRecordsError(t *testing.T) {
	m := NewManager(func(ctx context.Context, task *Task) (string, error) {
		return "", errors.New("boom")
	}, nil, Config{})
	task, err := m.Spawn(context.Background(), "telegram:1", "l", "p", 0, "telegram", "1")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	waitForStatus(t, m, task.ID, StatusFailed)
}

func TestMaxChildrenPerParentEnforced(t *testing.T) {
	block := make(chan struct{})
	m := NewManager(func(ctx context.Context, task *Task) (string, error) {
		<-block
		return "ok", nil
	}, nil, Config{MaxChildren: 1, MaxConcurrent: 4})
	defer close(block)

	if _, err := m.Spawn(context.Background(), "telegram:1", "l", "p", 0, "telegram", "1"); err != nil {
		t.Fatalf("first spawn: %v", err)
	}
	if _, err := m.Spawn(context.Background(), "telegram:1", "l", "p", 0, "telegram", "1"); err == nil {
		t.Fatal("expected max-children error on second spawn")
	}
}

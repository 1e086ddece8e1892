// Package subagent implements SubagentManager: a bounded pool of child
// agent runs spawned by the main AgentLoop, each a reduced agent loop
// against the same LLM provider whose result is delivered back as a
// synthetic inbound message.
package subagent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/bus"
)

const wallClock = 5 * time.Minute

// Status values for a Task.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Task tracks one spawned subagent run.
type Task struct {
	ID            string `json:"id"`
	ParentKey     string `json:"parentKey"` // originating session key
	Label         string `json:"label"`
	Prompt        string `json:"prompt"`
	Status        string `json:"status"`
	Result        string `json:"result,omitempty"`
	Depth         int    `json:"depth"`
	OriginChannel string `json:"originChannel"`
	OriginChatID  string `json:"originChatId"`
	CreatedAt     int64  `json:"createdAt"`
	CompletedAt   int64  `json:"completedAt,omitempty"`

	cancel context.CancelFunc
}

// Runner executes a reduced agent loop for one subagent task and returns
// its final text. Implemented by internal/agent to avoid a circular
// dependency between the two packages.
type Runner func(ctx context.Context, task *Task) (string, error)

// Config bounds subagent concurrency and nesting.
type Config struct {
	MaxConcurrent int
	MaxSpawnDepth int
	MaxChildren   int
}

// Manager spawns, tracks, and cancels subagent tasks, announcing
// completion back onto the MessageBus as a synthetic inbound message
// addressed to the parent session.
type Manager struct {
	mu       sync.RWMutex
	tasks    map[string]*Task
	children map[string]int // parentKey -> count of live children

	sem    *semaphore.Weighted
	cfg    Config
	runner Runner
	msgBus *bus.MessageBus
}

func NewManager(runner Runner, msgBus *bus.MessageBus, cfg Config) *Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.MaxSpawnDepth <= 0 {
		cfg.MaxSpawnDepth = 3
	}
	if cfg.MaxChildren <= 0 {
		cfg.MaxChildren = 8
	}
	return &Manager{
		tasks:    make(map[string]*Task),
		children: make(map[string]int),
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		cfg:      cfg,
		runner:   runner,
		msgBus:   msgBus,
	}
}

// Spawn starts a subagent task in the background, respecting depth and
// per-parent child-count limits. Returns the new task immediately; the
// task itself runs asynchronously in its own goroutine.
func (m *Manager) Spawn(ctx context.Context, parentKey, label, prompt string, depth int, originChannel, originChatID string) (*Task, error) {
	if depth >= m.cfg.MaxSpawnDepth {
		return nil, fmt.Errorf("max spawn depth %d reached", m.cfg.MaxSpawnDepth)
	}

	m.mu.Lock()
	if m.children[parentKey] >= m.cfg.MaxChildren {
		m.mu.Unlock()
		return nil, fmt.Errorf("max children per agent (%d) reached for %s", m.cfg.MaxChildren, parentKey)
	}
	m.children[parentKey]++
	m.mu.Unlock()

	taskCtx, cancel := context.WithTimeout(context.Background(), wallClock)
	task := &Task{
		ID: uuid.NewString(), ParentKey: parentKey, Label: label, Prompt: prompt,
		Status: StatusRunning, Depth: depth,
		OriginChannel: originChannel, OriginChatID: originChatID,
		CreatedAt: time.Now().Unix(), cancel: cancel,
	}

	m.mu.Lock()
	m.tasks[task.ID] = task
	m.mu.Unlock()

	go m.run(taskCtx, task)
	return task, nil
}

func (m *Manager) run(ctx context.Context, task *Task) {
	defer func() {
		task.cancel()
		m.mu.Lock()
		m.children[task.ParentKey]--
		m.mu.Unlock()
	}()

	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.finish(task, StatusCancelled, "")
		return
	}
	defer m.sem.Release(1)

	result, err := m.runner(ctx, task)
	if err != nil {
		if ctx.Err() != nil {
			m.finish(task, StatusCancelled, "subagent cancelled or timed out")
		} else {
			m.finish(task, StatusFailed, err.Error())
		}
		slog.Warn("subagent.run_failed", "task", task.ID, "error", err)
		return
	}
	m.finish(task, StatusCompleted, result)
}

func (m *Manager) finish(task *Task, status, result string) {
	m.mu.Lock()
	task.Status = status
	task.Result = result
	task.CompletedAt = time.Now().Unix()
	m.mu.Unlock()

	if m.msgBus == nil {
		return
	}
	content := fmt.Sprintf("[subagent %q %s] %s", task.Label, status, result)
	msg := bus.InboundMessage{
		Channel: task.OriginChannel, ChatID: task.OriginChatID,
		SenderID: "subagent:" + task.ID, Content: content,
		Metadata: map[string]string{"source": "subagent", "task_id": task.ID},
		Ts:       time.Now().Unix(),
	}
	if err := m.msgBus.PublishInbound(context.Background(), msg); err != nil {
		slog.Warn("subagent.announce_failed", "task", task.ID, "error", err)
	}
}

// Cancel stops a running task.
func (m *Manager) Cancel(taskID string) error {
	m.mu.RLock()
	task, ok := m.tasks[taskID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown subagent task %q", taskID)
	}
	if task.cancel != nil {
		task.cancel()
	}
	return nil
}

// List returns every tracked task, optionally filtered by parent key.
func (m *Manager) List(parentKey string) []*Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Task
	for _, t := range m.tasks {
		if parentKey != "" && t.ParentKey != parentKey {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Get returns a single task by ID.
func (m *Manager) Get(taskID string) (*Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[taskID]
	return t, ok
}

package httpgw

import (
	"container/list"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/oxicrab-gw/pkg/protocol"
)

// taskStatus is one A2A task's lifecycle state, one of the protocol.A2ATask*
// constants.
type taskStatus string

type task struct {
	ID        string     `json:"id"`
	Status    taskStatus `json:"status"`
	Message   string     `json:"message"`
	Result    string     `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt int64      `json:"created_at"`
}

// taskStore is a bounded in-memory map of A2A tasks, evicting the oldest
// by created_at once the cap is reached (spec.md §4.12).
type taskStore struct {
	mu    sync.Mutex
	cap   int
	tasks map[string]*task
	order *list.List // oldest-first list of task ids
	elems map[string]*list.Element
}

func newTaskStore(cap int) *taskStore {
	return &taskStore{
		cap:   cap,
		tasks: make(map[string]*task),
		order: list.New(),
		elems: make(map[string]*list.Element),
	}
}

func (ts *taskStore) put(t *task) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if _, exists := ts.tasks[t.ID]; !exists {
		for len(ts.tasks) >= ts.cap {
			oldest := ts.order.Front()
			if oldest == nil {
				break
			}
			id := oldest.Value.(string)
			ts.order.Remove(oldest)
			delete(ts.elems, id)
			delete(ts.tasks, id)
		}
		ts.elems[t.ID] = ts.order.PushBack(t.ID)
	}
	ts.tasks[t.ID] = t
}

func (ts *taskStore) get(id string) (*task, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	t, ok := ts.tasks[id]
	return t, ok
}

type agentCard struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
	Protocol    string `json:"protocol"`
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, agentCard{
		Name:        s.cfg.A2A.AgentName,
		Description: s.cfg.A2A.Description,
		Version:     gatewayVersion,
		Protocol:    "a2a/1",
	})
}

type createTaskRequest struct {
	Message string `json:"message"`
}

// handleCreateTask implements POST /a2a/tasks: creates a task in
// "submitted" state, transitions to "working", runs the agent turn in the
// background, and marks the task "completed"/"failed" on response or
// timeout.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}
	if s.agent == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "agent not wired"})
		return
	}

	t := &task{
		ID:        uuid.NewString(),
		Status:    taskStatus(protocol.A2ATaskSubmitted),
		Message:   req.Message,
		CreatedAt: time.Now().UnixMilli(),
	}
	s.tasks.put(t)

	go s.runTask(t)

	writeJSON(w, http.StatusAccepted, t)
}

// runTask never mutates the task passed to it in place — each transition
// is stored as a fresh copy so a concurrent handleGetTask reading the
// previous copy never races with this goroutine's writes.
func (s *Server) runTask(t *task) {
	working := *t
	working.Status = taskStatus(protocol.A2ATaskWorking)
	s.tasks.put(&working)

	ctx, cancel := context.WithTimeout(context.Background(), chatTimeout)
	defer cancel()

	result, err := s.agent.ProcessDirect(ctx, "a2a:"+t.ID, t.Message, "a2a", t.ID)
	done := working
	if err != nil {
		done.Status = taskStatus(protocol.A2ATaskFailed)
		done.Error = err.Error()
	} else {
		done.Status = taskStatus(protocol.A2ATaskCompleted)
		done.Result = result
	}
	s.tasks.put(&done)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, ok := s.tasks.get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown task"})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

package httpgw

import (
	"testing"

	"github.com/nextlevelbuilder/oxicrab-gw/pkg/protocol"
)

func TestTaskStoreEvictsOldest(t *testing.T) {
	ts := newTaskStore(2)
	ts.put(&task{ID: "a", CreatedAt: 1})
	ts.put(&task{ID: "b", CreatedAt: 2})
	ts.put(&task{ID: "c", CreatedAt: 3})

	if _, ok := ts.get("a"); ok {
		t.Fatal("expected oldest task to be evicted")
	}
	if _, ok := ts.get("b"); !ok {
		t.Fatal("expected b to survive")
	}
	if _, ok := ts.get("c"); !ok {
		t.Fatal("expected c to survive")
	}
}

func TestTaskStorePutReplacesWithoutDoubleCounting(t *testing.T) {
	ts := newTaskStore(2)
	ts.put(&task{ID: "a", Status: taskStatus(protocol.A2ATaskSubmitted)})
	ts.put(&task{ID: "a", Status: taskStatus(protocol.A2ATaskCompleted)})
	ts.put(&task{ID: "b", Status: taskStatus(protocol.A2ATaskSubmitted)})

	if len(ts.tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(ts.tasks))
	}
	got, ok := ts.get("a")
	if !ok || got.Status != taskStatus(protocol.A2ATaskCompleted) {
		t.Fatalf("expected a to be updated in place, got %+v", got)
	}
}

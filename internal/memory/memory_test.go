package memory

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "memory.db")
	s, err := New(dbPath, Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, Entry{ID: "a", Kind: "note", Key: "k1", Content: "the quick brown fox"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Content != "the quick brown fox" {
		t.Fatalf("unexpected content: %q", got.Content)
	}
}

func TestSearchKeywordOnly(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, Entry{ID: "a", Kind: "note", Key: "k", Content: "deploy the payments service"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Upsert(ctx, Entry{ID: "b", Kind: "note", Key: "k", Content: "water the garden"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	results, err := s.Search(ctx, "payments", nil, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a" {
		t.Fatalf("expected only entry a, got %+v", results)
	}
}

func TestSearchVectorFusion(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, Entry{ID: "a", Kind: "note", Key: "k", Content: "alpha", Embedding: []float32{1, 0, 0}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Upsert(ctx, Entry{ID: "b", Kind: "note", Key: "k", Content: "beta", Embedding: []float32{0, 1, 0}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	results, err := s.Search(ctx, "", []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 || results[0].ID != "a" {
		t.Fatalf("expected entry a ranked first by cosine similarity, got %+v", results)
	}
}

func TestPruneExpiredRemovesStaleEntries(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, Entry{ID: "stale", Kind: "note", Key: "k", Content: "old", TTLSecs: 1, CreatedAt: time.Now().Add(-time.Hour).Unix()}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Upsert(ctx, Entry{ID: "fresh", Kind: "note", Key: "k", Content: "new"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	n, err := s.PruneExpired(ctx)
	if err != nil {
		t.Fatalf("PruneExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned, got %d", n)
	}
	if _, err := s.Get(ctx, "stale"); err == nil {
		t.Fatal("expected stale entry to be gone")
	}
	if _, err := s.Get(ctx, "fresh"); err != nil {
		t.Fatalf("expected fresh entry to survive: %v", err)
	}
}

func TestCostLedgerAccumulates(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.RecordCost(ctx, "claude-opus", 1000, 500, 0, 0, 42); err != nil {
		t.Fatalf("RecordCost: %v", err)
	}
	if err := s.RecordCost(ctx, "claude-opus", 2000, 1000, 0, 0, 84); err != nil {
		t.Fatalf("RecordCost: %v", err)
	}

	total, err := s.CostSince(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("CostSince: %v", err)
	}
	if total != 126 {
		t.Fatalf("expected 126 cents, got %d", total)
	}
}

func TestDLQAppendAndList(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	payload, _ := json.Marshal(map[string]string{"kind": "echo"})
	if err := s.AppendDLQ(ctx, "job-1", "daily-digest", payload, "smtp timeout"); err != nil {
		t.Fatalf("AppendDLQ: %v", err)
	}

	entries, err := s.ListDLQ(ctx, 10)
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 || entries[0].JobID != "job-1" || entries[0].Error != "smtp timeout" {
		t.Fatalf("unexpected dlq entries: %+v", entries)
	}
}

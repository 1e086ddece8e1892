package cron

import (
	"path/filepath"
	"testing"
)

func TestStorePutGetList(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "jobs.json"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	job := &Job{ID: "abc", Name: "test", Enabled: true}
	if err := s.Put(job); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok := s.Get("abc")
	if !ok || got.Name != "test" {
		t.Fatalf("Get returned %+v, %v", got, ok)
	}
	if len(s.List()) != 1 {
		t.Fatalf("expected 1 job, got %d", len(s.List()))
	}
}

func TestStorePersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := s.Put(&Job{ID: "j1", Name: "first", Enabled: true, RunCount: 3}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	reloaded, err := NewStore(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	job, ok := reloaded.Get("j1")
	if !ok {
		t.Fatal("expected job j1 to survive reload")
	}
	if job.RunCount != 3 {
		t.Fatalf("expected run count 3 to survive reload, got %d", job.RunCount)
	}
}

func TestStoreDelete(t *testing.T) {
	s, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	_ = s.Put(&Job{ID: "j1"})
	if err := s.Delete("j1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := s.Get("j1"); ok {
		t.Fatal("expected job to be gone after Delete")
	}
}

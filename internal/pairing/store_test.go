package pairing

import (
	"path/filepath"
	"testing"
	"time"
)

func TestRequestMintsAndReusesCode(t *testing.T) {
	s, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	code1, err := s.Request("telegram", "999")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if len(code1) != 8 {
		t.Fatalf("expected 8-char code, got %q", code1)
	}
	code2, err := s.Request("telegram", "999")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if code1 != code2 {
		t.Fatalf("expected repeated Request to reuse code: %q vs %q", code1, code2)
	}
}

func TestApprovePromotesToPaired(t *testing.T) {
	s, _ := NewStore("")
	code, _ := s.Request("telegram", "999")
	if s.IsPaired("telegram", "999") {
		t.Fatal("should not be paired before approval")
	}
	if err := s.Approve(code); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if !s.IsPaired("telegram", "999") {
		t.Fatal("expected paired after approval")
	}
	if pending := s.ListPending(); len(pending) != 0 {
		t.Fatalf("expected pending cleared after approval, got %+v", pending)
	}
}

func TestApproveUnknownCodeErrors(t *testing.T) {
	s, _ := NewStore("")
	if err := s.Approve("NOPE1234"); err == nil {
		t.Fatal("expected error for unknown code")
	}
}

func TestRevokeRemovesPaired(t *testing.T) {
	s, _ := NewStore("")
	code, _ := s.Request("discord", "42")
	_ = s.Approve(code)
	if err := s.Revoke("discord", "42"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if s.IsPaired("discord", "42") {
		t.Fatal("expected not paired after revoke")
	}
}

func TestListPendingIncludesEntry(t *testing.T) {
	s, _ := NewStore("")
	_, _ = s.Request("telegram", "999")
	pending := s.ListPending()
	if len(pending) != 1 || pending[0].Channel != "telegram" || pending[0].SenderID != "999" {
		t.Fatalf("unexpected pending list: %+v", pending)
	}
}

func TestPersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairing.json")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	code, _ := s.Request("telegram", "999")
	_ = s.Approve(code)

	reloaded, err := NewStore(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.IsPaired("telegram", "999") {
		t.Fatal("expected paired state to survive reload")
	}
}

func TestExpiredPendingNotReused(t *testing.T) {
	s, _ := NewStore("")
	code, _ := s.Request("telegram", "999")
	s.mu.Lock()
	s.pending[code].ExpiresAt = time.Now().Add(-time.Minute).UnixMilli()
	s.mu.Unlock()

	newCode, _ := s.Request("telegram", "999")
	if newCode == code {
		t.Fatal("expected a fresh code once the old one expired")
	}
}

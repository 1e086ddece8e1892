package sessions

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/providers"
)

func TestAddMessageAppendsOnly(t *testing.T) {
	m := NewManager("", 0)
	key := "telegram:123"
	m.AddMessage(key, providers.Message{Role: "user", Content: "hi"})
	m.AddMessage(key, providers.Message{Role: "assistant", Content: "hello"})

	hist := m.GetHistory(key)
	if len(hist) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(hist))
	}
}

func TestCompactPreservesKeepRecentVerbatim(t *testing.T) {
	m := NewManager("", 0)
	key := "telegram:123"
	for i := 0; i < 5; i++ {
		m.AddMessage(key, providers.Message{Role: "user", Content: "msg"})
	}
	m.Compact(key, "summary of old turns", 2)

	hist := m.GetHistory(key)
	// 1 summary-as-system + 2 kept verbatim
	if len(hist) != 3 {
		t.Fatalf("expected 3 messages after compaction, got %d", len(hist))
	}
	if hist[0].Role != "system" {
		t.Fatalf("expected leading summary message, got role %q", hist[0].Role)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, 0)
	key := "discord:456"
	m.AddMessage(key, providers.Message{Role: "user", Content: "persisted"})
	if err := m.Save(key); err != nil {
		t.Fatalf("Save: %v", err)
	}

	m2 := NewManager(dir, 0)
	hist := m2.GetHistory(key)
	if len(hist) != 1 || hist[0].Content != "persisted" {
		t.Fatalf("round-trip failed: %+v", hist)
	}
	if _, err := filepathGlob(dir); err != nil {
		t.Fatal(err)
	}
}

func filepathGlob(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*.json"))
}

func TestPruneExpiredRemovesStaleSessions(t *testing.T) {
	m := NewManager("", time.Millisecond)
	key := "telegram:stale"
	m.AddMessage(key, providers.Message{Role: "user", Content: "x"})
	time.Sleep(5 * time.Millisecond)

	expired := m.PruneExpired()
	if len(expired) != 1 || expired[0] != key {
		t.Fatalf("expected %q to be pruned, got %v", key, expired)
	}
	if len(m.GetHistory(key)) != 0 {
		t.Fatalf("expected pruned session history to be gone")
	}
}

func TestLastUsedChannelSkipsSyntheticKeys(t *testing.T) {
	m := NewManager("", 0)
	m.AddMessage("cron:job1", providers.Message{Role: "user", Content: "x"})
	time.Sleep(time.Millisecond)
	m.AddMessage("telegram:789", providers.Message{Role: "user", Content: "y"})

	channel, chatID := m.LastUsedChannel()
	if channel != "telegram" || chatID != "789" {
		t.Fatalf("expected telegram:789, got %s:%s", channel, chatID)
	}
}

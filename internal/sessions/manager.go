// Package sessions implements SessionStore: per-conversation message
// history, token accounting, and discourse/cognitive state, persisted to
// disk as one JSON file per session key.
package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/discourse"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/providers"
)

// Session is one conversation's durable state, keyed by "channel:chatId"
// (see bus.InboundMessage.SessionKey). Between compactions its Messages
// slice is append-only: compaction replaces a prefix with a single summary
// entry while preserving the most recent keepRecent entries verbatim.
type Session struct {
	Key      string              `json:"key"`
	Messages []providers.Message `json:"messages"`
	Summary  string              `json:"summary,omitempty"`
	Created  time.Time           `json:"created"`
	Updated  time.Time           `json:"updated"`

	Model        string `json:"model,omitempty"`
	Provider     string `json:"provider,omitempty"`
	Channel      string `json:"channel,omitempty"`
	InputTokens  int64  `json:"inputTokens,omitempty"`
	OutputTokens int64  `json:"outputTokens,omitempty"`

	CompactionCount  int `json:"compactionCount,omitempty"`
	ContextWindow    int `json:"contextWindow,omitempty"`
	LastPromptTokens int `json:"lastPromptTokens,omitempty"`
	LastMessageCount int `json:"lastMessageCount,omitempty"`

	SpawnedBy  string `json:"spawnedBy,omitempty"`
	SpawnDepth int    `json:"spawnDepth,omitempty"`

	DiscourseTurn     int                `json:"discourseTurn,omitempty"`
	DiscourseEntities []discourse.Entity `json:"discourseEntities,omitempty"`
}

// discourseRegister rebuilds a Register from the persisted snapshot. Called
// by AgentLoop at the start of each inbound message's processing.
func (s *Session) discourseRegister() *discourse.Register {
	r := discourse.New()
	r.Restore(s.DiscourseTurn, s.DiscourseEntities)
	return r
}

// Manager handles session lifecycle, persistence, and lookup. One Manager
// instance is shared by every channel and the CronService.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	storage  string
	ttl      time.Duration
}

// NewManager constructs a Manager backed by storage (a directory; empty
// disables persistence) and loads any sessions already on disk. ttl of 0
// disables TTL-based pruning.
func NewManager(storage string, ttl time.Duration) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		storage:  storage,
		ttl:      ttl,
	}
	if storage != "" {
		os.MkdirAll(storage, 0o755)
		m.loadAll()
	}
	return m
}

// GetOrCreate returns an existing session or creates a new one under key.
func (m *Manager) GetOrCreate(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[key]; ok {
		return s
	}
	now := time.Now()
	s := &Session{Key: key, Messages: []providers.Message{}, Created: now, Updated: now}
	m.sessions[key] = s
	return s
}

// Discourse returns the live discourse Register for key, creating the
// session if needed. Mutations to the returned Register are not persisted
// until SaveDiscourse is called.
func (m *Manager) Discourse(key string) *discourse.Register {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		now := time.Now()
		s = &Session{Key: key, Messages: []providers.Message{}, Created: now, Updated: now}
		m.sessions[key] = s
	}
	return s.discourseRegister()
}

// SaveDiscourse persists a mutated Register back onto its session.
func (m *Manager) SaveDiscourse(key string, r *discourse.Register) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.DiscourseTurn, s.DiscourseEntities = r.Snapshot()
		s.Updated = time.Now()
	}
}

// AddMessage appends a message to a session's history, creating the
// session if needed.
func (m *Manager) AddMessage(key string, msg providers.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok {
		now := time.Now()
		s = &Session{Key: key, Messages: []providers.Message{}, Created: now}
		m.sessions[key] = s
	}
	s.Messages = append(s.Messages, msg)
	s.Updated = time.Now()
}

// GetHistory returns a copy of the effective message history: the summary
// (if any) rendered as a leading system message, followed by the verbatim
// tail kept since the last compaction.
func (m *Manager) GetHistory(key string) []providers.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[key]
	if !ok {
		return nil
	}
	msgs := make([]providers.Message, 0, len(s.Messages)+1)
	if s.Summary != "" {
		msgs = append(msgs, providers.Message{Role: "system", Content: "Earlier conversation summary: " + s.Summary})
	}
	msgs = append(msgs, s.Messages...)
	return msgs
}

// Compact replaces every message older than the trailing keepRecent
// entries with summary, satisfying the append-only-between-compactions
// invariant: the verbatim tail is preserved exactly.
func (m *Manager) Compact(key, summary string, keepRecent int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok {
		return
	}
	if keepRecent < 0 {
		keepRecent = 0
	}
	if len(s.Messages) > keepRecent {
		s.Messages = append([]providers.Message(nil), s.Messages[len(s.Messages)-keepRecent:]...)
	}
	s.Summary = summary
	s.CompactionCount++
	s.Updated = time.Now()
}

// UpdateMetadata sets model/provider/channel metadata on a session.
func (m *Manager) UpdateMetadata(key, model, provider, channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		if model != "" {
			s.Model = model
		}
		if provider != "" {
			s.Provider = provider
		}
		if channel != "" {
			s.Channel = channel
		}
	}
}

// AccumulateTokens adds token counts from a completed run.
func (m *Manager) AccumulateTokens(key string, inputTokens, outputTokens int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.InputTokens += inputTokens
		s.OutputTokens += outputTokens
	}
}

// SetContextWindow caches the agent's context window on the session.
func (m *Manager) SetContextWindow(key string, cw int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.ContextWindow = cw
	}
}

// SetLastPromptTokens records actual prompt tokens from the last LLM
// response, used to decide when compaction should trigger.
func (m *Manager) SetLastPromptTokens(key string, tokens, msgCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.LastPromptTokens = tokens
		s.LastMessageCount = msgCount
	}
}

// PromptTokens returns the last recorded prompt token count for key, used
// to decide when compaction should trigger.
func (m *Manager) PromptTokens(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[key]; ok {
		return s.LastPromptTokens
	}
	return 0
}

// SetSpawnInfo sets subagent origin metadata on a session.
func (m *Manager) SetSpawnInfo(key, spawnedBy string, depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.SpawnedBy = spawnedBy
		s.SpawnDepth = depth
	}
}

// Reset clears a session's history, summary, and discourse state.
func (m *Manager) Reset(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.Messages = []providers.Message{}
		s.Summary = ""
		s.DiscourseTurn = 0
		s.DiscourseEntities = nil
		s.Updated = time.Now()
	}
}

// Delete removes a session entirely, including its on-disk file.
func (m *Manager) Delete(key string) error {
	m.mu.Lock()
	delete(m.sessions, key)
	m.mu.Unlock()

	if m.storage == "" {
		return nil
	}
	path := filepath.Join(m.storage, sanitizeFilename(key)+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// PruneExpired deletes sessions whose Updated timestamp is older than ttl.
// A no-op when ttl is 0. Intended to be called periodically by a
// background sweep, not on every message.
func (m *Manager) PruneExpired() []string {
	if m.ttl <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-m.ttl)

	m.mu.Lock()
	var expired []string
	for key, s := range m.sessions {
		if s.Updated.Before(cutoff) {
			expired = append(expired, key)
			delete(m.sessions, key)
		}
	}
	m.mu.Unlock()

	for _, key := range expired {
		if m.storage != "" {
			os.Remove(filepath.Join(m.storage, sanitizeFilename(key)+".json"))
		}
	}
	return expired
}

// SessionInfo is a lightweight session descriptor for listing.
type SessionInfo struct {
	Key          string    `json:"key"`
	MessageCount int       `json:"messageCount"`
	Created      time.Time `json:"created"`
	Updated      time.Time `json:"updated"`
}

// List returns metadata for every session, optionally filtered by channel.
func (m *Manager) List(channel string) []SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []SessionInfo
	for key, s := range m.sessions {
		if channel != "" && !strings.HasPrefix(key, channel+":") {
			continue
		}
		result = append(result, SessionInfo{Key: key, MessageCount: len(s.Messages), Created: s.Created, Updated: s.Updated})
	}
	return result
}

// LastUsedChannel finds the most recently updated non-synthetic session
// (skipping cron:/subagent:/heartbeat: keys) and returns its channel and
// chat ID, for heartbeat delivery target resolution (target="last").
func (m *Manager) LastUsedChannel() (channel, chatID string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var bestKey string
	var bestUpdated time.Time
	for key, s := range m.sessions {
		if strings.HasPrefix(key, "cron:") || strings.HasPrefix(key, "subagent:") || strings.HasPrefix(key, "heartbeat:") {
			continue
		}
		if s.Updated.After(bestUpdated) {
			bestUpdated = s.Updated
			bestKey = key
		}
	}
	if bestKey == "" {
		return "", ""
	}
	parts := strings.SplitN(bestKey, ":", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", ""
}

// Save persists a session to disk atomically via temp-file + rename.
func (m *Manager) Save(key string) error {
	if m.storage == "" {
		return nil
	}

	m.mu.RLock()
	s, ok := m.sessions[key]
	if !ok {
		m.mu.RUnlock()
		return nil
	}
	snapshot := *s
	snapshot.Messages = append([]providers.Message(nil), s.Messages...)
	snapshot.DiscourseEntities = append([]discourse.Entity(nil), s.DiscourseEntities...)
	m.mu.RUnlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	filename := sanitizeFilename(key)
	if filename == "." || !filepath.IsLocal(filename) || strings.ContainsAny(filename, `/\`) {
		return os.ErrInvalid
	}
	sessionPath := filepath.Join(m.storage, filename+".json")

	tmpFile, err := os.CreateTemp(m.storage, "session-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err := os.Rename(tmpPath, sessionPath); err != nil {
		return err
	}
	cleanup = false
	return nil
}

func (m *Manager) loadAll() {
	files, err := os.ReadDir(m.storage)
	if err != nil {
		return
	}
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.storage, f.Name()))
		if err != nil {
			continue
		}
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			continue
		}
		m.sessions[s.Key] = &s
	}
}

func sanitizeFilename(key string) string {
	return strings.ReplaceAll(key, ":", "_")
}

package pg

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/discourse"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/providers"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/sessions"
)

// SessionStore implements agent.SessionStore backed by Postgres. Mirrors
// the teacher's PGSessionStore: an in-memory cache absorbs repeated reads
// during a tool-use subloop, with writes flushed to the row on Save. Unlike
// the teacher's parallel store.SessionData type, this reuses
// sessions.Session directly so discourse state round-trips without a
// second struct to keep in sync.
type SessionStore struct {
	db *sql.DB

	mu    sync.RWMutex
	cache map[string]*sessions.Session
}

// NewSessionStore constructs a Postgres-backed SessionStore. Callers must
// have already run Migrate(db).
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db, cache: make(map[string]*sessions.Session)}
}

func (s *SessionStore) GetOrCreate(key string) *sessions.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrInitLocked(key)
}

func (s *SessionStore) getOrInitLocked(key string) *sessions.Session {
	if sess, ok := s.cache[key]; ok {
		return sess
	}
	if sess := s.loadFromDB(key); sess != nil {
		s.cache[key] = sess
		return sess
	}
	now := time.Now()
	sess := &sessions.Session{Key: key, Messages: []providers.Message{}, Created: now, Updated: now}
	s.cache[key] = sess

	msgsJSON, _ := json.Marshal(sess.Messages)
	entitiesJSON, _ := json.Marshal(sess.DiscourseEntities)
	if _, err := s.db.Exec(
		`INSERT INTO sessions (session_key, messages, discourse_entities, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (session_key) DO NOTHING`,
		key, msgsJSON, entitiesJSON, now, now,
	); err != nil {
		// Cache already holds the fresh session; a failed insert here just
		// means Save will retry the row on the next flush.
		_ = err
	}
	return sess
}

func (s *SessionStore) Discourse(key string) *discourse.Register {
	s.mu.Lock()
	sess := s.getOrInitLocked(key)
	s.mu.Unlock()

	r := discourse.New()
	r.Restore(sess.DiscourseTurn, sess.DiscourseEntities)
	return r
}

func (s *SessionStore) SaveDiscourse(key string, r *discourse.Register) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.cache[key]; ok {
		sess.DiscourseTurn, sess.DiscourseEntities = r.Snapshot()
		sess.Updated = time.Now()
	}
}

func (s *SessionStore) AddMessage(key string, msg providers.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.getOrInitLocked(key)
	sess.Messages = append(sess.Messages, msg)
	sess.Updated = time.Now()
}

func (s *SessionStore) GetHistory(key string) []providers.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.cache[key]
	if !ok {
		return nil
	}
	msgs := make([]providers.Message, 0, len(sess.Messages)+1)
	if sess.Summary != "" {
		msgs = append(msgs, providers.Message{Role: "system", Content: "Earlier conversation summary: " + sess.Summary})
	}
	return append(msgs, sess.Messages...)
}

func (s *SessionStore) Compact(key, summary string, keepRecent int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.cache[key]
	if !ok {
		return
	}
	if keepRecent < 0 {
		keepRecent = 0
	}
	if len(sess.Messages) > keepRecent {
		sess.Messages = append([]providers.Message(nil), sess.Messages[len(sess.Messages)-keepRecent:]...)
	}
	sess.Summary = summary
	sess.CompactionCount++
	sess.Updated = time.Now()
}

func (s *SessionStore) UpdateMetadata(key, model, provider, channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.cache[key]; ok {
		if model != "" {
			sess.Model = model
		}
		if provider != "" {
			sess.Provider = provider
		}
		if channel != "" {
			sess.Channel = channel
		}
	}
}

func (s *SessionStore) AccumulateTokens(key string, input, output int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.cache[key]; ok {
		sess.InputTokens += input
		sess.OutputTokens += output
	}
}

func (s *SessionStore) SetContextWindow(key string, cw int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.cache[key]; ok {
		sess.ContextWindow = cw
	}
}

func (s *SessionStore) SetLastPromptTokens(key string, tokens, msgCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.cache[key]; ok {
		sess.LastPromptTokens = tokens
		sess.LastMessageCount = msgCount
	}
}

func (s *SessionStore) PromptTokens(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.cache[key]; ok {
		return sess.LastPromptTokens
	}
	return 0
}

func (s *SessionStore) SetSpawnInfo(key, spawnedBy string, depth int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.cache[key]; ok {
		sess.SpawnedBy = spawnedBy
		sess.SpawnDepth = depth
	}
}

func (s *SessionStore) Reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.cache[key]; ok {
		sess.Messages = []providers.Message{}
		sess.Summary = ""
		sess.DiscourseTurn = 0
		sess.DiscourseEntities = nil
		sess.Updated = time.Now()
	}
}

func (s *SessionStore) Delete(key string) error {
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM sessions WHERE session_key = $1`, key)
	return err
}

// Save flushes the cached session for key to its row, upserting if the
// prior insert-on-create lost a race.
func (s *SessionStore) Save(key string) error {
	s.mu.RLock()
	sess, ok := s.cache[key]
	if !ok {
		s.mu.RUnlock()
		return nil
	}
	snapshot := *sess
	snapshot.Messages = append([]providers.Message(nil), sess.Messages...)
	snapshot.DiscourseEntities = append([]discourse.Entity(nil), sess.DiscourseEntities...)
	s.mu.RUnlock()

	msgsJSON, err := json.Marshal(snapshot.Messages)
	if err != nil {
		return fmt.Errorf("pg: marshal messages: %w", err)
	}
	entitiesJSON, err := json.Marshal(snapshot.DiscourseEntities)
	if err != nil {
		return fmt.Errorf("pg: marshal discourse entities: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO sessions (
			session_key, messages, summary, discourse_turn, discourse_entities,
			model, provider, channel, input_tokens, output_tokens, compaction_count,
			context_window, last_prompt_tokens, last_message_count, spawned_by, spawn_depth,
			created_at, updated_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		 ON CONFLICT (session_key) DO UPDATE SET
			messages = EXCLUDED.messages, summary = EXCLUDED.summary,
			discourse_turn = EXCLUDED.discourse_turn, discourse_entities = EXCLUDED.discourse_entities,
			model = EXCLUDED.model, provider = EXCLUDED.provider, channel = EXCLUDED.channel,
			input_tokens = EXCLUDED.input_tokens, output_tokens = EXCLUDED.output_tokens,
			compaction_count = EXCLUDED.compaction_count, context_window = EXCLUDED.context_window,
			last_prompt_tokens = EXCLUDED.last_prompt_tokens, last_message_count = EXCLUDED.last_message_count,
			spawned_by = EXCLUDED.spawned_by, spawn_depth = EXCLUDED.spawn_depth,
			updated_at = EXCLUDED.updated_at`,
		key, msgsJSON, snapshot.Summary, snapshot.DiscourseTurn, entitiesJSON,
		snapshot.Model, snapshot.Provider, snapshot.Channel, snapshot.InputTokens, snapshot.OutputTokens,
		snapshot.CompactionCount, snapshot.ContextWindow, snapshot.LastPromptTokens, snapshot.LastMessageCount,
		snapshot.SpawnedBy, snapshot.SpawnDepth, snapshot.Created, snapshot.Updated,
	)
	if err != nil {
		return fmt.Errorf("pg: save session: %w", err)
	}
	return nil
}

func (s *SessionStore) loadFromDB(key string) *sessions.Session {
	var sess sessions.Session
	var msgsJSON, entitiesJSON []byte
	if err := s.db.QueryRow(
		`SELECT session_key, messages, summary, discourse_turn, discourse_entities,
			model, provider, channel, input_tokens, output_tokens, compaction_count,
			context_window, last_prompt_tokens, last_message_count, spawned_by, spawn_depth,
			created_at, updated_at
		 FROM sessions WHERE session_key = $1`, key,
	).Scan(
		&sess.Key, &msgsJSON, &sess.Summary, &sess.DiscourseTurn, &entitiesJSON,
		&sess.Model, &sess.Provider, &sess.Channel, &sess.InputTokens, &sess.OutputTokens, &sess.CompactionCount,
		&sess.ContextWindow, &sess.LastPromptTokens, &sess.LastMessageCount, &sess.SpawnedBy, &sess.SpawnDepth,
		&sess.Created, &sess.Updated,
	); err != nil {
		return nil
	}
	_ = json.Unmarshal(msgsJSON, &sess.Messages)
	_ = json.Unmarshal(entitiesJSON, &sess.DiscourseEntities)
	return &sess
}

// LastUsedChannel finds the most recently updated non-synthetic session
// and returns its channel and chat ID, matching
// sessions.Manager.LastUsedChannel's semantics (satisfies heartbeat.LastTarget).
func (s *SessionStore) LastUsedChannel() (channel, chatID string) {
	var sessionKey string
	err := s.db.QueryRow(
		`SELECT session_key FROM sessions
		 WHERE session_key NOT LIKE 'cron:%' AND session_key NOT LIKE 'subagent:%' AND session_key NOT LIKE 'heartbeat:%'
		 ORDER BY updated_at DESC LIMIT 1`,
	).Scan(&sessionKey)
	if err != nil {
		return "", ""
	}
	for i := 0; i < len(sessionKey); i++ {
		if sessionKey[i] == ':' {
			return sessionKey[:i], sessionKey[i+1:]
		}
	}
	return "", ""
}

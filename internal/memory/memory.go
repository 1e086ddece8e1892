// Package memory implements MemoryStore: persistent long-term memory
// entries with fused full-text/vector search, an LLM cost ledger, and a
// dead-letter queue for failed cron runs. Backed by a local SQLite file
// (pure-Go driver, no CGO) with an FTS5 index for keyword search and
// in-process brute-force cosine similarity for the optional vector signal.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one persisted MemoryEntry.
type Entry struct {
	ID        string
	Kind      string
	Key       string
	Content   string
	CreatedAt int64
	UpdatedAt int64
	TTLSecs   int64 // 0 = no expiry
	Embedding []float32
	Metadata  map[string]string
}

// ScoredEntry is an Entry with its fused relevance score.
type ScoredEntry struct {
	Entry
	Score float64
}

// CostLedgerEntry records one completed LLM call for audit, independent of
// CostGuard's in-memory enforcement counters.
type CostLedgerEntry struct {
	ID          int64
	Model       string
	InputTok    int64
	OutputTok   int64
	CacheCreate int64
	CacheRead   int64
	Cents       int
	CreatedAt   int64
}

// DLQEntry is a failed cron-job run recorded for later inspection.
type DLQEntry struct {
	ID        int64
	JobID     string
	JobName   string
	Payload   string
	Error     string
	CreatedAt int64
}

// Config tunes fused-ranking weights, mirroring config.MemoryConfig.
type Config struct {
	MaxResults   int
	VectorWeight float64
	TextWeight   float64
	MinScore     float64
}

func (c Config) withDefaults() Config {
	if c.MaxResults <= 0 {
		c.MaxResults = 10
	}
	if c.VectorWeight == 0 && c.TextWeight == 0 {
		c.VectorWeight, c.TextWeight = 0.5, 0.5
	}
	return c
}

// Store implements MemoryStore backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	cfg    Config
	logger *slog.Logger
}

// New opens (or creates) the SQLite file at dbPath. A single connection is
// kept open (SetMaxOpenConns(1)) so concurrent callers serialize through
// one connection rather than hitting SQLITE_BUSY from independent writers.
func New(dbPath string, cfg Config, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("memory: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, cfg: cfg.withDefaults(), logger: logger}, nil
}

// Init creates all required tables and indexes.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_entries (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			key TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding TEXT,
			metadata TEXT,
			ttl_secs INTEGER DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_entries_key ON memory_entries(key)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS memory_entries_fts USING fts5(entry_id UNINDEXED, content)`,
		`CREATE TABLE IF NOT EXISTS cost_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			model TEXT NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			cache_create_tokens INTEGER NOT NULL DEFAULT 0,
			cache_read_tokens INTEGER NOT NULL DEFAULT 0,
			cents INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cost_ledger_created ON cost_ledger(created_at)`,
		`CREATE TABLE IF NOT EXISTS cron_dlq (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			job_name TEXT NOT NULL,
			payload TEXT NOT NULL,
			error TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("memory: init: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// Upsert inserts or replaces a memory entry and keeps its FTS row in sync.
func (s *Store) Upsert(ctx context.Context, e Entry) error {
	now := time.Now().Unix()
	if e.CreatedAt == 0 {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	var embJSON *string
	if len(e.Embedding) > 0 {
		v := serializeEmbedding(e.Embedding)
		embJSON = &v
	}
	var metaJSON *string
	if len(e.Metadata) > 0 {
		data, _ := json.Marshal(e.Metadata)
		v := string(data)
		metaJSON = &v
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memory: upsert begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO memory_entries (id, kind, key, content, embedding, metadata, ttl_secs, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.Key, e.Content, embJSON, metaJSON, e.TTLSecs, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("memory: upsert entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_entries_fts WHERE entry_id = ?`, e.ID); err != nil {
		return fmt.Errorf("memory: upsert fts delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO memory_entries_fts(entry_id, content) VALUES (?, ?)`, e.ID, e.Content); err != nil {
		return fmt.Errorf("memory: upsert fts insert: %w", err)
	}
	return tx.Commit()
}

// Get returns a single entry by id.
func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, key, content, embedding, metadata, ttl_secs, created_at, updated_at
		 FROM memory_entries WHERE id = ?`, id)
	return scanEntry(row)
}

// Delete removes an entry and its FTS row.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memory: delete begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_entries_fts WHERE entry_id = ?`, id); err != nil {
		return fmt.Errorf("memory: delete fts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_entries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("memory: delete entry: %w", err)
	}
	return tx.Commit()
}

// Search fuses keyword (FTS5) and vector (cosine) rankings. Either signal
// may be empty: pass an empty query to search purely by embedding, or a nil
// embedding to search purely by keyword. Scores are normalized to [0,1]
// within each signal before the weighted combination so one signal can't
// dominate just by having a wider numeric range.
func (s *Store) Search(ctx context.Context, query string, queryEmbedding []float32, topK int) ([]ScoredEntry, error) {
	if topK <= 0 {
		topK = s.cfg.MaxResults
	}

	textScores := make(map[string]float64)
	if strings.TrimSpace(query) != "" {
		rows, err := s.db.QueryContext(ctx,
			`SELECT entry_id, rank FROM memory_entries_fts WHERE memory_entries_fts MATCH ? ORDER BY rank`, query)
		if err != nil {
			return nil, fmt.Errorf("memory: search fts: %w", err)
		}
		var maxRank float64
		type hit struct {
			id   string
			rank float64
		}
		var hits []hit
		for rows.Next() {
			var id string
			var rank float64
			if err := rows.Scan(&id, &rank); err != nil {
				rows.Close()
				return nil, fmt.Errorf("memory: scan fts hit: %w", err)
			}
			neg := -rank
			if neg > maxRank {
				maxRank = neg
			}
			hits = append(hits, hit{id: id, rank: neg})
		}
		rows.Close()
		for _, h := range hits {
			if maxRank > 0 {
				textScores[h.id] = h.rank / maxRank
			} else {
				textScores[h.id] = 1
			}
		}
	}

	vectorScores := make(map[string]float64)
	if len(queryEmbedding) > 0 {
		rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM memory_entries WHERE embedding IS NOT NULL`)
		if err != nil {
			return nil, fmt.Errorf("memory: search vector: %w", err)
		}
		for rows.Next() {
			var id, embJSON string
			if err := rows.Scan(&id, &embJSON); err != nil {
				rows.Close()
				return nil, fmt.Errorf("memory: scan vector hit: %w", err)
			}
			stored, err := deserializeEmbedding(embJSON)
			if err != nil {
				continue
			}
			vectorScores[id] = cosineSimilarity(queryEmbedding, stored)
		}
		rows.Close()
	}

	ids := make(map[string]struct{}, len(textScores)+len(vectorScores))
	for id := range textScores {
		ids[id] = struct{}{}
	}
	for id := range vectorScores {
		ids[id] = struct{}{}
	}

	var results []ScoredEntry
	for id := range ids {
		score := s.cfg.TextWeight*textScores[id] + s.cfg.VectorWeight*vectorScores[id]
		if score < s.cfg.MinScore {
			continue
		}
		row := s.db.QueryRowContext(ctx,
			`SELECT id, kind, key, content, embedding, metadata, ttl_secs, created_at, updated_at
			 FROM memory_entries WHERE id = ?`, id)
		e, err := scanEntry(row)
		if err != nil {
			continue
		}
		results = append(results, ScoredEntry{Entry: e, Score: score})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// PruneExpired removes entries past their TTL. Returns the count removed.
func (s *Store) PruneExpired(ctx context.Context) (int, error) {
	now := time.Now().Unix()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM memory_entries WHERE ttl_secs > 0 AND created_at + ttl_secs < ?`, now)
	if err != nil {
		return 0, fmt.Errorf("memory: prune query: %w", err)
	}
	var expired []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("memory: prune scan: %w", err)
		}
		expired = append(expired, id)
	}
	rows.Close()

	for _, id := range expired {
		if err := s.Delete(ctx, id); err != nil {
			s.logger.Warn("memory.prune_delete_failed", "id", id, "error", err)
		}
	}
	return len(expired), nil
}

// RecordCost appends one completed LLM call to the audit ledger.
func (s *Store) RecordCost(ctx context.Context, model string, inputTok, outputTok, cacheCreate, cacheRead int64, cents int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cost_ledger (model, input_tokens, output_tokens, cache_create_tokens, cache_read_tokens, cents, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		model, inputTok, outputTok, cacheCreate, cacheRead, cents, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("memory: record cost: %w", err)
	}
	return nil
}

// CostSince sums recorded cents since the given time.
func (s *Store) CostSince(ctx context.Context, since time.Time) (int, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(cents) FROM cost_ledger WHERE created_at >= ?`, since.Unix(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("memory: cost since: %w", err)
	}
	return int(total.Int64), nil
}

// AppendDLQ records a failed cron-job run.
func (s *Store) AppendDLQ(ctx context.Context, jobID, jobName string, payload json.RawMessage, errText string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cron_dlq (job_id, job_name, payload, error, created_at) VALUES (?, ?, ?, ?, ?)`,
		jobID, jobName, string(payload), errText, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("memory: append dlq: %w", err)
	}
	return nil
}

// ListDLQ returns the most recent dead-lettered cron runs, newest first.
func (s *Store) ListDLQ(ctx context.Context, limit int) ([]DLQEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, job_name, payload, error, created_at FROM cron_dlq ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: list dlq: %w", err)
	}
	defer rows.Close()

	var out []DLQEntry
	for rows.Next() {
		var d DLQEntry
		if err := rows.Scan(&d.ID, &d.JobID, &d.JobName, &d.Payload, &d.Error, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("memory: scan dlq: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanEntry(row *sql.Row) (Entry, error) {
	var e Entry
	var embJSON, metaJSON sql.NullString
	if err := row.Scan(&e.ID, &e.Kind, &e.Key, &e.Content, &embJSON, &metaJSON, &e.TTLSecs, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return Entry{}, fmt.Errorf("memory: scan entry: %w", err)
	}
	if embJSON.Valid {
		e.Embedding, _ = deserializeEmbedding(embJSON.String)
	}
	if metaJSON.Valid {
		_ = json.Unmarshal([]byte(metaJSON.String), &e.Metadata)
	}
	return e, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func serializeEmbedding(v []float32) string {
	data, _ := json.Marshal(v)
	return string(data)
}

func deserializeEmbedding(s string) ([]float32, error) {
	var v []float32
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}

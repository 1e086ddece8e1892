package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/memory"
)

// MemoryStore implements agent.MemoryStore backed by Postgres: full-text
// search via to_tsvector/plainto_tsquery in place of SQLite's FTS5 virtual
// table, the same in-process cosine-similarity vector signal as
// internal/memory (no pgvector extension required), and the same
// cost-ledger shape. Grounded on internal/memory.Store's fused-ranking
// Search, translated table-for-table to Postgres.
type MemoryStore struct {
	db  *sql.DB
	cfg memory.Config
}

// NewMemoryStore constructs a Postgres-backed MemoryStore. Callers must
// have already run Migrate(db).
func NewMemoryStore(db *sql.DB, cfg memory.Config) *MemoryStore {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	if cfg.VectorWeight == 0 && cfg.TextWeight == 0 {
		cfg.VectorWeight, cfg.TextWeight = 0.5, 0.5
	}
	return &MemoryStore{db: db, cfg: cfg}
}

func (s *MemoryStore) Upsert(ctx context.Context, e memory.Entry) error {
	now := time.Now().Unix()
	if e.CreatedAt == 0 {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	var embJSON []byte
	if len(e.Embedding) > 0 {
		embJSON, _ = json.Marshal(e.Embedding)
	}
	var metaJSON []byte
	if len(e.Metadata) > 0 {
		metaJSON, _ = json.Marshal(e.Metadata)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_entries (id, kind, key, content, embedding, metadata, ttl_secs, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind, key = EXCLUDED.key, content = EXCLUDED.content,
			embedding = EXCLUDED.embedding, metadata = EXCLUDED.metadata,
			ttl_secs = EXCLUDED.ttl_secs, updated_at = EXCLUDED.updated_at`,
		e.ID, e.Kind, e.Key, e.Content, nullableJSON(embJSON), nullableJSON(metaJSON), e.TTLSecs, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("pg: upsert memory entry: %w", err)
	}
	return nil
}

// Search fuses keyword and vector rankings exactly as internal/memory.Store
// does, substituting Postgres's to_tsvector/ts_rank for SQLite's FTS5 MATCH.
func (s *MemoryStore) Search(ctx context.Context, query string, queryEmbedding []float32, topK int) ([]memory.ScoredEntry, error) {
	if topK <= 0 {
		topK = s.cfg.MaxResults
	}

	textScores := make(map[string]float64)
	if strings.TrimSpace(query) != "" {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, ts_rank(to_tsvector('english', content), plainto_tsquery('english', $1)) AS rank
			 FROM memory_entries
			 WHERE to_tsvector('english', content) @@ plainto_tsquery('english', $1)
			 ORDER BY rank DESC`, query)
		if err != nil {
			return nil, fmt.Errorf("pg: search fts: %w", err)
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
				return nil, fmt.Errorf("pg: scan fts hit: %w", err)
			}
			if rank > maxRank {
				maxRank = rank
			}
			hits = append(hits, hit{id: id, rank: rank})
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
			return nil, fmt.Errorf("pg: search vector: %w", err)
		}
		for rows.Next() {
			var id string
			var embJSON []byte
			if err := rows.Scan(&id, &embJSON); err != nil {
				rows.Close()
				return nil, fmt.Errorf("pg: scan vector hit: %w", err)
			}
			var stored []float32
			if err := json.Unmarshal(embJSON, &stored); err != nil {
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

	var results []memory.ScoredEntry
	for id := range ids {
		score := s.cfg.TextWeight*textScores[id] + s.cfg.VectorWeight*vectorScores[id]
		if score < s.cfg.MinScore {
			continue
		}
		e, err := s.get(ctx, id)
		if err != nil {
			continue
		}
		results = append(results, memory.ScoredEntry{Entry: e, Score: score})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *MemoryStore) get(ctx context.Context, id string) (memory.Entry, error) {
	var e memory.Entry
	var embJSON, metaJSON sql.NullString
	if err := s.db.QueryRowContext(ctx,
		`SELECT id, kind, key, content, embedding, metadata, ttl_secs, created_at, updated_at
		 FROM memory_entries WHERE id = $1`, id,
	).Scan(&e.ID, &e.Kind, &e.Key, &e.Content, &embJSON, &metaJSON, &e.TTLSecs, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return memory.Entry{}, err
	}
	if embJSON.Valid {
		_ = json.Unmarshal([]byte(embJSON.String), &e.Embedding)
	}
	if metaJSON.Valid {
		_ = json.Unmarshal([]byte(metaJSON.String), &e.Metadata)
	}
	return e, nil
}

// RecordCost appends one completed LLM call to the audit ledger.
func (s *MemoryStore) RecordCost(ctx context.Context, model string, inputTok, outputTok, cacheCreate, cacheRead int64, cents int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cost_ledger (model, input_tokens, output_tokens, cache_create_tokens, cache_read_tokens, cents, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		model, inputTok, outputTok, cacheCreate, cacheRead, cents, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("pg: record cost: %w", err)
	}
	return nil
}

// CostSince sums recorded cents since the given time, for cmd/oxicrab's
// `stats costs` subcommand.
func (s *MemoryStore) CostSince(ctx context.Context, since time.Time) (int, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT SUM(cents) FROM cost_ledger WHERE created_at >= $1`, since.Unix()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("pg: cost since: %w", err)
	}
	return int(total.Int64), nil
}

// AppendDLQ records a failed cron-job run, satisfying cron.DLQRecorder.
func (s *MemoryStore) AppendDLQ(ctx context.Context, jobID, jobName string, payload json.RawMessage, errText string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cron_dlq (job_id, job_name, payload, error, created_at) VALUES ($1, $2, $3, $4, $5)`,
		jobID, jobName, string(payload), errText, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("pg: append dlq: %w", err)
	}
	return nil
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

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

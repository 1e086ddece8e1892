// Package pairing implements PairingStore: out-of-band sender authorization
// via time-limited codes, for channels configured with dm_policy "pairing".
// Persistence follows internal/sessions.Manager's atomic temp-file+rename
// convention; no teacher analog was retrieved for the concrete store (only
// its call sites, e.g. internal/channels/zalo/personal/policy.go), so the
// map shapes and TTL here are built directly from spec.md §4.13.
package pairing

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const pendingTTL = 15 * time.Minute

// pendingEntry is an unapproved pairing request, keyed by its code.
type pendingEntry struct {
	Channel   string `json:"channel"`
	SenderID  string `json:"sender_id"`
	Code      string `json:"code"`
	ExpiresAt int64  `json:"expires_at_ms"`
}

// pairedEntry records an approved (channel, sender_id).
type pairedEntry struct {
	Channel    string `json:"channel"`
	SenderID   string `json:"sender_id"`
	ApprovedAt int64  `json:"approved_at_ms"`
}

type fileFormat struct {
	Pending []pendingEntry `json:"pending"`
	Paired  []pairedEntry  `json:"paired"`
}

// Store is the PairingStore: a pending map keyed by code and a paired map
// keyed by "channel:sender_id", one mutex, flushed to a single file on every
// mutation.
type Store struct {
	mu      sync.Mutex
	pending map[string]*pendingEntry // code -> entry
	paired  map[string]*pairedEntry  // "channel:sender_id" -> entry
	path    string
}

// NewStore constructs a Store, loading any existing file at path. An empty
// path disables persistence (tests).
func NewStore(path string) (*Store, error) {
	s := &Store{
		pending: make(map[string]*pendingEntry),
		paired:  make(map[string]*pairedEntry),
		path:    path,
	}
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read pairing store: %w", err)
	}
	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parse pairing store: %w", err)
	}
	now := time.Now().UnixMilli()
	for _, p := range ff.Pending {
		p := p
		if p.ExpiresAt > now {
			s.pending[p.Code] = &p
		}
	}
	for _, p := range ff.Paired {
		p := p
		s.paired[pairKey(p.Channel, p.SenderID)] = &p
	}
	return s, nil
}

func pairKey(channel, senderID string) string { return channel + ":" + senderID }

// Request returns an existing non-expired pending code for (channel,
// sender_id), or mints a new 8-char uppercase code. Satisfies
// agent.PairingRequester.
func (s *Store) Request(channel, senderID string) (string, error) {
	s.mu.Lock()
	now := time.Now()
	for _, p := range s.pending {
		if p.Channel == channel && p.SenderID == senderID && p.ExpiresAt > now.UnixMilli() {
			s.mu.Unlock()
			return p.Code, nil
		}
	}
	code := strings.ToUpper(strings.ReplaceAll(uuid.NewString()[:8], "-", ""))
	s.pending[code] = &pendingEntry{
		Channel:   channel,
		SenderID:  senderID,
		Code:      code,
		ExpiresAt: now.Add(pendingTTL).UnixMilli(),
	}
	s.mu.Unlock()
	return code, s.flush()
}

// Approve promotes a pending code to paired and removes the pending entry.
// Returns an error if the code is unknown or expired.
func (s *Store) Approve(code string) error {
	s.mu.Lock()
	p, ok := s.pending[code]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown or expired pairing code %q", code)
	}
	if p.ExpiresAt <= time.Now().UnixMilli() {
		delete(s.pending, code)
		s.mu.Unlock()
		return fmt.Errorf("pairing code %q has expired", code)
	}
	delete(s.pending, code)
	s.paired[pairKey(p.Channel, p.SenderID)] = &pairedEntry{
		Channel:    p.Channel,
		SenderID:   p.SenderID,
		ApprovedAt: time.Now().UnixMilli(),
	}
	s.mu.Unlock()
	return s.flush()
}

// Revoke removes (channel, sender_id) from the paired set, if present.
func (s *Store) Revoke(channel, senderID string) error {
	s.mu.Lock()
	delete(s.paired, pairKey(channel, senderID))
	s.mu.Unlock()
	return s.flush()
}

// IsPaired reports whether (channel, sender_id) has been approved.
func (s *Store) IsPaired(channel, senderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.paired[pairKey(channel, senderID)]
	return ok
}

// ListPending returns every unexpired pending request, for the CLI's
// `pairing list` and for acceptance tests.
func (s *Store) ListPending() []pendingEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UnixMilli()
	out := make([]pendingEntry, 0, len(s.pending))
	for _, p := range s.pending {
		if p.ExpiresAt > now {
			out = append(out, *p)
		}
	}
	return out
}

func (s *Store) flush() error {
	if s.path == "" {
		return nil
	}

	s.mu.Lock()
	ff := fileFormat{
		Pending: make([]pendingEntry, 0, len(s.pending)),
		Paired:  make([]pairedEntry, 0, len(s.paired)),
	}
	for _, p := range s.pending {
		ff.Pending = append(ff.Pending, *p)
	}
	for _, p := range s.paired {
		ff.Paired = append(ff.Paired, *p)
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pairing store: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmpFile, err := os.CreateTemp(dir, "pairing-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp pairing store file: %w", err)
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

	if err := os.Rename(tmpPath, s.path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// Package agent implements AgentLoop: the single long-running task that
// owns the provider handle, the tool registry, and the per-session cost,
// cognitive, and discourse state, driving each inbound message through
// process_inbound and its tool-use subloop.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/bus"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/cognitive"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/config"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/contextproviders"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/cost"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/discourse"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/memory"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/providers"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/safety"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/sessions"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/subagent"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/tools"
	"github.com/nextlevelbuilder/oxicrab-gw/pkg/protocol"
)

const (
	defaultMaxToolIterations = 25
	defaultReplyRetries      = 2
	defaultMemoryExcerpts    = 5
)

// ChannelPolicy is the dm_policy and allow list for one channel.
type ChannelPolicy struct {
	DMPolicy  string // "allowlist" (default) | "pairing" | "open"
	AllowList []string
}

func (p ChannelPolicy) resolvedPolicy() string {
	if p.DMPolicy == "" {
		return "allowlist"
	}
	return p.DMPolicy
}

func (p ChannelPolicy) allows(senderID string) bool {
	for _, id := range p.AllowList {
		if id == senderID {
			return true
		}
	}
	return false
}

// PairingRequester mints or fetches a pending pairing code for a sender not
// yet on a channel's allow list. Implemented by internal/pairing; declared
// here to avoid a circular dependency between the two packages.
type PairingRequester interface {
	Request(channel, senderID string) (code string, err error)
}

// SessionStore is the subset of *sessions.Manager this Loop drives a turn
// through. Declared here (rather than as a sessions-package interface) so
// a Postgres-backed store (internal/store/pg) can satisfy it without
// sessions importing store/pg — the same narrow-interface-in-consumer
// pattern used for PairingRequester/DLQRecorder/AgentTurner elsewhere.
// *sessions.Manager satisfies this implicitly; cmd/oxicrab picks which
// concrete type to construct based on config.DatabaseConfig.Mode.
type SessionStore interface {
	GetOrCreate(key string) *sessions.Session
	Discourse(key string) *discourse.Register
	SaveDiscourse(key string, r *discourse.Register)
	AddMessage(key string, msg providers.Message)
	GetHistory(key string) []providers.Message
	Compact(key, summary string, keepRecent int)
	UpdateMetadata(key, model, provider, channel string)
	AccumulateTokens(key string, input, output int64)
	SetContextWindow(key string, cw int)
	SetLastPromptTokens(key string, tokens, msgCount int)
	PromptTokens(key string) int
	SetSpawnInfo(key, spawnedBy string, depth int)
	Reset(key string)
	Delete(key string) error
	Save(key string) error
}

// MemoryStore is the subset of *memory.Store this Loop reads/writes during
// a turn. A Postgres-backed implementation (internal/store/pg) can
// substitute for the default SQLite-backed memory.Store; see SessionStore.
type MemoryStore interface {
	Search(ctx context.Context, query string, queryEmbedding []float32, topK int) ([]memory.ScoredEntry, error)
	Upsert(ctx context.Context, e memory.Entry) error
	RecordCost(ctx context.Context, model string, inputTok, outputTok, cacheCreate, cacheRead int64, cents int) error
}

// Config configures a Loop.
type Config struct {
	Model             string
	MaxTokens         int
	Temperature       float64 // default 0.0, for tool-call determinism
	MaxToolIterations int
	ReplyRetries      int

	Identity  string // static system-prompt identity text
	UserFile  string // USER.md contents, verbatim
	Workspace string

	Compaction          config.CompactionConfig
	Cognitive           cognitive.Thresholds
	Channels            map[string]ChannelPolicy
	PromptGuardWarnOnly bool // false (default) = block on user-input match
}

func (c Config) withDefaults() Config {
	if c.MaxToolIterations <= 0 {
		c.MaxToolIterations = defaultMaxToolIterations
	}
	if c.ReplyRetries <= 0 {
		c.ReplyRetries = defaultReplyRetries
	}
	return c
}

// Loop is the AgentLoop: one instance per gateway process, shared across
// every channel and the CronService.
type Loop struct {
	cfg Config

	provider     providers.Provider
	toolRegistry *tools.Registry
	sessionMgr   SessionStore
	memoryStore  MemoryStore
	msgBus       *bus.MessageBus
	costGuard    *cost.Guard
	ctxProviders *contextproviders.Registry
	pairing      PairingRequester
	promptGuard  *safety.PromptGuard
	pathSan      *safety.PathSanitizer

	subagents *subagent.Manager // wired post-construction via SetSubagents

	keyLocksMu sync.Mutex
	keyLocks   map[string]*sync.Mutex

	logger *slog.Logger
}

// New constructs a Loop. pairing may be nil, in which case channels
// configured with dm_policy "pairing" behave as "allowlist" (unauthorized
// senders are dropped silently, since no code can be minted).
func New(
	cfg Config,
	provider providers.Provider,
	toolRegistry *tools.Registry,
	sessionMgr SessionStore,
	memoryStore MemoryStore,
	msgBus *bus.MessageBus,
	costGuard *cost.Guard,
	ctxProviders *contextproviders.Registry,
	pairing PairingRequester,
	logger *slog.Logger,
) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		cfg:          cfg.withDefaults(),
		provider:     provider,
		toolRegistry: toolRegistry,
		sessionMgr:   sessionMgr,
		memoryStore:  memoryStore,
		msgBus:       msgBus,
		costGuard:    costGuard,
		ctxProviders: ctxProviders,
		pairing:      pairing,
		promptGuard:  safety.NewPromptGuard(),
		pathSan:      safety.NewPathSanitizer(cfg.Workspace),
		keyLocks:     make(map[string]*sync.Mutex),
		logger:       logger,
	}
}

// SetSubagents wires the SubagentManager after construction, since
// subagent.Manager needs a Runner backed by this Loop. The Loop only stores
// the reference; no subagent tool is registered against it.
func (l *Loop) SetSubagents(m *subagent.Manager) { l.subagents = m }

// Run consumes inbound messages until ctx is cancelled. Each message is
// processed in its own goroutine so different sessions progress in
// parallel; a per-key mutex serializes messages on the same session.
func (l *Loop) Run(ctx context.Context) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		msg, ok := l.msgBus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		wg.Add(1)
		go func(m bus.InboundMessage) {
			defer wg.Done()
			l.handleInbound(ctx, m)
		}(msg)
	}
}

func (l *Loop) handleInbound(ctx context.Context, msg bus.InboundMessage) {
	key := msg.SessionKey()
	lock := l.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	if err := l.processInbound(ctx, key, msg); err != nil {
		l.logger.Error("agent.process_inbound_failed", "session", key, "error", err)
	}
}

func (l *Loop) lockFor(key string) *sync.Mutex {
	l.keyLocksMu.Lock()
	defer l.keyLocksMu.Unlock()
	m, ok := l.keyLocks[key]
	if !ok {
		m = &sync.Mutex{}
		l.keyLocks[key] = m
	}
	return m
}

// resolvedModel returns the configured model, falling back to the
// provider's own default.
func (l *Loop) resolvedModel() string {
	if l.cfg.Model != "" {
		return l.cfg.Model
	}
	return l.provider.DefaultModel()
}

// publishTyping is a best-effort typing indicator, broadcast as an event
// for the gateway's outbound router (4.14) to translate into a channel
// adapter's send_typing call.
func (l *Loop) publishTyping(channel, chatID string) {
	l.msgBus.Broadcast(bus.Event{
		Name:    "typing",
		Payload: map[string]string{"channel": channel, "chat_id": chatID},
	})
}

// publishAgentEvent broadcasts a run-lifecycle or tool-use event on the
// /ws event stream (internal/httpgw), payload.type set to one of
// protocol's AgentEvent* subtypes.
func (l *Loop) publishAgentEvent(subtype, key string, extra map[string]string) {
	payload := map[string]string{"type": subtype, "session": key}
	for k, v := range extra {
		payload[k] = v
	}
	l.msgBus.Broadcast(bus.Event{Name: protocol.EventAgent, Payload: payload})
}

// pairingReplyText renders the canonical pairing instruction string.
func pairingReplyText(code string) string {
	return fmt.Sprintf("[Pairing] To authorize, run: oxicrab pairing approve %s", code)
}

// backoffWithJitter returns an exponential backoff duration for the given
// retry attempt (0-indexed), with up to 50% jitter.
func backoffWithJitter(attempt int, seedNanos int64) time.Duration {
	base := 200 * time.Millisecond
	for i := 0; i < attempt; i++ {
		base *= 2
	}
	if base > 5*time.Second {
		base = 5 * time.Second
	}
	jitter := time.Duration(seedNanos % int64(base/2+1))
	return base + jitter
}

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }

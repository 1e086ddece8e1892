// Package cost implements CostGuard: a per-day budget latch, an hourly
// rate cap, and a cache-aware cost formula over LLM token usage.
package cost

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ModelPrice is a $/million-token rate pair.
type ModelPrice struct {
	InputPerM  float64
	OutputPerM float64
}

var defaultPrice = ModelPrice{InputPerM: 10, OutputPerM: 30}

// Config configures a Guard.
type Config struct {
	DailyBudgetCents int               // 0 = unlimited
	MaxActionsPerHour int              // 0 = unlimited
	ModelCosts        map[string]ModelPrice // prefix → price, config overrides
}

// Guard enforces CostGuard's pre-flight check and records completed calls.
// Mutex poisoning (a panic while a lock is held) is never allowed to
// propagate: a recovered panic bypasses enforcement for that call and logs
// a warning, rather than taking the whole process down.
type Guard struct {
	cfg Config

	mu         sync.Mutex
	dayBucket  string // YYYY-MM-DD in UTC
	dayCents   int
	exceeded   atomic.Bool

	rateMu sync.Mutex
	hits   []time.Time
}

// NewGuard constructs a Guard from cfg.
func NewGuard(cfg Config) *Guard {
	return &Guard{cfg: cfg, dayBucket: currentUTCDay()}
}

func currentUTCDay() string {
	return time.Now().UTC().Format("2006-01-02")
}

// CheckAllowed is called before each LLM call. It returns ("", true) when
// the call may proceed, or a human-readable reason and false otherwise.
func (g *Guard) CheckAllowed() (reason string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("cost.check_allowed_panic_bypassed", "panic", r)
			reason, ok = "", true
		}
	}()

	g.rollDayIfNeeded()

	if g.exceeded.Load() {
		return "daily budget exceeded", false
	}

	if g.cfg.MaxActionsPerHour > 0 {
		g.rateMu.Lock()
		defer g.rateMu.Unlock()
		g.pruneHits()
		if len(g.hits) >= g.cfg.MaxActionsPerHour {
			return "hourly rate limit exceeded", false
		}
	}

	return "", true
}

func (g *Guard) pruneHits() {
	cutoff := time.Now().Add(-time.Hour)
	i := 0
	for ; i < len(g.hits); i++ {
		if g.hits[i].After(cutoff) {
			break
		}
	}
	g.hits = g.hits[i:]
}

func (g *Guard) rollDayIfNeeded() {
	g.mu.Lock()
	defer g.mu.Unlock()
	day := currentUTCDay()
	if day != g.dayBucket {
		g.dayBucket = day
		g.dayCents = 0
		g.exceeded.Store(false)
	}
}

// priceFor resolves a $/M rate pair for model by longest-prefix match over
// config overrides, falling back to the embedded default.
func (g *Guard) priceFor(model string) ModelPrice {
	best := ""
	var price ModelPrice
	found := false
	for prefix, p := range g.cfg.ModelCosts {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best, price, found = prefix, p, true
		}
	}
	if found {
		return price
	}
	return defaultPrice
}

// RecordLLMCall bills one completed LLM call and returns the cost in
// cents. Cache-read tokens are billed at 10% of the input rate; cache
// creation tokens at 125% of the input rate, matching Anthropic's
// published cache pricing multipliers. Non-Anthropic providers report zero
// cache tokens, so those terms drop out naturally.
func (g *Guard) RecordLLMCall(model string, inputTokens, outputTokens, cacheCreate, cacheRead int) int {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("cost.record_llm_call_panic_bypassed", "panic", r)
		}
	}()

	price := g.priceFor(model)
	cents := float64(inputTokens)/1e6*price.InputPerM +
		float64(outputTokens)/1e6*price.OutputPerM +
		float64(cacheRead)/1e6*price.InputPerM*0.10 +
		float64(cacheCreate)/1e6*price.InputPerM*1.25
	whole := int(cents + 0.5)

	g.rollDayIfNeeded()

	g.mu.Lock()
	g.dayCents += whole
	exceeded := g.cfg.DailyBudgetCents > 0 && g.dayCents >= g.cfg.DailyBudgetCents
	g.mu.Unlock()

	if exceeded {
		g.exceeded.Store(true)
	}

	if g.cfg.MaxActionsPerHour > 0 {
		g.rateMu.Lock()
		g.hits = append(g.hits, time.Now())
		g.rateMu.Unlock()
	}

	return whole
}

// DayCents returns the current UTC day's accumulated cost in cents.
func (g *Guard) DayCents() int {
	g.rollDayIfNeeded()
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dayCents
}

// BudgetExceeded reports whether the daily budget latch is set.
func (g *Guard) BudgetExceeded() bool {
	g.rollDayIfNeeded()
	return g.exceeded.Load()
}

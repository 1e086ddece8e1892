// Package cognitive implements CognitiveTracker: a per-turn tool-call
// counter with escalating self-checkpoint nudges.
package cognitive

import (
	"fmt"
	"log/slog"
	"strings"
)

// Thresholds are the ascending tool-call counts at which each pressure
// level first fires.
type Thresholds struct {
	Gentle int
	Firm   int
	Urgent int
}

const (
	defaultGentle = 3
	defaultFirm   = 5
	defaultUrgent = 8

	recentWindow = 5
)

// Tracker is local to a single AgentLoop.process_inbound invocation.
type Tracker struct {
	thresholds Thresholds
	count      int
	recent     []string
	fired      map[int]bool // threshold value -> already emitted this cycle
}

// New constructs a Tracker, sorting thresholds ascending and logging a
// warning if the caller supplied them out of order.
func New(t Thresholds) *Tracker {
	ordered := []int{t.Gentle, t.Firm, t.Urgent}
	sorted := append([]int(nil), ordered...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	if sorted[0] != ordered[0] || sorted[1] != ordered[1] || sorted[2] != ordered[2] {
		slog.Warn("cognitive.thresholds_reordered", "gentle", sorted[0], "firm", sorted[1], "urgent", sorted[2])
	}
	if sorted[0] == 0 && sorted[1] == 0 && sorted[2] == 0 {
		sorted = []int{defaultGentle, defaultFirm, defaultUrgent}
	}
	return &Tracker{
		thresholds: Thresholds{Gentle: sorted[0], Firm: sorted[1], Urgent: sorted[2]},
		fired:      make(map[int]bool),
	}
}

// RecordToolCalls advances the saturating counter and remembers the most
// recent tool names for the breadcrumb.
func (t *Tracker) RecordToolCalls(names []string) {
	t.count += len(names)
	t.recent = append(t.recent, names...)
	if len(t.recent) > recentWindow {
		t.recent = t.recent[len(t.recent)-recentWindow:]
	}
}

// PressureMessage returns the escalating nudge for the first
// not-yet-fired threshold the counter has crossed, in ascending order, or
// "" if none is newly crossed.
func (t *Tracker) PressureMessage() string {
	levels := []struct {
		threshold int
		label     string
		text      string
	}{
		{t.thresholds.Gentle, "hint", "You've made several tool calls — consider whether you have enough information to answer now."},
		{t.thresholds.Firm, "warning", "You've used many tool calls this turn. Wrap up and respond to the user soon."},
		{t.thresholds.Urgent, "URGENT", "URGENT: tool-call budget nearly exhausted. Respond to the user now with what you have."},
	}
	for _, l := range levels {
		if l.threshold <= 0 {
			continue
		}
		if t.count >= l.threshold && !t.fired[l.threshold] {
			t.fired[l.threshold] = true
			return l.text
		}
	}
	return ""
}

// Reset clears fired-threshold state for a new checkpoint cycle, without
// resetting the underlying tool-call counter.
func (t *Tracker) Reset() {
	t.fired = make(map[int]bool)
}

// Breadcrumb emits a short summary including the current pressure level,
// for injection into compaction prompts.
func (t *Tracker) Breadcrumb() string {
	level := "none"
	switch {
	case t.count >= t.thresholds.Urgent:
		level = "urgent"
	case t.count >= t.thresholds.Firm:
		level = "firm"
	case t.count >= t.thresholds.Gentle:
		level = "gentle"
	}
	return fmt.Sprintf("[cognitive: %d tool calls this turn, pressure=%s, recent=%s]",
		t.count, level, strings.Join(t.recent, ","))
}

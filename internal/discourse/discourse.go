// Package discourse implements DiscourseRegister: a rolling per-session
// entity index used for anaphora resolution ("it", "that issue", ...).
package discourse

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	maxEntities = 20
	maxAgeTurns = 10
)

// Entity is a single tracked discourse referent.
type Entity struct {
	Type      string `json:"entity_type"`
	ID        string `json:"entity_id"`
	Label     string `json:"label"`
	SourceTool string `json:"source_tool,omitempty"`
	LastTurn  int    `json:"last_turn"`
}

// Register is a per-session, turn-bounded entity index.
type Register struct {
	entities []Entity
	turn     int
}

// New constructs an empty Register.
func New() *Register {
	return &Register{}
}

// Turn returns the current turn counter.
func (r *Register) Turn() int { return r.turn }

// AdvanceTurn increments the discourse turn counter, called once per
// inbound message processed.
func (r *Register) AdvanceTurn() {
	r.turn++
}

// RegisterEntities dedups incoming entities by (type, id), refreshing LastTurn for
// existing entries, then prunes.
func (r *Register) RegisterEntities(entities []Entity) {
	for _, e := range entities {
		e.LastTurn = r.turn
		found := false
		for i := range r.entities {
			if r.entities[i].Type == e.Type && r.entities[i].ID == e.ID {
				r.entities[i] = e
				found = true
				break
			}
		}
		if !found {
			r.entities = append(r.entities, e)
		}
	}
	r.prune()
}

// prune drops entries older than maxAgeTurns and caps the register at
// maxEntities, keeping the most-recent.
func (r *Register) prune() {
	kept := r.entities[:0]
	for _, e := range r.entities {
		if r.turn-e.LastTurn <= maxAgeTurns {
			kept = append(kept, e)
		}
	}
	r.entities = kept

	if len(r.entities) > maxEntities {
		sortByRecency(r.entities)
		r.entities = r.entities[len(r.entities)-maxEntities:]
	}
}

func sortByRecency(entities []Entity) {
	for i := 1; i < len(entities); i++ {
		for j := i; j > 0 && entities[j-1].LastTurn > entities[j].LastTurn; j-- {
			entities[j-1], entities[j] = entities[j], entities[j-1]
		}
	}
}

// Restore replaces the register's state with a persisted snapshot, as
// loaded from a Session on disk.
func (r *Register) Restore(turn int, entities []Entity) {
	r.turn = turn
	r.entities = append([]Entity(nil), entities...)
}

// Snapshot returns the register's state for persistence onto a Session.
func (r *Register) Snapshot() (turn int, entities []Entity) {
	return r.turn, r.Entities()
}

// Entities returns the currently tracked entities.
func (r *Register) Entities() []Entity {
	out := make([]Entity, len(r.entities))
	copy(out, r.entities)
	return out
}

// ContextString renders the register as a compact system-prompt section.
func (r *Register) ContextString() string {
	if len(r.entities) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Recently discussed items:\n")
	for _, e := range r.entities {
		fmt.Fprintf(&b, "- %s %s: %s\n", e.Type, e.ID, e.Label)
	}
	return b.String()
}

// recognizedArrayKeys are the object keys searched, in order, when a tool
// result wraps a list of items.
var recognizedArrayKeys = []string{"tasks", "items", "issues", "results", "events", "entries", "records"}

var idKeys = []string{"id", "task_id", "issue_id", "number"}
var labelKeys = []string{"content", "title", "name", "summary", "label"}

// ExtractFromToolResult attempts to parse a tool's JSON output and pull
// discourse entities out of a recognized wrapped array.
func ExtractFromToolResult(toolName, content string) []Entity {
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil
	}

	var arr []interface{}
	for _, key := range recognizedArrayKeys {
		if v, ok := doc[key].([]interface{}); ok {
			arr = v
			break
		}
	}
	if arr == nil {
		return nil
	}

	var out []Entity
	for _, item := range arr {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		id := firstStringField(obj, idKeys)
		label := firstStringField(obj, labelKeys)
		if id == "" {
			continue
		}
		out = append(out, Entity{
			Type:       inferType(toolName, obj),
			ID:         id,
			Label:      truncate(label, 80),
			SourceTool: toolName,
		})
	}
	return out
}

func firstStringField(obj map[string]interface{}, keys []string) string {
	for _, k := range keys {
		v, ok := obj[k]
		if !ok {
			continue
		}
		switch x := v.(type) {
		case string:
			if x != "" {
				return x
			}
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64)
		}
	}
	return ""
}

func inferType(toolName string, obj map[string]interface{}) string {
	lower := strings.ToLower(toolName)
	for _, candidate := range []string{"task", "issue", "event", "item"} {
		if strings.Contains(lower, candidate) {
			return candidate
		}
	}
	if _, ok := obj["issue_id"]; ok {
		return "issue"
	}
	if _, ok := obj["task_id"]; ok {
		return "task"
	}
	return "item"
}

// numberedListPattern matches lines like "1. Foo" or "3) Bar", 1-10 items.
var numberedListPattern = regexp.MustCompile(`(?m)^\s*(\d{1,2})[.)]\s+(.+)$`)
var bulletedListPattern = regexp.MustCompile(`(?m)^\s*[-*]\s+(.+)$`)
var actionClaimPattern = regexp.MustCompile(`(?m)^\s*(Created|Updated|Deleted|Completed|Closed):\s*(.+)$`)

// ExtractFromAssistantText pulls discourse entities out of assistant text:
// action-claim lines, then numbered lists, then bulleted lists as a
// fallback when no numbered list is present.
func ExtractFromAssistantText(text string) []Entity {
	var out []Entity

	for _, m := range actionClaimPattern.FindAllStringSubmatch(text, -1) {
		out = append(out, Entity{Type: "action", ID: m[1] + ":" + truncate(m[2], 40), Label: truncate(m[2], 80)})
	}

	numbered := numberedListPattern.FindAllStringSubmatch(text, -1)
	if len(numbered) > 0 && len(numbered) <= 10 {
		for _, m := range numbered {
			out = append(out, Entity{Type: "list_item", ID: m[1], Label: truncate(m[2], 80)})
		}
		return out
	}

	bulleted := bulletedListPattern.FindAllStringSubmatch(text, -1)
	if len(bulleted) > 0 && len(bulleted) <= 10 {
		for i, m := range bulleted {
			out = append(out, Entity{Type: "list_item", ID: strconv.Itoa(i + 1), Label: truncate(m[1], 80)})
		}
	}
	return out
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

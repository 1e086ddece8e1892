package discourse

import "testing"

func TestRegisterCapsAndDedups(t *testing.T) {
	r := New()
	for i := 0; i < 25; i++ {
		r.AdvanceTurn()
		r.RegisterEntities([]Entity{{Type: "task", ID: "dup", Label: "same"}})
	}
	if len(r.Entities()) != 1 {
		t.Fatalf("expected dedup to keep a single entry, got %d", len(r.Entities()))
	}
}

func TestRegisterCapAt20(t *testing.T) {
	r := New()
	r.AdvanceTurn()
	for i := 0; i < 30; i++ {
		r.RegisterEntities([]Entity{{Type: "task", ID: string(rune('a' + i)), Label: "x"}})
	}
	if len(r.Entities()) > maxEntities {
		t.Fatalf("expected at most %d entities, got %d", maxEntities, len(r.Entities()))
	}
}

func TestRegisterPrunesByAge(t *testing.T) {
	r := New()
	r.RegisterEntities([]Entity{{Type: "task", ID: "old", Label: "x"}})
	for i := 0; i < maxAgeTurns+1; i++ {
		r.AdvanceTurn()
	}
	r.RegisterEntities(nil)
	if len(r.Entities()) != 0 {
		t.Fatalf("expected aged-out entity to be pruned, got %d entities", len(r.Entities()))
	}
}

func TestExtractFromToolResult(t *testing.T) {
	content := `{"tasks":[{"id":"42","title":"Ship the feature"}]}`
	entities := ExtractFromToolResult("list_tasks", content)
	if len(entities) != 1 {
		t.Fatalf("expected one entity, got %d", len(entities))
	}
	if entities[0].ID != "42" || entities[0].Label != "Ship the feature" {
		t.Fatalf("unexpected entity: %+v", entities[0])
	}
	if entities[0].Type != "task" {
		t.Fatalf("expected inferred type task, got %q", entities[0].Type)
	}
}

func TestExtractFromAssistantTextNumberedList(t *testing.T) {
	text := "Here are the results:\n1. First item\n2. Second item\n"
	entities := ExtractFromAssistantText(text)
	if len(entities) != 2 {
		t.Fatalf("expected 2 list entities, got %d", len(entities))
	}
}

func TestExtractFromAssistantTextActionClaim(t *testing.T) {
	text := "Created: a new file called notes.md"
	entities := ExtractFromAssistantText(text)
	if len(entities) != 1 || entities[0].Type != "action" {
		t.Fatalf("expected one action entity, got %+v", entities)
	}
}

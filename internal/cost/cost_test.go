package cost

import "testing"

func TestRecordLLMCallAnthropicPricing(t *testing.T) {
	g := NewGuard(Config{})
	cents := g.RecordLLMCall("claude-sonnet-4-5", 1_000_000, 0, 0, 0)
	if cents != 10 {
		t.Fatalf("expected 10 cents for 1M input tokens at default $10/M, got %d", cents)
	}
}

func TestRecordLLMCallCacheReadDiscount(t *testing.T) {
	g := NewGuard(Config{})
	cents := g.RecordLLMCall("claude-sonnet-4-5", 0, 0, 0, 1_000_000)
	if cents != 1 {
		t.Fatalf("expected 1 cent for 1M cache-read tokens at 10%% of $10/M, got %d", cents)
	}
}

func TestDailyBudgetLatches(t *testing.T) {
	g := NewGuard(Config{DailyBudgetCents: 5})
	g.RecordLLMCall("claude-sonnet-4-5", 1_000_000, 0, 0, 0)
	if !g.BudgetExceeded() {
		t.Fatal("expected budget to be exceeded after exceeding daily cap")
	}
	if _, ok := g.CheckAllowed(); ok {
		t.Fatal("expected CheckAllowed to reject once budget exceeded")
	}
}

func TestHourlyRateLimit(t *testing.T) {
	g := NewGuard(Config{MaxActionsPerHour: 2})
	g.RecordLLMCall("m", 0, 0, 0, 0)
	g.RecordLLMCall("m", 0, 0, 0, 0)
	if _, ok := g.CheckAllowed(); ok {
		t.Fatal("expected third call within the hour to be rejected")
	}
}

func TestModelCostsPrefixOverride(t *testing.T) {
	g := NewGuard(Config{ModelCosts: map[string]ModelPrice{
		"claude-sonnet": {InputPerM: 3, OutputPerM: 15},
	}})
	cents := g.RecordLLMCall("claude-sonnet-4-5", 1_000_000, 0, 0, 0)
	if cents != 3 {
		t.Fatalf("expected prefix-matched price of 3 cents, got %d", cents)
	}
}

package cognitive

import "testing"

func TestPressureMessageEscalates(t *testing.T) {
	tr := New(Thresholds{Gentle: 3, Firm: 5, Urgent: 8})
	tr.RecordToolCalls(make([]string, 8))

	first := tr.PressureMessage()
	second := tr.PressureMessage()
	third := tr.PressureMessage()
	fourth := tr.PressureMessage()

	if first == "" || second == "" || third == "" {
		t.Fatalf("expected three escalating messages, got %q, %q, %q", first, second, third)
	}
	if fourth != "" {
		t.Fatalf("expected no fourth message, got %q", fourth)
	}
	if !(len(first) < len(second) || first != second) {
		t.Fatal("messages should differ across levels")
	}
}

func TestThresholdsReordered(t *testing.T) {
	tr := New(Thresholds{Gentle: 8, Firm: 3, Urgent: 5})
	if tr.thresholds.Gentle != 3 || tr.thresholds.Firm != 5 || tr.thresholds.Urgent != 8 {
		t.Fatalf("expected thresholds to be sorted ascending, got %+v", tr.thresholds)
	}
}

func TestResetAllowsReFiring(t *testing.T) {
	tr := New(Thresholds{Gentle: 1, Firm: 2, Urgent: 3})
	tr.RecordToolCalls([]string{"a"})
	if tr.PressureMessage() == "" {
		t.Fatal("expected gentle message to fire")
	}
	if tr.PressureMessage() != "" {
		t.Fatal("expected no repeat at same count")
	}
	tr.Reset()
	if tr.PressureMessage() == "" {
		t.Fatal("expected gentle message to fire again after reset")
	}
}

package channels

import "testing"

func TestBaseChannelIsAllowedEmptyAllowsAll(t *testing.T) {
	c := NewBaseChannel("test", nil, nil)
	if !c.IsAllowed("anyone") {
		t.Fatal("expected empty allow list to allow every sender")
	}
}

func TestBaseChannelIsAllowedByID(t *testing.T) {
	c := NewBaseChannel("test", nil, []string{"123456"})
	if !c.IsAllowed("123456") {
		t.Fatal("expected exact id match to be allowed")
	}
	if c.IsAllowed("999999") {
		t.Fatal("expected non-listed id to be rejected")
	}
}

func TestBaseChannelIsAllowedCompoundSenderID(t *testing.T) {
	c := NewBaseChannel("test", nil, []string{"@alice"})
	if !c.IsAllowed("123456|alice") {
		t.Fatal("expected compound id|username to match allow-listed username")
	}
	if c.IsAllowed("123456|bob") {
		t.Fatal("expected a different username in the compound id to be rejected")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Fatalf("expected no truncation, got %q", got)
	}
	if got := Truncate("hello world", 5); got != "hello..." {
		t.Fatalf("expected truncation with ellipsis, got %q", got)
	}
}

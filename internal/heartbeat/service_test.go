package heartbeat

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/config"
)

func TestWithinActiveHoursNoWindowAlwaysActive(t *testing.T) {
	s := NewService(config.DaemonConfig{}, nil, nil, nil, nil)
	if !s.withinActiveHours(time.Now()) {
		t.Fatal("expected no window to mean always active")
	}
}

func TestWithinActiveHoursInsideWindow(t *testing.T) {
	s := NewService(config.DaemonConfig{
		ActiveHours: &config.ActiveHoursConfig{Start: "09:00", End: "17:00"},
	}, nil, nil, nil, nil)
	noon := time.Date(2026, 1, 1, 12, 0, 0, 0, time.Local)
	if !s.withinActiveHours(noon) {
		t.Fatal("expected noon to be within 09:00-17:00")
	}
}

func TestWithinActiveHoursOutsideWindow(t *testing.T) {
	s := NewService(config.DaemonConfig{
		ActiveHours: &config.ActiveHoursConfig{Start: "09:00", End: "17:00"},
	}, nil, nil, nil, nil)
	midnight := time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local)
	if s.withinActiveHours(midnight) {
		t.Fatal("expected midnight to be outside 09:00-17:00")
	}
}

func TestWithinActiveHoursWrapsMidnight(t *testing.T) {
	s := NewService(config.DaemonConfig{
		ActiveHours: &config.ActiveHoursConfig{Start: "22:00", End: "06:00"},
	}, nil, nil, nil, nil)
	lateNight := time.Date(2026, 1, 1, 23, 0, 0, 0, time.Local)
	earlyMorning := time.Date(2026, 1, 1, 3, 0, 0, 0, time.Local)
	midday := time.Date(2026, 1, 1, 12, 0, 0, 0, time.Local)
	if !s.withinActiveHours(lateNight) || !s.withinActiveHours(earlyMorning) {
		t.Fatal("expected both late-night and early-morning to be within a wrapping window")
	}
	if s.withinActiveHours(midday) {
		t.Fatal("expected midday to be outside a 22:00-06:00 window")
	}
}

func TestIsAcknowledgementDetectsBareOK(t *testing.T) {
	s := NewService(config.DaemonConfig{}, nil, nil, nil, nil)
	if !s.isAcknowledgement("HEARTBEAT_OK") {
		t.Fatal("expected bare HEARTBEAT_OK to be an acknowledgement")
	}
	if s.isAcknowledgement("I found something: the server is down") {
		t.Fatal("expected a substantive reply not to be an acknowledgement")
	}
}

func TestIsAcknowledgementRespectsAckMaxChars(t *testing.T) {
	s := NewService(config.DaemonConfig{AckMaxChars: 5}, nil, nil, nil, nil)
	if s.isAcknowledgement("HEARTBEAT_OK extra long tail that exceeds the limit") {
		t.Fatal("expected an overlong ack to not be treated as a drop-silently ack")
	}
}

func TestResolveTargetNone(t *testing.T) {
	s := NewService(config.DaemonConfig{Target: "none"}, nil, nil, nil, nil)
	ch, chat := s.resolveTarget()
	if ch != "" || chat != "" {
		t.Fatalf("expected empty target for Target=none, got %q/%q", ch, chat)
	}
}

func TestResolveTargetExplicit(t *testing.T) {
	s := NewService(config.DaemonConfig{Target: "telegram", To: "123"}, nil, nil, nil, nil)
	ch, chat := s.resolveTarget()
	if ch != "telegram" || chat != "123" {
		t.Fatalf("expected explicit target, got %q/%q", ch, chat)
	}
}

type fakeLastTarget struct{ channel, chatID string }

func (f fakeLastTarget) LastUsedChannel() (string, string) { return f.channel, f.chatID }

func TestResolveTargetLast(t *testing.T) {
	s := NewService(config.DaemonConfig{}, nil, nil, fakeLastTarget{channel: "discord", chatID: "42"}, nil)
	ch, chat := s.resolveTarget()
	if ch != "discord" || chat != "42" {
		t.Fatalf("expected last-used target, got %q/%q", ch, chat)
	}
}

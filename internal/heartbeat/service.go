// Package heartbeat implements HeartbeatService: periodic self-invocation
// of the agent with a "daemon" strategy prompt, gated by an active-hours
// window. Grounded on the sibling repo's domain/service.HeartbeatService
// (ticker-driven Start/Stop/loop shape) and the teacher's
// config.DaemonConfig/ActiveHoursConfig field set.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/bus"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/config"
	"github.com/nextlevelbuilder/oxicrab-gw/pkg/protocol"
)

const (
	defaultEvery       = 30 * time.Minute
	defaultAckMaxChars = 300
	ackMarker          = "HEARTBEAT_OK"
)

// AgentTurner runs a synchronous agent turn against a session key. Declared
// here to avoid importing internal/agent; satisfied by *agent.Loop.ProcessDirect.
type AgentTurner interface {
	ProcessDirect(ctx context.Context, sessionKey, message, channel, chatID string) (string, error)
}

// LastTarget resolves the most recently active (channel, chat_id), used
// when Target == "last". Satisfied by *sessions.Manager.LastUsedChannel.
type LastTarget interface {
	LastUsedChannel() (channel, chatID string)
}

// Service is the HeartbeatService: a ticker loop that fires a daemon-style
// agent turn at Every, skipped outside ActiveHours, delivering the result
// (unless it's a bare acknowledgement) to Target.
type Service struct {
	cfg    config.DaemonConfig
	agent  AgentTurner
	msgBus *bus.MessageBus
	last   LastTarget
	logger *slog.Logger

	every time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// NewService constructs a Service. last may be nil; Target == "last" then
// has no destination and the turn's result is logged, not delivered.
func NewService(cfg config.DaemonConfig, agent AgentTurner, msgBus *bus.MessageBus, last LastTarget, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	every := defaultEvery
	if cfg.Every != "" {
		if d, err := time.ParseDuration(cfg.Every); err == nil {
			every = d
		} else {
			logger.Warn("heartbeat.invalid_every", "value", cfg.Every, "error", err)
		}
	}
	return &Service{cfg: cfg, agent: agent, msgBus: msgBus, last: last, logger: logger, every: every}
}

// Start begins the heartbeat loop. A no-op if disabled (every == 0) or
// already running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.every <= 0 {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	go s.loop(loopCtx)
}

// Stop halts the heartbeat loop.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && s.cancel != nil {
		s.cancel()
		s.running = false
	}
}

func (s *Service) loop(ctx context.Context) {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx)
		}
	}
}

// fire runs one heartbeat turn, skipped when outside the configured
// active-hours window.
func (s *Service) fire(ctx context.Context) {
	if !s.withinActiveHours(time.Now()) {
		return
	}
	if s.agent == nil {
		s.logger.Debug("heartbeat.no_agent_wired")
		return
	}

	channel, chatID := s.resolveTarget()
	sessionKey := "heartbeat:" + s.resolvedSession()

	prompt := s.cfg.Prompt
	if prompt == "" {
		prompt = defaultDaemonPrompt
	}

	result, err := s.agent.ProcessDirect(ctx, sessionKey, prompt, channel, chatID)
	if err != nil {
		s.logger.Warn("heartbeat.turn_failed", "error", err)
		return
	}
	if s.msgBus != nil {
		s.msgBus.Broadcast(bus.Event{Name: protocol.EventHealth, Payload: map[string]string{"source": "heartbeat"}})
	}

	if s.isAcknowledgement(result) || channel == "" {
		return
	}
	if s.msgBus == nil {
		return
	}
	if err := s.msgBus.PublishOutbound(ctx, bus.OutboundMessage{Channel: channel, ChatID: chatID, Content: result}); err != nil {
		s.logger.Warn("heartbeat.publish_failed", "error", err)
	}
}

func (s *Service) resolvedSession() string {
	if s.cfg.Session != "" {
		return s.cfg.Session
	}
	return "main"
}

// resolveTarget honors Target == "none" (no delivery), an explicit channel
// name (paired with To), or "last"/"" (the most recently active session).
func (s *Service) resolveTarget() (channel, chatID string) {
	switch s.cfg.Target {
	case "none":
		return "", ""
	case "", "last":
		if s.last == nil {
			return "", ""
		}
		return s.last.LastUsedChannel()
	default:
		return s.cfg.Target, s.cfg.To
	}
}

// isAcknowledgement reports whether the agent's reply is a bare
// HEARTBEAT_OK acknowledgement, truncated below AckMaxChars — per spec,
// these are dropped rather than delivered to the user.
func (s *Service) isAcknowledgement(result string) bool {
	trimmed := strings.TrimSpace(result)
	if !strings.HasPrefix(trimmed, ackMarker) {
		return false
	}
	maxChars := s.cfg.AckMaxChars
	if maxChars <= 0 {
		maxChars = defaultAckMaxChars
	}
	return len(trimmed) <= maxChars
}

// withinActiveHours reports whether now falls inside the configured
// HH:MM-HH:MM window (inclusive start, exclusive end) in the window's
// timezone. No window configured means always active.
func (s *Service) withinActiveHours(now time.Time) bool {
	win := s.cfg.ActiveHours
	if win == nil || (win.Start == "" && win.End == "") {
		return true
	}

	loc := time.Local
	if win.Timezone != "" {
		if l, err := time.LoadLocation(win.Timezone); err == nil {
			loc = l
		} else {
			s.logger.Warn("heartbeat.invalid_timezone", "timezone", win.Timezone, "error", err)
		}
	}

	local := now.In(loc)
	nowMinutes := local.Hour()*60 + local.Minute()

	start, err := parseHHMM(win.Start)
	if err != nil {
		return true
	}
	end, err := parseHHMM(win.End)
	if err != nil {
		return true
	}

	if start <= end {
		return nowMinutes >= start && nowMinutes < end
	}
	// window wraps midnight, e.g. 22:00-06:00
	return nowMinutes >= start || nowMinutes < end
}

func parseHHMM(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	return h*60 + m, nil
}

const defaultDaemonPrompt = "This is a scheduled heartbeat check-in. Review anything pending, act if there is something useful to do, otherwise reply with exactly HEARTBEAT_OK and nothing else."

package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/bus"
	"github.com/nextlevelbuilder/oxicrab-gw/pkg/protocol"
)

const tickInterval = time.Second

// AgentTurner runs a synchronous agent turn against a session key. Declared
// here (rather than importing internal/agent) so cron has no dependency on
// the agent package; satisfied by *agent.Loop.ProcessDirect.
type AgentTurner interface {
	ProcessDirect(ctx context.Context, sessionKey, message, channel, chatID string) (string, error)
}

// DLQRecorder records a failed job run for later inspection. Satisfied by
// *memory.Store.
type DLQRecorder interface {
	AppendDLQ(ctx context.Context, jobID, jobName string, payload json.RawMessage, errText string) error
}

// Service is the CronService: a one-second tick loop over a Store of jobs,
// firing echo or agent_turn payloads and recording failures to a DLQ.
type Service struct {
	store  *Store
	msgBus *bus.MessageBus
	agent  AgentTurner
	dlq    DLQRecorder
	logger *slog.Logger
}

// NewService constructs a Service. agent and dlq may be nil; agent_turn
// jobs fail with a clear error if agent is nil, and DLQ recording is
// skipped (logged only) if dlq is nil.
func NewService(store *Store, msgBus *bus.MessageBus, agent AgentTurner, dlq DLQRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, msgBus: msgBus, agent: agent, dlq: dlq, logger: logger}
}

// AddJob validates and persists a new job, minting an id if absent.
func (s *Service) AddJob(job *Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()[:8]
	}
	if job.Schedule.Kind == ScheduleCron && !gronx.IsValid(job.Schedule.Expr) {
		return fmt.Errorf("invalid cron expression %q", job.Schedule.Expr)
	}
	return s.store.Put(job)
}

// Run executes the one-second tick loop until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
			s.msgBus.Broadcast(bus.Event{Name: protocol.EventTick})
		}
	}
}

// tick evaluates every job's schedule once and fires those whose time has
// arrived, subject to the enabled/expiry/max_runs/max_concurrent/cooldown
// guards from spec.md §4.9.
func (s *Service) tick(ctx context.Context) {
	now := time.Now()
	nowMs := now.UnixMilli()

	for _, job := range s.store.List() {
		if !job.Enabled {
			continue
		}
		if job.ExpiresAtMs > 0 && nowMs >= job.ExpiresAtMs {
			continue
		}
		if job.MaxRuns > 0 && job.RunCount >= job.MaxRuns {
			continue
		}
		if job.Schedule.Kind == ScheduleAt && job.LastFiredAtMs > 0 {
			continue // an At job fires once
		}

		maxConcurrent := job.MaxConcurrent
		if maxConcurrent <= 0 {
			maxConcurrent = 1
		}
		if int(atomic.LoadInt32(&job.running)) >= maxConcurrent {
			continue
		}

		if job.CooldownSecs > 0 && job.LastFiredAtMs > 0 {
			if nowMs-job.LastFiredAtMs < int64(job.CooldownSecs)*1000 {
				continue
			}
		}

		next, err := nextRunAt(job, now)
		if err != nil {
			s.logger.Warn("cron.schedule_eval_failed", "job", job.ID, "error", err)
			continue
		}
		job.NextRunAtMs = next
		if nowMs < next {
			continue
		}

		go s.fire(ctx, job)
	}
}

// nextRunAt computes a job's next fire time per its schedule kind.
func nextRunAt(job *Job, now time.Time) (int64, error) {
	switch job.Schedule.Kind {
	case ScheduleAt:
		return job.Schedule.AtMs, nil

	case ScheduleEvery:
		if job.LastFiredAtMs == 0 {
			return now.UnixMilli(), nil
		}
		return job.LastFiredAtMs + job.Schedule.EveryMs, nil

	case ScheduleCron:
		loc := time.Local
		if job.Schedule.Timezone != "" {
			l, err := time.LoadLocation(job.Schedule.Timezone)
			if err != nil {
				return 0, fmt.Errorf("load timezone %q: %w", job.Schedule.Timezone, err)
			}
			loc = l
		}
		ref := now.In(loc)
		if job.LastFiredAtMs > 0 {
			ref = time.UnixMilli(job.LastFiredAtMs).In(loc)
		}
		next, err := gronx.NextTickAfter(job.Schedule.Expr, ref, false)
		if err != nil {
			return 0, fmt.Errorf("evaluate cron expr %q: %w", job.Schedule.Expr, err)
		}
		return next.UnixMilli(), nil

	default:
		return 0, fmt.Errorf("unknown schedule kind %q", job.Schedule.Kind)
	}
}

// fire runs one job: dispatches by payload kind, records success/failure,
// and removes the job afterward if delete_after_run is set.
func (s *Service) fire(ctx context.Context, job *Job) {
	atomic.AddInt32(&job.running, 1)
	defer atomic.AddInt32(&job.running, -1)

	job.LastFiredAtMs = time.Now().UnixMilli()
	s.msgBus.Broadcast(bus.Event{Name: protocol.EventCron, Payload: map[string]string{"job": job.ID, "name": job.Name}})

	err := s.runPayload(ctx, job)
	if err != nil {
		job.LastError = err.Error()
		s.recordDLQ(ctx, job, err)
	} else {
		job.RunCount++
		job.LastError = ""
		if job.DeleteAfterRun {
			if delErr := s.store.Delete(job.ID); delErr != nil {
				s.logger.Warn("cron.delete_after_run_failed", "job", job.ID, "error", delErr)
			}
			return
		}
	}

	if persistErr := s.store.Persist(); persistErr != nil {
		s.logger.Warn("cron.persist_failed", "job", job.ID, "error", persistErr)
	}
}

func (s *Service) runPayload(ctx context.Context, job *Job) error {
	switch job.Payload.Kind {
	case PayloadEcho:
		var firstErr error
		for _, t := range job.Targets {
			if err := s.msgBus.PublishOutbound(ctx, bus.OutboundMessage{Channel: t.Channel, ChatID: t.ChatID, Content: job.Payload.Message}); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr

	case PayloadAgentTurn:
		if len(job.Targets) == 0 {
			return fmt.Errorf("agent_turn job %s has no targets", job.ID)
		}
		if s.agent == nil {
			return fmt.Errorf("agent_turn job %s: no AgentTurner wired", job.ID)
		}
		first := job.Targets[0]
		sessionKey := "cron:" + job.ID
		text, err := s.agent.ProcessDirect(ctx, sessionKey, job.Payload.Message, first.Channel, first.ChatID)
		if err != nil {
			return err
		}
		if job.Payload.AgentEcho {
			for _, t := range job.Targets {
				if pubErr := s.msgBus.PublishOutbound(ctx, bus.OutboundMessage{Channel: t.Channel, ChatID: t.ChatID, Content: text}); pubErr != nil {
					s.logger.Warn("cron.agent_echo_publish_failed", "job", job.ID, "error", pubErr)
				}
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown payload kind %q", job.Payload.Kind)
	}
}

func (s *Service) recordDLQ(ctx context.Context, job *Job, fireErr error) {
	if s.dlq == nil {
		s.logger.Warn("cron.job_failed", "job", job.ID, "error", fireErr)
		return
	}
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		s.logger.Warn("cron.dlq_payload_marshal_failed", "job", job.ID, "error", err)
		return
	}
	if err := s.dlq.AppendDLQ(ctx, job.ID, job.Name, payload, fireErr.Error()); err != nil {
		s.logger.Warn("cron.dlq_append_failed", "job", job.ID, "error", err)
	}
}

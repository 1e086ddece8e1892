package protocol

// Event names pushed on the HTTP Gateway's optional /ws event stream.
const (
	EventAgent  = "agent"
	EventChat   = "chat"
	EventHealth = "health"
	EventCron   = "cron"
	EventTick   = "tick"
	EventShutdown = "shutdown"

	// EventDevicePairReq is broadcast by the AgentLoop when it issues a
	// pairing code to an unpaired sender. EventDevicePairRes is not emitted
	// anywhere; approve/revoke in the PairingStore broadcast no event.
	EventDevicePairReq = "device.pair.requested"
	EventDevicePairRes = "device.pair.resolved"
)

// Agent lifecycle event subtypes (payload.type), emitted by the AgentLoop's
// onEvent callback and forwarded through the bus to streaming channels and
// the /ws stream.
const (
	AgentEventRunStarted   = "run.started"
	AgentEventRunCompleted = "run.completed"
	AgentEventRunFailed    = "run.failed"
	AgentEventRunRetrying  = "run.retrying"
	AgentEventToolCall     = "tool.call"
	AgentEventToolResult   = "tool.result"
)

// Chat event subtypes (payload.type), used by StreamingChannel forwarding.
const (
	ChatEventChunk    = "chunk"
	ChatEventMessage  = "message"
	ChatEventThinking = "thinking"
)

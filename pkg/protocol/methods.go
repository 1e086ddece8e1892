package protocol

// A2A task lifecycle statuses (spec.md §4.12).
const (
	A2ATaskSubmitted = "submitted"
	A2ATaskWorking   = "working"
	A2ATaskCompleted = "completed"
	A2ATaskFailed    = "failed"
)

// WebhookSignatureHeaders lists the inbound webhook signature header names
// accepted, in priority order. Each may carry a bare hex digest or one
// prefixed with "sha256=".
var WebhookSignatureHeaders = []string{
	"X-Signature-256",
	"X-Hub-Signature-256",
	"X-Webhook-Signature",
}

// CLI operation names, logged by cmd/oxicrab's cobra subcommands (logOp)
// at the start of each run.
const (
	OpGatewayRun = "gateway"
	OpAgentRun   = "agent"

	OpCronList   = "cron.list"
	OpCronAdd    = "cron.add"
	OpCronRemove = "cron.remove"
	OpCronEnable = "cron.enable"
	OpCronEdit   = "cron.edit"
	OpCronRun    = "cron.run"

	OpChannelsStatus = "channels.status"
	OpChannelsLogin  = "channels.login"

	OpPairingList   = "pairing.list"
	OpPairingApprove = "pairing.approve"
	OpPairingRevoke  = "pairing.revoke"

	OpCredentialsSet    = "credentials.set"
	OpCredentialsGet    = "credentials.get"
	OpCredentialsDelete = "credentials.delete"
	OpCredentialsList   = "credentials.list"
	OpCredentialsImport = "credentials.import"

	OpStatsToday  = "stats.today"
	OpStatsCosts  = "stats.costs"
	OpStatsSearch = "stats.search"

	OpStatus = "status"
	OpDoctor = "doctor"
)

package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"time"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/safety"
)

// defaultDenyPatterns blocks destructive, exfiltrating, or privilege-
// escalating shell constructs regardless of the configured allowlist.
// Defense in depth alongside the allowlist and FilesystemSandbox.
var defaultDenyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`\b(mkfs|diskpart)\b|\bformat\s`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`),
	regexp.MustCompile(`\bcurl\b.*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bwget\b.*-O\s*-\s*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`/dev/tcp/`),
	regexp.MustCompile(`\b(nc|ncat|netcat)\b.*-[el]\b`),
	regexp.MustCompile(`\bsocat\b`),
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bsu\s+-`),
	regexp.MustCompile(`\b(mount|umount)\b`),
	regexp.MustCompile(`\bLD_PRELOAD\s*=`),
	regexp.MustCompile(`/var/run/docker\.sock|docker\.(sock|socket)`),
}

// ExecTool runs a shell command through the allowlist, deny-pattern bank,
// and filesystem sandbox, with a configurable timeout.
type ExecTool struct {
	allowlist *safety.CommandAllowlist
	sandbox   *safety.FilesystemSandbox
	timeout   time.Duration
}

func NewExecTool(allowlist *safety.CommandAllowlist, sandbox *safety.FilesystemSandbox, timeout time.Duration) *ExecTool {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ExecTool{allowlist: allowlist, sandbox: sandbox, timeout: timeout}
}

func (t *ExecTool) Name() string        { return "exec" }
func (t *ExecTool) Description() string { return "Run a shell command" }
func (t *ExecTool) Capabilities() Capabilities {
	return Capabilities{BuiltIn: true, DestructiveAction: true, SubagentAccess: SubagentDenied}
}
func (t *ExecTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{"type": "string", "description": "the shell command to run"},
		},
		"required": []string{"command"},
	}
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return ErrorResult("command is required"), nil
	}
	for _, pattern := range defaultDenyPatterns {
		if pattern.MatchString(command) {
			return ErrorResult("command denied by safety policy"), nil
		}
	}
	if t.allowlist != nil {
		if err := t.allowlist.Check(command); err != nil {
			return ErrorResult(err.Error()), nil
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	if t.sandbox != nil {
		t.sandbox.Apply(cmd)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	output := stdout.String()
	if stderr.Len() > 0 {
		output += "\n--- stderr ---\n" + stderr.String()
	}
	if err != nil {
		return ErrorResult(fmt.Sprintf("command failed: %v\n%s", err, output)), nil
	}
	return NewResult(output), nil
}

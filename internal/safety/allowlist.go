package safety

import (
	"fmt"
	"strings"
)

// CommandAllowlist rejects any shell command whose first token (the
// executable name) is not in the allowlist, when the allowlist is
// non-empty. An empty allowlist permits everything — it's an opt-in guard.
type CommandAllowlist struct {
	allowed map[string]struct{}
}

// NewCommandAllowlist builds an allowlist from a set of executable names.
func NewCommandAllowlist(names []string) *CommandAllowlist {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return &CommandAllowlist{allowed: m}
}

// Check returns an error if command is not permitted.
func (a *CommandAllowlist) Check(command string) error {
	if len(a.allowed) == 0 {
		return nil
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return fmt.Errorf("empty command")
	}
	bin := fields[0]
	if i := strings.LastIndexByte(bin, '/'); i >= 0 {
		bin = bin[i+1:]
	}
	if _, ok := a.allowed[bin]; !ok {
		return fmt.Errorf("command %q is not in the allowlist", bin)
	}
	return nil
}

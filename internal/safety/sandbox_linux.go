//go:build linux

package safety

import (
	"os/exec"
	"syscall"
)

// applyPlatformSandbox attempts Linux-specific process isolation: a new
// process group (so a killed shell command takes its children with it) and,
// when blockNetwork is set, a new network namespace. Landlock has no
// first-party Go binding in this toolchain, so no directory confinement is
// applied to the command; this only hardens the process boundary.
func applyPlatformSandbox(cmd *exec.Cmd, blockNetwork bool) error {
	attr := &syscall.SysProcAttr{Setpgid: true}
	if blockNetwork {
		attr.Cloneflags = syscall.CLONE_NEWNET
	}
	cmd.SysProcAttr = attr
	return nil
}

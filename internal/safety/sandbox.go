package safety

import (
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
)

// FilesystemSandbox holds a shell command's filesystem policy: read-write
// access to the workspace and temp dirs, read-only elsewhere. No Go binding
// for Linux's Landlock LSM exists among the libraries this project depends
// on, so the policy is not enforced on the command's own file accesses:
// CheckPath answers the allow/deny question for callers that ask, and
// Apply only adds OS-level process hardening (sandbox_linux.go); failure
// to apply is logged and the command proceeds unsandboxed.
type FilesystemSandbox struct {
	workspace    string
	tempDirs     []string
	blockNetwork bool
}

// NewFilesystemSandbox builds a sandbox rooted at workspace, additionally
// granting read-write to tempDirs.
func NewFilesystemSandbox(workspace string, tempDirs []string, blockNetwork bool) *FilesystemSandbox {
	return &FilesystemSandbox{workspace: workspace, tempDirs: tempDirs, blockNetwork: blockNetwork}
}

// CheckPath reports whether path is writable under this sandbox's policy.
// Read access is assumed system-wide; only write-intent callers need to
// check this.
func (s *FilesystemSandbox) CheckPath(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	if within(abs, s.workspace) {
		return true
	}
	for _, d := range s.tempDirs {
		if within(abs, d) {
			return true
		}
	}
	return false
}

func within(path, root string) bool {
	if root == "" {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}

// Apply applies best-effort OS-level hardening to cmd before it is started.
// A failure here is non-fatal: the command still runs, unsandboxed.
func (s *FilesystemSandbox) Apply(cmd *exec.Cmd) {
	if err := applyPlatformSandbox(cmd, s.blockNetwork); err != nil {
		slog.Warn("safety.sandbox_apply_failed", "error", err)
	}
}

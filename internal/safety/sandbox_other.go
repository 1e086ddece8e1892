//go:build !linux

package safety

import "os/exec"

// applyPlatformSandbox is a no-op off Linux, so Apply hardens nothing there.
func applyPlatformSandbox(cmd *exec.Cmd, blockNetwork bool) error {
	return nil
}

//go:build !windows

package ffmpeg

import (
	"os/exec"
	"syscall"
)

// terminateProcess asks the process to exit cleanly. exec.Cmd.WaitDelay
// escalates to SIGKILL if it does not.
func terminateProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Signal(syscall.SIGTERM)
}

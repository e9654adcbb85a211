//go:build windows

package ffmpeg

import (
	"os/exec"
)

// Windows has no graceful termination signal for console children; Kill
// is the only option.
func terminateProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

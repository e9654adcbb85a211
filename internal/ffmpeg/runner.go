// Package ffmpeg wraps every ffmpeg/ffprobe invocation the pipeline
// performs: probing, WAV extraction, segment split and concat, mixing,
// loudness normalization and the final remux. All subprocesses share one
// runner that captures a stderr tail and applies a two-stage kill on
// cancellation.
package ffmpeg

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/nomusic/nomusic-go/internal/errors"
)

// killGracePeriod is how long a subprocess gets between the graceful
// signal and the forced kill.
const killGracePeriod = 5 * time.Second

// stderrTailLines bounds how much stderr is attached to errors.
const stderrTailLines = 12

// runCommand executes bin with args, waiting for completion. On context
// cancellation the process receives a graceful termination signal and is
// force-killed after killGracePeriod. Returns captured stdout.
func runCommand(ctx context.Context, bin string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	cmd.Cancel = func() error {
		return terminateProcess(cmd)
	}
	cmd.WaitDelay = killGracePeriod

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return stdout.String(), errors.New(ctx.Err()).
				Component("ffmpeg").
				Category(errors.CategoryCancelled).
				Context("command", bin).
				Build()
		}
		return stdout.String(), errors.New(err).
			Component("ffmpeg").
			Category(errors.CategoryCommandExecution).
			Context("command", bin).
			Context("args", strings.Join(args, " ")).
			Context("stderr_tail", tailLines(stderr.String(), stderrTailLines)).
			Build()
	}
	return stdout.String(), nil
}

// runCommandStderr is runCommand but returns stderr instead of stdout,
// for tools that report on stderr (loudnorm measurement).
func runCommandStderr(ctx context.Context, bin string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Cancel = func() error {
		return terminateProcess(cmd)
	}
	cmd.WaitDelay = killGracePeriod

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return stderr.String(), errors.New(ctx.Err()).
				Component("ffmpeg").
				Category(errors.CategoryCancelled).
				Context("command", bin).
				Build()
		}
		return stderr.String(), errors.New(err).
			Component("ffmpeg").
			Category(errors.CategoryCommandExecution).
			Context("command", bin).
			Context("args", strings.Join(args, " ")).
			Context("stderr_tail", tailLines(stderr.String(), stderrTailLines)).
			Build()
	}
	return stderr.String(), nil
}

// tailLines returns the last n non-empty lines of s.
func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	kept := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" {
			kept = append(kept, line)
		}
	}
	// kept is reversed
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return strings.Join(kept, "\n")
}

// StderrTail extracts the stderr tail recorded on a pipeline error, if
// any.
func StderrTail(err error) string {
	var pe *errors.ProcessError
	if errors.As(err, &pe) {
		if tail, ok := pe.Context["stderr_tail"].(string); ok {
			return tail
		}
	}
	return ""
}

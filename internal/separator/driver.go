// Package separator wraps the two external vocal separators, Spleeter
// and Demucs. Both drivers share the same contract: given an extracted
// WAV and an empty output directory, produce a vocal stem WAV and report
// progress. Long inputs are chunked into segments and re-joined.
package separator

import (
	"bufio"
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/nomusic/nomusic-go/internal/errors"
)

// ProgressFunc receives separator progress as a local percentage in
// [0,100] plus a human-readable step label.
type ProgressFunc func(pct float64, step string)

// Driver is the contract both separators implement.
type Driver interface {
	// Name identifies the driver ("spleeter" or "demucs").
	Name() string
	// Separate runs the external tool on wavIn, writing only inside
	// outDir, and returns the path of the produced vocal stem.
	Separate(ctx context.Context, wavIn, outDir string, progress ProgressFunc) (string, error)
}

const killGracePeriod = 5 * time.Second

// runScanned executes a separator command, feeding every output line to
// onLine and keeping a tail for error reporting. stdout and stderr are
// scanned concurrently; separator tools interleave progress across both.
func runScanned(ctx context.Context, onLine func(string), bin string, args ...string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Cancel = func() error {
		return terminateProcess(cmd)
	}
	cmd.WaitDelay = killGracePeriod

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.New(err).Component("separator").Category(errors.CategoryCommandExecution).Build()
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.New(err).Component("separator").Category(errors.CategoryCommandExecution).Build()
	}

	if err := cmd.Start(); err != nil {
		return errors.New(err).
			Component("separator").
			Category(errors.CategoryCommandExecution).
			Context("command", bin).
			Build()
	}

	var mu sync.Mutex
	tail := make([]string, 0, 16)
	record := func(line string) {
		mu.Lock()
		if len(tail) == cap(tail) {
			copy(tail, tail[1:])
			tail = tail[:len(tail)-1]
		}
		tail = append(tail, line)
		mu.Unlock()
		onLine(line)
	}

	var wg sync.WaitGroup
	for _, pipe := range []struct{ r interface{ Read([]byte) (int, error) } }{{stdout}, {stderr}} {
		wg.Add(1)
		go func(r interface{ Read([]byte) (int, error) }) {
			defer wg.Done()
			scanner := bufio.NewScanner(r)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line != "" {
					record(line)
				}
			}
		}(pipe.r)
	}
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		mu.Lock()
		tailCopy := strings.Join(tail, "\n")
		mu.Unlock()
		if ctx.Err() != nil {
			return errors.New(ctx.Err()).
				Component("separator").
				Category(errors.CategoryCancelled).
				Context("command", bin).
				Build()
		}
		return errors.New(err).
			Component("separator").
			Category(errors.CategorySeparator).
			Context("command", bin).
			Context("args", strings.Join(args, " ")).
			Context("output_tail", tailCopy).
			Build()
	}
	return nil
}

// OutputTail extracts the captured output tail from a separator error.
func OutputTail(err error) string {
	var pe *errors.ProcessError
	if errors.As(err, &pe) {
		if tail, ok := pe.Context["output_tail"].(string); ok {
			return tail
		}
	}
	return ""
}

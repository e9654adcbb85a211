package separator

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"
)

var (
	cudaOnce      sync.Once
	cudaAvailable bool
)

// CUDAAvailable reports whether an NVIDIA GPU is visible. Checked once
// per process via nvidia-smi.
func CUDAAvailable() bool {
	cudaOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		out, err := exec.CommandContext(ctx, "nvidia-smi", "-L").Output()
		cudaAvailable = err == nil && strings.Contains(string(out), "GPU")
	})
	return cudaAvailable
}

// isGPUFailure recognizes output of a separator that crashed trying to
// initialize or allocate on the GPU, which warrants a one-time CPU
// retry.
func isGPUFailure(outputTail string) bool {
	lower := strings.ToLower(outputTail)
	for _, marker := range []string{"cuda out of memory", "cuda error", "cudnn", "no cuda gpus are available"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

package separator

import (
	"log/slog"

	"github.com/shirou/gopsutil/v3/mem"
)

// recommendedBytes is the RAM headroom one separator run wants. Both
// models are memory-hungry; running below this works but risks the OS
// killing the subprocess.
const recommendedBytes = 8 << 30

// PreflightMemory logs a warning when available RAM is below the
// recommended headroom for a separator run. It never blocks the run.
func PreflightMemory(logger *slog.Logger) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		logger.Debug("memory preflight unavailable", "error", err)
		return
	}
	if vm.Available < recommendedBytes {
		logger.Warn("low memory for separation",
			"available_mb", vm.Available/(1<<20),
			"recommended_mb", recommendedBytes/(1<<20))
	}
}

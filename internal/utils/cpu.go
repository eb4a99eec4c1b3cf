package utils

import (
	"fmt"
	"log/slog"

	"github.com/shirou/gopsutil/v4/cpu"
)

// NumWorkers resolves a num_proc style setting: unset means a single worker
// and -1 means one worker per logical CPU.
func NumWorkers(numProc *int) (int, error) {
	if numProc == nil {
		return 1, nil
	}

	switch n := *numProc; {
	case n == -1:
		count, err := cpu.Counts(true)
		if err != nil {
			return 0, fmt.Errorf("error counting logical cpus: %w", err)
		}
		slog.Debug("using all logical cpus", "count", count)
		return max(1, count), nil
	case n > 0:
		return n, nil
	default:
		return 0, fmt.Errorf("invalid num_proc %d: must be positive or -1", n)
	}
}

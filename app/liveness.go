package app

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/orbas1/edulure/probe"
)

// Liveness reports process resource usage on /live. When maxRSSMB is non-zero
// the process is reported down once its resident memory exceeds that limit.
func Liveness(maxRSSMB uint64) probe.LivenessFunc {
	started := time.Now()
	return func(ctx context.Context) (map[string]any, error) {
		proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
		if err != nil {
			return nil, fmt.Errorf("inspect process: %w", err)
		}
		mem, err := proc.MemoryInfoWithContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("read memory info: %w", err)
		}

		if maxRSSMB > 0 && mem.RSS > maxRSSMB<<20 {
			return nil, fmt.Errorf("resident memory %d MB exceeds limit %d MB", mem.RSS>>20, maxRSSMB)
		}
		return map[string]any{
			"uptimeSeconds": int64(time.Since(started).Seconds()),
			"goroutines":    runtime.NumGoroutine(),
			"rssBytes":      mem.RSS,
		}, nil
	}
}

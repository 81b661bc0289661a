package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shirou/gopsutil/v4/disk"
)

// DefaultMinFreeMB is the free-space threshold below which a batch warns.
const DefaultMinFreeMB = 256

// CheckFreeSpace reads the free space of the filesystem holding dir and logs a
// warning when it is below minFreeMB. A low reading never stops the batch.
func CheckFreeSpace(ctx context.Context, dir string, minFreeMB uint64, logger *slog.Logger) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, dir)
	if err != nil {
		return 0, fmt.Errorf("read disk usage for %s: %w", dir, err)
	}

	freeMB := usage.Free / (1024 * 1024)
	if minFreeMB > 0 && freeMB < minFreeMB {
		logger.Warn("low free disk space", "dir", dir, "free_mb", freeMB, "min_free_mb", minFreeMB)
	} else {
		logger.Debug("free disk space", "dir", dir, "free_mb", freeMB)
	}
	return usage.Free, nil
}

package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const workerLogPattern = "worker_*.log"

// PruneWorkerLogs deletes worker_<id>.log files in logDir whose mtime is older
// than retentionDays and returns how many were removed. keep is never removed;
// it names the file the current process writes to. retentionDays <= 0 disables
// pruning.
func PruneWorkerLogs(logger *slog.Logger, logDir, keep string, retentionDays int) int {
	if retentionDays <= 0 || logDir == "" {
		return 0
	}
	matches, err := filepath.Glob(filepath.Join(logDir, workerLogPattern))
	if err != nil || len(matches) == 0 {
		return 0
	}
	if keep != "" {
		if abs, err := filepath.Abs(keep); err == nil {
			keep = abs
		}
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	removed := 0
	for _, path := range matches {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		if path == keep {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			WarnWithContext(logger, "worker log not pruned", "log_retention_failed",
				String("path", path),
				Error(err),
				String(FieldErrorHint, "check file permissions on paths.log_dir"),
				String(FieldImpact, "old worker log remains on disk"),
			)
			continue
		}
		removed++
	}
	if removed > 0 && logger != nil {
		logger.Info("pruned worker logs",
			Int("removed", removed),
			Int("retention_days", retentionDays),
			String(FieldEventType, "log_pruned"),
		)
	}
	return removed
}

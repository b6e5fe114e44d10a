package persistence

import (
	"context"
	"fmt"
	"time"
)

// RetentionResult holds counts of purged records from a retention run.
type RetentionResult struct {
	Cutoff         int64 `json:"cutoff"`
	PurgedRuns     int64 `json:"purged_runs"`
	PurgedOrphaned int64 `json:"purged_orphan_logs"`
}

// RunRetention deletes runs older than maxAgeDays relative to now, together
// with their logs, then clears any orphaned log rows. maxAgeDays <= 0 is a
// no-op. The job is idempotent.
func (s *Store) RunRetention(ctx context.Context, maxAgeDays int, now time.Time) (RetentionResult, error) {
	var result RetentionResult
	if maxAgeDays <= 0 {
		return result, nil
	}

	result.Cutoff = now.UTC().AddDate(0, 0, -maxAgeDays).UnixMilli()
	n, err := s.PruneRunsBefore(ctx, result.Cutoff)
	if err != nil {
		return result, fmt.Errorf("purge runs: %w", err)
	}
	result.PurgedRuns = n

	n, err = s.PruneOrphanLogs(ctx)
	if err != nil {
		return result, fmt.Errorf("purge orphan logs: %w", err)
	}
	result.PurgedOrphaned = n
	return result, nil
}

// Package policy decides when a mirror is stale.
//
// Elapsed time is measured in whole hours, truncated, so a mirror last
// refreshed 23h59m ago is not yet due under a 24h threshold. The decision is
// only re-evaluated when a pass runs; if the trigger is late or the daemon is
// stopped, a mirror can stay stale for longer than the threshold.
package policy

import (
	"time"

	"github.com/polarfoxDev/berth/internal/model"
)

// DefaultStaleAfter is the cadence used when nothing else is configured
const DefaultStaleAfter = 24 * time.Hour

// HoursSince returns the number of whole hours between last and now.
// A timestamp in the future yields a negative count.
func HoursSince(last, now time.Time) int {
	return int(now.Sub(last) / time.Hour)
}

// IsDue reports whether cfg needs a backup at now.
// backupSuccessful is not consulted; a failed attempt is retried on the normal cadence.
func IsDue(cfg model.BackupConfig, now time.Time, staleAfter time.Duration) bool {
	if cfg.LastBackupTime == nil {
		return true
	}
	if staleAfter < time.Hour {
		staleAfter = DefaultStaleAfter
	}
	return HoursSince(*cfg.LastBackupTime, now) >= int(staleAfter/time.Hour)
}

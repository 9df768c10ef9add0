package policy

import (
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"

	"github.com/polarfoxDev/berth/internal/model"
)

func at(t time.Time) *time.Time { return &t }

func TestIsDue_NeverBackedUp(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := model.BackupConfig{ID: 1}
	assert.True(t, IsDue(cfg, now, DefaultStaleAfter))

	// a failed previous attempt changes nothing
	cfg.BackupSuccessful = false
	assert.True(t, IsDue(cfg, now, DefaultStaleAfter))
}

func TestIsDue_Boundaries(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		elapsed time.Duration
		want    bool
	}{
		{"just ran", 0, false},
		{"one hour", time.Hour, false},
		{"23h59m", 23*time.Hour + 59*time.Minute, false},
		{"23h59m59s", 24*time.Hour - time.Second, false},
		{"exactly 24h", 24 * time.Hour, true},
		{"24h0m1s", 24*time.Hour + time.Second, true},
		{"three days", 72 * time.Hour, true},
		{"in the future", -2 * time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := model.BackupConfig{ID: 1, LastBackupTime: at(now.Add(-tt.elapsed))}
			assert.Equal(t, tt.want, IsDue(cfg, now, DefaultStaleAfter))
		})
	}
}

func TestIsDue_IgnoresOutcomeOfLastAttempt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := model.BackupConfig{ID: 1, LastBackupTime: at(now.Add(-2 * time.Hour)), BackupSuccessful: false}
	assert.False(t, IsDue(cfg, now, DefaultStaleAfter))
}

func TestIsDue_CustomThreshold(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := model.BackupConfig{ID: 1, LastBackupTime: at(now.Add(-6 * time.Hour))}
	assert.True(t, IsDue(cfg, now, 6*time.Hour))
	assert.False(t, IsDue(cfg, now, 7*time.Hour))
	// sub-hour thresholds fall back to the default
	assert.False(t, IsDue(cfg, now, 30*time.Minute))
}

func TestIsDue_AdvancesWithClock(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clk := testclock.NewClock(start)
	cfg := model.BackupConfig{ID: 1, LastBackupTime: at(start)}

	for i := 0; i < 23; i++ {
		clk.Advance(time.Hour)
		assert.False(t, IsDue(cfg, clk.Now(), DefaultStaleAfter), "hour %d", i+1)
	}
	clk.Advance(time.Hour)
	assert.True(t, IsDue(cfg, clk.Now(), DefaultStaleAfter))
}

func TestHoursSince(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, HoursSince(now.Add(-59*time.Minute), now))
	assert.Equal(t, 5, HoursSince(now.Add(-5*time.Hour-30*time.Minute), now))
	assert.Equal(t, -1, HoursSince(now.Add(90*time.Minute), now))
}

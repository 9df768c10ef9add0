package runner

import (
	"time"

	"github.com/dustin/go-humanize"

	"github.com/polarfoxDev/berth/internal/model"
	"github.com/polarfoxDev/berth/internal/policy"
)

// ConfigStatus is the operator view of one configuration
type ConfigStatus struct {
	ID               int        `json:"id"`
	Name             string     `json:"name"`
	SourcePath       string     `json:"sourcePath"`
	OutputFolder     string     `json:"outputFolder"`
	LastBackupTime   *time.Time `json:"lastBackupTime"`
	HoursSince       *int       `json:"hoursSince"` // nil if never backed up
	LastBackupAgo    string     `json:"lastBackupAgo"`
	BackupSuccessful bool       `json:"backupSuccessful"`
	Due              bool       `json:"due"`
	Outcome          string     `json:"outcome"` // Success, Failed, or "-" before the first completed backup
}

// Status is the operator view of the whole system
type Status struct {
	DestinationPath string         `json:"destinationPath"`
	LastCheckTime   *time.Time     `json:"lastCheckTime"`
	LastCheckAgo    string         `json:"lastCheckAgo"`
	StaleAfter      string         `json:"staleAfter"`
	Configs         []ConfigStatus `json:"configs"`
}

// BuildStatus derives the status view from a state snapshot at now
func BuildStatus(st model.SystemState, now time.Time, staleAfter time.Duration) Status {
	out := Status{
		DestinationPath: st.DestinationPath,
		LastCheckTime:   st.LastCheckTime,
		LastCheckAgo:    "never",
		StaleAfter:      staleAfter.String(),
		Configs:         make([]ConfigStatus, 0, len(st.BackupConfigs)),
	}
	if st.LastCheckTime != nil {
		out.LastCheckAgo = humanize.RelTime(*st.LastCheckTime, now, "ago", "from now")
	}

	for _, c := range st.BackupConfigs {
		cs := ConfigStatus{
			ID:               c.ID,
			Name:             c.Name,
			SourcePath:       c.SourcePath,
			OutputFolder:     c.OutputFolder,
			LastBackupTime:   c.LastBackupTime,
			LastBackupAgo:    "never",
			BackupSuccessful: c.BackupSuccessful,
			Due:              policy.IsDue(c, now, staleAfter),
			Outcome:          outcome(c),
		}
		if c.LastBackupTime != nil {
			h := policy.HoursSince(*c.LastBackupTime, now)
			cs.HoursSince = &h
			cs.LastBackupAgo = humanize.RelTime(*c.LastBackupTime, now, "ago", "from now")
		}
		out.Configs = append(out.Configs, cs)
	}
	return out
}

// Status returns the status view of the runner's current state
func (r *Runner) Status() Status {
	return BuildStatus(r.Snapshot(), r.clock.Now(), r.staleAfter)
}

// OutcomeNone marks a configuration that has never completed a backup
const OutcomeNone = "-"

func outcome(c model.BackupConfig) string {
	switch {
	case c.BackupSuccessful:
		return "Success"
	case c.LastBackupTime == nil:
		return OutcomeNone
	default:
		return "Failed"
	}
}

package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/polarfoxDev/berth/internal/backend"
	"github.com/polarfoxDev/berth/internal/helpers"
	"github.com/polarfoxDev/berth/internal/logging"
	"github.com/polarfoxDev/berth/internal/model"
	"github.com/polarfoxDev/berth/internal/policy"
	"github.com/polarfoxDev/berth/internal/state"
)

// Store persists the system state
type Store interface {
	Load(log state.Logger) *model.SystemState
	Read() (model.SystemState, []string, error)
	Save(st *model.SystemState) error
}

// Checker decides whether the destination can be written to
type Checker interface {
	Check(path string) error
}

// History records every sync attempt; failures are logged and never change an outcome
type History interface {
	StartRun(ctx context.Context, passID string, cfg model.BackupConfig, trigger model.Trigger, targetPath string) (*model.Run, error)
	FinishRun(ctx context.Context, run *model.Run) error
}

type Options struct {
	Store      Store
	Checker    Checker
	Backend    backend.Backend
	History    History // optional
	Logger     *logging.Logger
	Clock      clock.Clock   // defaults to the wall clock
	StaleAfter time.Duration // defaults to policy.DefaultStaleAfter

	// ReloadEachPass re-reads the state file before every pass so edits made by
	// another process are picked up. It is skipped while an unsaved change is pending.
	ReloadEachPass bool
}

// Runner owns the system state and executes orchestration passes against it.
// Passes, on-demand runs and edits are serialized; snapshots may be taken at any time.
type Runner struct {
	store      Store
	checker    Checker
	backend    backend.Backend
	history    History
	log        *logging.Logger
	clock      clock.Clock
	staleAfter time.Duration
	reload     bool

	passMu  sync.Mutex
	stateMu sync.RWMutex
	state   *model.SystemState
	dirty   bool // the last save failed; in-memory state is ahead of the file
}

// New loads the state through opts.Store and returns a ready runner
func New(opts Options) *Runner {
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.StaleAfter < time.Hour {
		opts.StaleAfter = policy.DefaultStaleAfter
	}
	r := &Runner{
		store:      opts.Store,
		checker:    opts.Checker,
		backend:    opts.Backend,
		history:    opts.History,
		log:        opts.Logger,
		clock:      opts.Clock,
		staleAfter: opts.StaleAfter,
		reload:     opts.ReloadEachPass,
	}
	r.state = opts.Store.Load(opts.Logger)
	return r
}

// Snapshot returns a deep copy of the current state
func (r *Runner) Snapshot() model.SystemState {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.state.Clone()
}

// StaleAfter returns the staleness threshold in effect
func (r *Runner) StaleAfter() time.Duration {
	return r.staleAfter
}

// mutate applies fn under the state lock and persists the result.
// The save error is returned to the caller and also remembered so reloads do not discard the change.
func (r *Runner) mutate(fn func(st *model.SystemState) error) error {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	if err := fn(r.state); err != nil {
		return err
	}
	if err := r.store.Save(r.state); err != nil {
		r.dirty = true
		r.log.Error("Failed to save state: %v", err)
		return fmt.Errorf("save state: %w", err)
	}
	r.dirty = false
	return nil
}

// reloadState replaces the in-memory state with a clean decode of the file.
// A missing, unreadable or corrupt file keeps the in-memory state, which is rewritten on the next save.
func (r *Runner) reloadState() {
	if !r.reload {
		return
	}
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if r.dirty {
		r.log.Warn("Keeping in-memory state, the last save failed")
		return
	}
	fresh, warnings, err := r.store.Read()
	if err != nil {
		r.log.Warn("Keeping in-memory state, state file could not be reloaded: %v", err)
		return
	}
	for _, w := range warnings {
		r.log.Warn("State file: %s", w)
	}
	fresh.InheritIDs(r.state)
	r.state = &fresh
}

// SkipReason tells why a pass ended before visiting any configuration
type SkipReason string

const (
	SkipNone          SkipReason = ""
	SkipNoDestination SkipReason = "no_destination"
	SkipUnavailable   SkipReason = "destination_unavailable"
)

// ConfigResult is the outcome of one configuration within a pass
type ConfigResult struct {
	ConfigID  int
	Name      string
	Due       bool
	Attempted bool
	Success   bool
	RunID     int // 0 when no history is recorded
	Err       error
	Result    *backend.Result
}

// PassReport summarizes one orchestration pass
type PassReport struct {
	PassID      string
	Trigger     model.Trigger
	StartedAt   time.Time
	Skipped     SkipReason
	SkipErr     error
	Interrupted bool // stopped between configurations because ctx was done
	Results     []ConfigResult
}

// Failed returns the number of attempted configurations that failed
func (p *PassReport) Failed() int {
	n := 0
	for _, r := range p.Results {
		if r.Attempted && !r.Success {
			n++
		}
	}
	return n
}

// Synced returns the number of configurations mirrored successfully
func (p *PassReport) Synced() int {
	n := 0
	for _, r := range p.Results {
		if r.Success {
			n++
		}
	}
	return n
}

// RunPass executes one full orchestration pass: record the check time, verify the
// destination, then mirror every due configuration in stored order.
// A failing configuration never stops the others.
func (r *Runner) RunPass(ctx context.Context, trigger model.Trigger) *PassReport {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	report := &PassReport{
		PassID:  uuid.NewString(),
		Trigger: trigger,
	}
	log := r.log.NewRunLogger(report.PassID)
	r.reloadState()

	report.StartedAt = r.clock.Now()
	checked := report.StartedAt
	// a failed save is already logged; the pass continues on the in-memory state
	_ = r.mutate(func(st *model.SystemState) error {
		st.LastCheckTime = &checked
		return nil
	})

	log.Info("Checking backup status for all configurations (%s)", trigger)

	snap := r.Snapshot()
	if snap.DestinationPath == "" {
		log.Warn("No backup destination configured, skipping")
		report.Skipped = SkipNoDestination
		return report
	}
	if err := r.checker.Check(snap.DestinationPath); err != nil {
		log.Warn("Backup destination not available, skipping: %v", err)
		report.Skipped = SkipUnavailable
		report.SkipErr = err
		return report
	}
	log.Success("Destination connected and accessible at %s", snap.DestinationPath)

	if len(snap.BackupConfigs) == 0 {
		log.Info("No backup configurations defined")
	}

	for _, cfg := range snap.BackupConfigs {
		if ctx.Err() != nil {
			log.Warn("Pass interrupted, %d configuration(s) not checked", len(snap.BackupConfigs)-len(report.Results))
			report.Interrupted = true
			break
		}

		clog := log.WithConfig(cfg.ID)
		now := r.clock.Now()
		if !policy.IsDue(cfg, now, r.staleAfter) {
			clog.Info("Backup %q is up to date (last backup %d hours ago)", cfg.Name, policy.HoursSince(*cfg.LastBackupTime, now))
			report.Results = append(report.Results, ConfigResult{ConfigID: cfg.ID, Name: cfg.Name})
			continue
		}
		if cfg.LastBackupTime == nil {
			clog.Info("Backup %q has never run", cfg.Name)
		} else {
			clog.Info("Backup %q is due (last backup %d hours ago)", cfg.Name, policy.HoursSince(*cfg.LastBackupTime, now))
		}

		res := r.attempt(ctx, clog, report.PassID, cfg, snap.DestinationPath, trigger)
		res.Due = true
		report.Results = append(report.Results, res)
	}

	log.Info("Pass finished: %d synced, %d failed", report.Synced(), report.Failed())
	return report
}

// BackupNow mirrors a single configuration immediately, ignoring staleness.
// The destination must be configured and available.
func (r *Runner) BackupNow(ctx context.Context, id int) (*ConfigResult, error) {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	snap := r.Snapshot()
	cfg, err := snap.Config(id)
	if err != nil {
		return nil, err
	}
	if snap.DestinationPath == "" {
		return nil, errors.NotProvisionedf("backup destination")
	}
	if err := r.checker.Check(snap.DestinationPath); err != nil {
		return nil, fmt.Errorf("backup destination not available: %w", err)
	}

	passID := uuid.NewString()
	clog := r.log.NewRunLogger(passID).WithConfig(cfg.ID)
	res := r.attempt(ctx, clog, passID, *cfg, snap.DestinationPath, model.TriggerManual)
	if !res.Success {
		return &res, res.Err
	}
	return &res, nil
}

// attempt runs the sync for one configuration and applies its outcome to the state
func (r *Runner) attempt(ctx context.Context, clog *logging.RunLogger, passID string, cfg model.BackupConfig, dest string, trigger model.Trigger) ConfigResult {
	target := filepath.Join(dest, cfg.OutputFolder)
	out := ConfigResult{ConfigID: cfg.ID, Name: cfg.Name, Attempted: true}

	var run *model.Run
	if r.history != nil {
		var err error
		run, err = r.history.StartRun(ctx, passID, cfg, trigger, target)
		if err != nil {
			clog.Warn("Failed to record run start: %v", err)
		} else if run != nil {
			out.RunID = run.ID
			clog = clog.WithRun(run.ID)
		}
	}

	clog.Info("Starting backup %q: %s -> %s", cfg.Name, cfg.SourcePath, target)

	res, err := r.sync(ctx, cfg, target, clog)
	finished := r.clock.Now()

	if err == nil {
		out.Success = true
		out.Result = res
		clog.Success("Backup %q completed successfully", cfg.Name)
		if res != nil {
			if summary := summaryLine(res.Summary); summary != "" {
				clog.Info("Sync output: %s", summary)
			}
		}
	} else {
		out.Err = err
		clog.Error("Backup %q failed: %v", cfg.Name, err)
	}

	if saveErr := r.mutate(func(st *model.SystemState) error {
		c, err := st.Config(cfg.ID)
		if err != nil {
			return err
		}
		c.BackupSuccessful = out.Success
		if out.Success {
			c.LastBackupTime = &finished
		}
		return nil
	}); saveErr != nil {
		clog.Warn("Outcome of %q kept in memory only: %v", cfg.Name, saveErr)
	}

	if run != nil {
		r.finishRun(ctx, clog, run, out, finished)
	}
	return out
}

// sync runs the backend and converts a panic into a failure of this configuration only
func (r *Runner) sync(ctx context.Context, cfg model.BackupConfig, target string, clog *logging.RunLogger) (res *backend.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = nil, fmt.Errorf("sync panicked: %v", p)
		}
	}()
	if err := checkSource(cfg.SourcePath, clog); err != nil {
		return nil, err
	}
	return r.backend.Mirror(ctx, cfg.SourcePath, target, clog)
}

func (r *Runner) finishRun(ctx context.Context, clog *logging.RunLogger, run *model.Run, out ConfigResult, finished time.Time) {
	run.CompletedAt = &finished
	if out.Success {
		code := 0
		run.Status = model.RunSuccess
		run.ExitCode = &code
		if out.Result != nil {
			run.Summary = helpers.TruncateString(strings.TrimSpace(out.Result.Summary), 4000)
		}
	} else {
		run.Status = model.RunFailed
		run.Error = out.Err.Error()
		var syncErr *backend.SyncError
		if errors.As(out.Err, &syncErr) {
			code := syncErr.ExitCode
			run.ExitCode = &code
			run.Summary = helpers.TruncateString(syncErr.Stderr, 4000)
		}
	}
	// the attempt may already have been cancelled; history is written regardless
	if err := r.history.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		clog.Warn("Failed to record run result: %v", err)
	}
}

// SetDestination stores the destination root. An unavailable path is accepted with a warning.
func (r *Runner) SetDestination(path string) error {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	path = strings.TrimSpace(path)
	if path == "" {
		return errors.NotValidf("empty destination path")
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if err := r.mutate(func(st *model.SystemState) error {
		st.DestinationPath = path
		return nil
	}); err != nil {
		return err
	}
	r.log.Info("Backup destination set to %s", path)
	if err := r.checker.Check(path); err != nil {
		r.log.Warn("Destination is not available right now: %v", err)
	}
	return nil
}

// AddBackup validates and stores a new configuration
func (r *Runner) AddBackup(name, sourcePath, outputFolder string) (model.BackupConfig, error) {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	var cfg model.BackupConfig
	err := r.mutate(func(st *model.SystemState) error {
		var err error
		cfg, err = st.AddConfig(name, sourcePath, outputFolder)
		return err
	})
	if err != nil {
		return model.BackupConfig{}, err
	}
	r.log.Info("Added backup configuration %d %q: %s -> %s", cfg.ID, cfg.Name, cfg.SourcePath, cfg.OutputFolder)
	return cfg, nil
}

// RemoveBackup deletes a configuration; files already mirrored stay on the destination
func (r *Runner) RemoveBackup(id int) error {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	if err := r.mutate(func(st *model.SystemState) error {
		return st.RemoveConfig(id)
	}); err != nil {
		return err
	}
	r.log.Info("Removed backup configuration %d", id)
	return nil
}

// EditBackup changes name, source or output folder of a configuration
func (r *Runner) EditBackup(id int, edit model.ConfigEdit) (model.BackupConfig, error) {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	if edit.Empty() {
		return model.BackupConfig{}, errors.NotValidf("edit without changes")
	}
	var cfg model.BackupConfig
	err := r.mutate(func(st *model.SystemState) error {
		var err error
		cfg, err = st.EditConfig(id, edit)
		return err
	})
	if err != nil {
		return model.BackupConfig{}, err
	}
	r.log.Info("Updated backup configuration %d %q: %s -> %s", cfg.ID, cfg.Name, cfg.SourcePath, cfg.OutputFolder)
	return cfg, nil
}

// summaryLine folds the first lines of the captured sync output into one log line
func summaryLine(summary string) string {
	var lines []string
	for _, l := range strings.Split(summary, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
		if len(lines) == summaryLines {
			break
		}
	}
	return helpers.Ellipsize(strings.Join(lines, " | "), summaryMaxLen)
}

const (
	summaryLines  = 5
	summaryMaxLen = 300
)

// Package scheduler provides the periodic wakeup that starts orchestration passes.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/polarfoxDev/berth/internal/helpers"
)

// Logger is the subset of the application logger used for scheduler diagnostics
type Logger interface {
	Debug(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Trigger runs a job on a cron schedule.
// A wakeup that fires while the previous job is still running is dropped.
type Trigger struct {
	cron     *cron.Cron
	entry    cron.EntryID
	schedule string
}

// New validates schedule and registers job without starting the clock
func New(schedule string, log Logger, job func()) (*Trigger, error) {
	if err := helpers.ValidateCron(schedule); err != nil {
		return nil, err
	}

	cl := cronLogger{log: log}
	c := cron.New(
		cron.WithParser(helpers.CronParser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	entry, err := c.AddFunc(schedule, job)
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", schedule, err)
	}
	return &Trigger{cron: c, entry: entry, schedule: schedule}, nil
}

// Start begins firing the job in the background
func (t *Trigger) Start() {
	t.cron.Start()
}

// Stop prevents further wakeups and waits for a running job until ctx is done
func (t *Trigger) Stop(ctx context.Context) error {
	done := t.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the time of the next wakeup; zero before Start
func (t *Trigger) Next() time.Time {
	return t.cron.Entry(t.entry).Next
}

// Schedule returns the cron expression the trigger was built with
func (t *Trigger) Schedule() string {
	return t.schedule
}

// cronLogger adapts the application logger to cron.Logger
type cronLogger struct {
	log Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	if msg == "skip" {
		l.log.Warn("Scheduled check skipped, previous pass still running")
		return
	}
	l.log.Debug("cron: %s", formatKV(msg, keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: %s: %v", formatKV(msg, keysAndValues), err)
}

func formatKV(msg string, keysAndValues []any) string {
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fmt.Fprintf(&sb, " %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	return sb.String()
}

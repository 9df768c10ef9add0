package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *memLogger) add(level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+" "+fmt.Sprintf(format, args...))
}

func (l *memLogger) Debug(format string, args ...any) { l.add("DEBUG", format, args...) }
func (l *memLogger) Warn(format string, args ...any)  { l.add("WARN", format, args...) }
func (l *memLogger) Error(format string, args ...any) { l.add("ERROR", format, args...) }

func (l *memLogger) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

func TestNew_RejectsInvalidSchedule(t *testing.T) {
	for _, s := range []string{"", "hourly", "0 *", "61 * * * *"} {
		_, err := New(s, &memLogger{}, func() {})
		assert.Error(t, err, "%q", s)
	}
}

func TestTrigger_NextHourly(t *testing.T) {
	tr, err := New("0 * * * *", &memLogger{}, func() {})
	require.NoError(t, err)
	assert.Equal(t, "0 * * * *", tr.Schedule())

	tr.Start()
	defer tr.Stop(context.Background())

	next := tr.Next()
	require.False(t, next.IsZero())
	assert.Equal(t, 0, next.Minute())
	assert.Equal(t, 0, next.Second())
	assert.True(t, next.After(time.Now()))
	assert.LessOrEqual(t, time.Until(next), time.Hour)
}

func TestTrigger_FiresAndStopWaits(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	tr, err := New("@every 1s", &memLogger{}, func() {
		if calls.Add(1) == 1 {
			started <- struct{}{}
			<-release
		}
	})
	require.NoError(t, err)
	tr.Start()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire")
	}

	// the job is still running, so Stop must wait for it
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.True(t, errors.Is(tr.Stop(ctx), context.DeadlineExceeded))

	close(release)
	assert.NoError(t, tr.Stop(context.Background()))
}

func TestTrigger_SkipsOverlappingRuns(t *testing.T) {
	log := &memLogger{}
	var calls atomic.Int32
	tr, err := New("@every 1s", log, func() {
		calls.Add(1)
		time.Sleep(2500 * time.Millisecond)
	})
	require.NoError(t, err)
	tr.Start()
	time.Sleep(3200 * time.Millisecond)
	require.NoError(t, tr.Stop(context.Background()))

	assert.Equal(t, int32(1), calls.Load())
	assert.Contains(t, log.snapshot(), "WARN Scheduled check skipped, previous pass still running")
}

func TestTrigger_RecoversPanics(t *testing.T) {
	log := &memLogger{}
	fired := make(chan struct{}, 1)
	tr, err := New("@every 1s", log, func() {
		defer func() { fired <- struct{}{} }()
		panic("boom")
	})
	require.NoError(t, err)
	tr.Start()
	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire")
	}
	require.NoError(t, tr.Stop(context.Background()))

	found := false
	for _, l := range log.snapshot() {
		if strings.HasPrefix(l, "ERROR") {
			found = true
		}
	}
	assert.True(t, found, "panic should be logged as error: %v", log.snapshot())
}

func TestFormatKV(t *testing.T) {
	assert.Equal(t, "run now=1 entry=2", formatKV("run", []any{"now", 1, "entry", 2}))
	assert.Equal(t, "start", formatKV("start", nil))
	assert.Equal(t, "odd k=v", formatKV("odd", []any{"k", "v", "dangling"}))
}

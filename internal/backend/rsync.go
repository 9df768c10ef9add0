package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultExcludes are OS metadata files that never belong in a mirror
var DefaultExcludes = []string{
	".DS_Store",
	".Spotlight-V100",
	".Trashes",
	".fseventsd",
	".TemporaryItems",
	"._.Trashes",
	".apdisk",
}

const (
	DefaultBinary        = "rsync"
	DefaultCaptureChunks = 10
	stderrTailLines      = 20
)

// DefaultArgs selects recursive archive mode and deletes files that vanished from the source
func DefaultArgs() []string {
	return []string{"-av", "--delete"}
}

// RsyncBackend mirrors directories by running rsync as a subprocess
type RsyncBackend struct {
	Binary        string
	Args          []string
	Excludes      []string
	CaptureChunks int // number of stdout reads kept for the summary
}

// NewRsyncBackend returns a backend with the default flags and exclusion list
func NewRsyncBackend() *RsyncBackend {
	return &RsyncBackend{
		Binary:        DefaultBinary,
		Args:          DefaultArgs(),
		Excludes:      append([]string(nil), DefaultExcludes...),
		CaptureChunks: DefaultCaptureChunks,
	}
}

func (b *RsyncBackend) binary() string {
	if b.Binary == "" {
		return DefaultBinary
	}
	return b.Binary
}

// Init checks that the sync tool can be found
func (b *RsyncBackend) Init() error {
	if _, err := exec.LookPath(b.binary()); err != nil {
		return fmt.Errorf("sync tool %q not found: %w", b.binary(), err)
	}
	return nil
}

// BuildArgs returns the full argument list for one mirror.
// The source gets a trailing slash so its contents, not the directory itself, land in target.
func (b *RsyncBackend) BuildArgs(source, target string) []string {
	args := append([]string(nil), b.Args...)
	for _, e := range b.Excludes {
		args = append(args, "--exclude", e)
	}
	args = append(args, strings.TrimRight(source, "/")+"/", target)
	return args
}

// Mirror runs the sync tool to completion.
// ctx is only consulted before the process starts; a running sync is never interrupted.
func (b *RsyncBackend) Mirror(ctx context.Context, source, target string, log Logger) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, &SyncError{ExitCode: -1, Err: err}
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return nil, &SyncError{ExitCode: -1, Err: fmt.Errorf("create target %s: %w", filepath.Clean(target), err)}
	}

	args := b.BuildArgs(source, target)
	log.Info("Running %s %s", b.binary(), strings.Join(args, " "))

	cmd := exec.Command(b.binary(), args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SyncError{ExitCode: -1, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SyncError{ExitCode: -1, Err: err}
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &SyncError{ExitCode: -1, Err: err}
	}

	chunks := b.CaptureChunks
	if chunks <= 0 {
		chunks = DefaultCaptureChunks
	}
	summary := &chunkCapture{max: chunks}
	diag := &lineWriter{
		emit: func(line string) { log.Warn("%s", line) },
		keep: stderrTailLines,
	}

	// Both pipes must be drained concurrently or a full buffer on one stalls the child.
	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(summary, stdout)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(diag, stderr)
		diag.flush()
		return err
	})
	drainErr := g.Wait()
	waitErr := cmd.Wait()
	duration := time.Since(started)

	if waitErr != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		return nil, &SyncError{ExitCode: code, Err: waitErr, Stderr: diag.tail()}
	}
	if drainErr != nil {
		log.Warn("Output of %s was truncated: %v", b.binary(), drainErr)
	}

	return &Result{
		Target:   target,
		Summary:  summary.String(),
		Duration: duration,
	}, nil
}

package backend

import (
	"context"
	"time"
)

// Logger receives the diagnostic output of a sync as it arrives
type Logger interface {
	Info(format string, args ...any)
	Warn(format string, args ...any)
}

// Backend mirrors one source tree into one target subtree
type Backend interface {
	// Init verifies the backend can run (e.g., the sync tool is installed)
	Init() error

	// Mirror makes target match source, deleting extraneous files inside target only.
	// It blocks until the sync finishes; a failure is returned as *SyncError.
	Mirror(ctx context.Context, source, target string, log Logger) (*Result, error)
}

// Result describes a successful mirror
type Result struct {
	Target   string
	Summary  string // bounded prefix of the tool's standard output
	Duration time.Duration
}

package backend

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// SyncError is returned when the sync tool could not be started or exited non-zero
type SyncError struct {
	ExitCode int    // -1 when the process never started or was killed by a signal
	Err      error  // underlying start or wait error
	Stderr   string // last diagnostic lines, for the run record
}

func (e *SyncError) Error() string {
	if e.ExitCode < 0 {
		var exitErr *exec.ExitError
		if errors.As(e.Err, &exitErr) {
			return fmt.Sprintf("sync tool terminated: %v", e.Err)
		}
		return fmt.Sprintf("failed to start sync tool: %v", e.Err)
	}
	msg := fmt.Sprintf("sync tool exited with code %d", e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + lastLine(s)
	}
	return msg
}

func (e *SyncError) Unwrap() error { return e.Err }

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

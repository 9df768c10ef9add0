// Package destination decides whether the backup destination can receive a mirror right now.
package destination

import (
	"fmt"
	"os"

	"github.com/juju/errors"
)

// Check returns nil when path is a writable directory.
// Every failure is returned as an error, never a panic, so callers can log the reason and skip.
func Check(path string) error {
	if path == "" {
		return errors.NotProvisionedf("backup destination")
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NotFoundf("destination %s", path)
		}
		return fmt.Errorf("stat destination %s: %w", path, err)
	}
	if !info.IsDir() {
		return errors.NotValidf("destination %s (not a directory)", path)
	}
	if err := writable(path); err != nil {
		return fmt.Errorf("destination %s is not writable: %w", path, err)
	}
	return nil
}

// IsAvailable reports whether Check succeeds
func IsAvailable(path string) bool {
	return Check(path) == nil
}

// Checker is the production availability gate used by the runner
type Checker struct{}

func (Checker) Check(path string) error { return Check(path) }

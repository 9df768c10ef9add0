package runner

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	jujuerrors "github.com/juju/errors"

	"github.com/polarfoxDev/berth/internal/logging"
)

// checkSource verifies the source tree exists before the sync tool may delete anything on its behalf.
// An existing tree without any non-empty file is allowed but reported, since mirroring it empties the target.
func checkSource(path string, log *logging.RunLogger) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return jujuerrors.NotFoundf("source %s", path)
		}
		return fmt.Errorf("stat source %s: %w", path, err)
	}
	if !info.IsDir() {
		return jujuerrors.NotValidf("source %s (not a directory)", path)
	}

	totalFiles := 0
	foundNonEmpty := false
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// unreadable subtrees are reported by the sync tool itself
			return fs.SkipDir
		}
		if d.IsDir() {
			return nil
		}
		totalFiles++
		finfo, err := d.Info()
		if err == nil && finfo.Size() > 0 {
			foundNonEmpty = true
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil && !errors.Is(err, filepath.SkipAll) {
		return fmt.Errorf("walk source %s: %w", path, err)
	}
	if foundNonEmpty {
		return nil
	}

	if totalFiles == 0 {
		log.Warn("Source %s contains no files, the mirror will be emptied", path)
	} else {
		log.Warn("All %d file(s) in source %s are empty (0 bytes)", totalFiles, path)
	}
	return nil
}

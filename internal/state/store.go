// Package state persists the SystemState record shared by the CLI and the daemon.
package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/polarfoxDev/berth/internal/model"
)

// Logger is the subset of the application logger the store reports through
type Logger interface {
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Store reads and writes the JSON state file
type Store struct {
	Path string
}

func New(path string) *Store {
	return &Store{Path: path}
}

// Load returns the persisted state reconciled over defaults.
// It never fails: unreadable or malformed records are logged and replaced by defaults.
func (s *Store) Load(log Logger) *model.SystemState {
	st, warnings, err := s.Read()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Info("No previous state found, starting fresh")
	case err != nil:
		log.Error("Failed to load state file %s, using defaults: %v", s.Path, err)
	default:
		for _, w := range warnings {
			log.Warn("State file %s: %s", s.Path, w)
		}
		log.Info("Loaded state: %d backup configuration(s)", len(st.BackupConfigs))
	}
	return &st
}

// Read decodes the state file without logging.
// On error the returned state is the default state; a missing file yields an error wrapping fs.ErrNotExist.
func (s *Store) Read() (model.SystemState, []string, error) {
	defaults := model.DefaultState()
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return defaults, nil, fmt.Errorf("read state: %w", err)
	}
	st, warnings, err := Decode(data, defaults)
	if err != nil {
		return defaults, nil, fmt.Errorf("parse state: %w", err)
	}
	return st, warnings, nil
}

// Save overwrites the state file with st.
// The record is written to a sibling temp file and renamed into place so a crash never leaves it truncated.
func (s *Store) Save(st *model.SystemState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod state: %w", err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Decode reconciles a persisted record with defaults field by field.
// Fields that are missing or have the wrong type keep their default; each fallback is reported as a warning.
// An error is returned only when data is not a JSON object at all.
func Decode(data []byte, defaults model.SystemState) (model.SystemState, []string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return defaults, nil, err
	}
	if raw == nil {
		return defaults, nil, fmt.Errorf("state record is not an object")
	}

	st := defaults.Clone()
	var warnings []string
	warnf := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	if msg, ok := raw["destinationPath"]; ok && !isNull(msg) {
		var v string
		if err := json.Unmarshal(msg, &v); err != nil {
			warnf("ignoring destinationPath: %v", err)
		} else {
			st.DestinationPath = v
		}
	}

	if msg, ok := raw["lastCheckTime"]; ok && !isNull(msg) {
		var v time.Time
		if err := json.Unmarshal(msg, &v); err != nil {
			warnf("ignoring lastCheckTime: %v", err)
		} else {
			st.LastCheckTime = &v
		}
	}

	if msg, ok := raw["backupConfigs"]; ok && !isNull(msg) {
		var items []json.RawMessage
		if err := json.Unmarshal(msg, &items); err != nil {
			warnf("ignoring backupConfigs: %v", err)
		} else {
			st.BackupConfigs = decodeConfigs(items, warnf)
		}
	}

	return st, warnings, nil
}

func decodeConfigs(items []json.RawMessage, warnf func(string, ...any)) []model.BackupConfig {
	configs := make([]model.BackupConfig, 0, len(items))
	seen := make(map[int]bool, len(items))

	for i, item := range items {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
			warnf("dropping backupConfigs[%d]: not an object", i)
			continue
		}

		var cfg model.BackupConfig
		idMsg, ok := fields["id"]
		if !ok || json.Unmarshal(idMsg, &cfg.ID) != nil || cfg.ID <= 0 {
			warnf("dropping backupConfigs[%d]: missing or invalid id", i)
			continue
		}
		if seen[cfg.ID] {
			warnf("dropping backupConfigs[%d]: duplicate id %d", i, cfg.ID)
			continue
		}
		seen[cfg.ID] = true

		for _, f := range []struct {
			key string
			dst any
		}{
			{"name", &cfg.Name},
			{"sourcePath", &cfg.SourcePath},
			{"outputFolder", &cfg.OutputFolder},
			{"backupSuccessful", &cfg.BackupSuccessful},
		} {
			if err := unmarshalField(fields, f.key, f.dst); err != nil {
				warnf("config %d: ignoring %s: %v", cfg.ID, f.key, err)
			}
		}

		var last time.Time
		if msg, ok := fields["lastBackupTime"]; ok && !isNull(msg) {
			if err := json.Unmarshal(msg, &last); err != nil {
				warnf("config %d: ignoring lastBackupTime: %v", cfg.ID, err)
			} else {
				cfg.LastBackupTime = &last
			}
		}

		configs = append(configs, cfg)
	}
	return configs
}

// unmarshalField decodes fields[key] into dst; an absent or null key leaves dst untouched
func unmarshalField(fields map[string]json.RawMessage, key string, dst any) error {
	msg, ok := fields[key]
	if !ok || isNull(msg) {
		return nil
	}
	return json.Unmarshal(msg, dst)
}

func isNull(msg json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(msg), []byte("null"))
}

package model

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/juju/errors"
)

// BackupConfig describes one source tree mirrored into its own folder on the destination
type BackupConfig struct {
	ID               int        `json:"id"`
	Name             string     `json:"name"`
	SourcePath       string     `json:"sourcePath"`
	OutputFolder     string     `json:"outputFolder"`     // subdirectory under the destination root
	LastBackupTime   *time.Time `json:"lastBackupTime"`   // last successful completion (nil if never)
	BackupSuccessful bool       `json:"backupSuccessful"` // outcome of the most recent attempt
}

// SystemState is the persisted record shared by the CLI and the daemon
type SystemState struct {
	LastCheckTime   *time.Time     `json:"lastCheckTime"`
	DestinationPath string         `json:"destinationPath"`
	BackupConfigs   []BackupConfig `json:"backupConfigs"`

	// highest ID handed out by this process, so removed IDs are not reissued
	issuedID int
}

// DefaultState returns the state used for a fresh install
func DefaultState() SystemState {
	return SystemState{BackupConfigs: []BackupConfig{}}
}

// Clone returns a deep copy of the state
func (s *SystemState) Clone() SystemState {
	out := *s
	if s.LastCheckTime != nil {
		t := *s.LastCheckTime
		out.LastCheckTime = &t
	}
	out.BackupConfigs = make([]BackupConfig, len(s.BackupConfigs))
	for i, c := range s.BackupConfigs {
		out.BackupConfigs[i] = c.Clone()
	}
	return out
}

// Clone returns a copy of the configuration that shares no pointers with c
func (c BackupConfig) Clone() BackupConfig {
	if c.LastBackupTime != nil {
		t := *c.LastBackupTime
		c.LastBackupTime = &t
	}
	return c
}

// NextID returns max(existing IDs, IDs already issued) + 1
func (s *SystemState) NextID() int {
	max := s.issuedID
	for _, c := range s.BackupConfigs {
		if c.ID > max {
			max = c.ID
		}
	}
	return max + 1
}

// InheritIDs carries the issued-ID high-water mark of prev over, so reloading state never reissues an ID
func (s *SystemState) InheritIDs(prev *SystemState) {
	if n := prev.NextID() - 1; n > s.issuedID {
		s.issuedID = n
	}
}

// Config returns a pointer to the configuration with the given ID.
// IMPORTANT: the pointer refers to the slice element and is invalidated by Add/Remove.
func (s *SystemState) Config(id int) (*BackupConfig, error) {
	for i := range s.BackupConfigs {
		if s.BackupConfigs[i].ID == id {
			return &s.BackupConfigs[i], nil
		}
	}
	return nil, errors.NotFoundf("backup configuration with ID %d", id)
}

// AddConfig validates and appends a new configuration, assigning it the next ID
func (s *SystemState) AddConfig(name, sourcePath, outputFolder string) (BackupConfig, error) {
	if err := ValidateConfig(name, sourcePath, outputFolder); err != nil {
		return BackupConfig{}, err
	}
	cfg := BackupConfig{
		ID:           s.NextID(),
		Name:         name,
		SourcePath:   sourcePath,
		OutputFolder: outputFolder,
	}
	s.issuedID = cfg.ID
	s.BackupConfigs = append(s.BackupConfigs, cfg)
	return cfg, nil
}

// RemoveConfig deletes the configuration with the given ID, keeping the order of the rest
func (s *SystemState) RemoveConfig(id int) error {
	for i, c := range s.BackupConfigs {
		if c.ID != id {
			continue
		}
		if id > s.issuedID {
			s.issuedID = id
		}
		s.BackupConfigs = append(s.BackupConfigs[:i:i], s.BackupConfigs[i+1:]...)
		return nil
	}
	return errors.NotFoundf("backup configuration with ID %d", id)
}

// ConfigEdit holds the optional replacements applied by EditConfig
type ConfigEdit struct {
	Name         *string
	SourcePath   *string
	OutputFolder *string
}

// Empty reports whether the edit changes nothing
func (e ConfigEdit) Empty() bool {
	return e.Name == nil && e.SourcePath == nil && e.OutputFolder == nil
}

// EditConfig applies the non-nil fields of edit. Backup history is left untouched.
func (s *SystemState) EditConfig(id int, edit ConfigEdit) (BackupConfig, error) {
	cfg, err := s.Config(id)
	if err != nil {
		return BackupConfig{}, err
	}
	updated := *cfg
	if edit.Name != nil {
		updated.Name = *edit.Name
	}
	if edit.SourcePath != nil {
		updated.SourcePath = *edit.SourcePath
	}
	if edit.OutputFolder != nil {
		updated.OutputFolder = *edit.OutputFolder
	}
	if err := ValidateConfig(updated.Name, updated.SourcePath, updated.OutputFolder); err != nil {
		return BackupConfig{}, err
	}
	*cfg = updated
	return updated.Clone(), nil
}

// ValidateConfig checks the operator-supplied fields of a configuration.
// The output folder must stay below the destination root since the sync tool deletes inside it.
func ValidateConfig(name, sourcePath, outputFolder string) error {
	if strings.TrimSpace(name) == "" {
		return errors.NotValidf("empty name")
	}
	if sourcePath == "" {
		return errors.NotValidf("empty source path")
	}
	if !filepath.IsAbs(sourcePath) {
		return errors.NotValidf("source path %q (must be absolute)", sourcePath)
	}
	if outputFolder == "" {
		return errors.NotValidf("empty output folder")
	}
	if filepath.IsAbs(outputFolder) {
		return errors.NotValidf("output folder %q (must be relative to the destination)", outputFolder)
	}
	clean := filepath.Clean(outputFolder)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return errors.NotValidf("output folder %q (must be a subdirectory of the destination)", outputFolder)
	}
	return nil
}

// Trigger tells how a backup attempt was started
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// RunStatus represents the state of one sync attempt in the history
type RunStatus string

const (
	RunInProgress RunStatus = "in_progress"
	RunSuccess    RunStatus = "success"
	RunFailed     RunStatus = "failed"
	RunAborted    RunStatus = "aborted" // interrupted by restart/shutdown
)

// Run is one recorded sync attempt for a configuration
type Run struct {
	ID          int        `json:"id"`
	PassID      string     `json:"passId"`
	ConfigID    int        `json:"configId"`
	ConfigName  string     `json:"configName"`
	Trigger     Trigger    `json:"trigger"`
	Status      RunStatus  `json:"status"`
	ExitCode    *int       `json:"exitCode"` // nil while running
	TargetPath  string     `json:"targetPath"`
	Summary     string     `json:"summary,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

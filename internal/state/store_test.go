package state

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polarfoxDev/berth/internal/model"
)

type recordingLogger struct {
	infos, warns, errors []string
}

func (l *recordingLogger) Info(format string, args ...any) {
	l.infos = append(l.infos, fmt.Sprintf(format, args...))
}

func (l *recordingLogger) Warn(format string, args ...any) {
	l.warns = append(l.warns, fmt.Sprintf(format, args...))
}

func (l *recordingLogger) Error(format string, args ...any) {
	l.errors = append(l.errors, fmt.Sprintf(format, args...))
}

func ptr(t time.Time) *time.Time { return &t }

func TestSaveLoad_RoundTrip(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "sub", "state.json"))

	want := model.SystemState{
		LastCheckTime:   ptr(time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)),
		DestinationPath: "/Volumes/Backup SSD",
		BackupConfigs: []model.BackupConfig{
			{ID: 7, Name: "Photos", SourcePath: "/Users/me/Pictures", OutputFolder: "photos",
				LastBackupTime: ptr(time.Date(2026, 10, 16, 7, 30, 0, 0, time.UTC)), BackupSuccessful: true},
			{ID: 2, Name: "Documents", SourcePath: "/Users/me/Documents", OutputFolder: "docs"},
			{ID: 5, Name: "Code", SourcePath: "/Users/me/src", OutputFolder: "code", BackupSuccessful: false,
				LastBackupTime: ptr(time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC))},
		},
	}
	require.NoError(t, store.Save(&want))

	log := &recordingLogger{}
	got := store.Load(log)

	assert.Equal(t, want, *got)
	assert.Empty(t, log.errors)
	assert.Empty(t, log.warns)
}

func TestSave_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := New(path)

	st := model.DefaultState()
	st.DestinationPath = "/a"
	require.NoError(t, store.Save(&st))
	st.DestinationPath = "/b"
	require.NoError(t, store.Save(&st))

	got := store.Load(&recordingLogger{})
	assert.Equal(t, "/b", got.DestinationPath)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestLoad_MissingFile(t *testing.T) {
	log := &recordingLogger{}
	got := New(filepath.Join(t.TempDir(), "none.json")).Load(log)

	assert.Equal(t, model.DefaultState(), *got)
	assert.Contains(t, log.infos, "No previous state found, starting fresh")
	assert.Empty(t, log.errors)
}

func TestLoad_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"destinationPath": "/Vol`), 0o644))

	log := &recordingLogger{}
	got := New(path).Load(log)

	assert.Equal(t, model.DefaultState(), *got)
	assert.Len(t, log.errors, 1)
}

func TestLoad_NotAnObject(t *testing.T) {
	for _, body := range []string{`null`, `[]`, `"x"`} {
		path := filepath.Join(t.TempDir(), "state.json")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

		log := &recordingLogger{}
		got := New(path).Load(log)
		assert.Equal(t, model.DefaultState(), *got, body)
		assert.Len(t, log.errors, 1, body)
	}
}

func TestDecode_PerFieldFallback(t *testing.T) {
	data := []byte(`{
		"destinationPath": 42,
		"lastCheckTime": "2026-10-17T08:00:00Z",
		"unknown": true,
		"backupConfigs": [
			{"id": 1, "name": "A", "sourcePath": "/a", "outputFolder": "a", "backupSuccessful": "yes"},
			{"name": "no id"},
			{"id": -3, "name": "negative"},
			{"id": 1, "name": "duplicate"},
			"garbage",
			{"id": 4, "name": "B", "sourcePath": "/b", "outputFolder": "b", "lastBackupTime": "yesterday"},
			{"id": 6, "name": "C", "lastBackupTime": null}
		]
	}`)

	defaults := model.DefaultState()
	defaults.DestinationPath = "/default"
	st, warnings, err := Decode(data, defaults)
	require.NoError(t, err)

	assert.Equal(t, "/default", st.DestinationPath)
	require.NotNil(t, st.LastCheckTime)
	assert.True(t, st.LastCheckTime.Equal(time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)))

	require.Len(t, st.BackupConfigs, 3)
	assert.Equal(t, 1, st.BackupConfigs[0].ID)
	assert.Equal(t, "A", st.BackupConfigs[0].Name)
	assert.False(t, st.BackupConfigs[0].BackupSuccessful)

	assert.Equal(t, 4, st.BackupConfigs[1].ID)
	assert.Equal(t, "/b", st.BackupConfigs[1].SourcePath)
	assert.Nil(t, st.BackupConfigs[1].LastBackupTime)

	assert.Equal(t, 6, st.BackupConfigs[2].ID)
	assert.Nil(t, st.BackupConfigs[2].LastBackupTime)

	// destinationPath, backupSuccessful, missing id, negative id, duplicate, garbage, lastBackupTime
	assert.Len(t, warnings, 7)
}

func TestDecode_MissingFieldsKeepDefaults(t *testing.T) {
	defaults := model.DefaultState()
	defaults.DestinationPath = "/default"

	st, warnings, err := Decode([]byte(`{}`), defaults)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "/default", st.DestinationPath)
	assert.Nil(t, st.LastCheckTime)
	assert.NotNil(t, st.BackupConfigs)
	assert.Empty(t, st.BackupConfigs)
}

func TestDecode_IDsContinueAfterLoad(t *testing.T) {
	st, _, err := Decode([]byte(`{"backupConfigs":[{"id":1},{"id":3}]}`), model.DefaultState())
	require.NoError(t, err)
	assert.Equal(t, 4, st.NextID())
}

func TestRead_ReportsErrors(t *testing.T) {
	dir := t.TempDir()

	_, _, err := New(filepath.Join(dir, "none.json")).Read()
	assert.ErrorIs(t, err, fs.ErrNotExist)

	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	st, _, err := New(path).Read()
	assert.Error(t, err)
	assert.Equal(t, model.DefaultState(), st)
}

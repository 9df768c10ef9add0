package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/polarfoxDev/berth/internal/database"
)

// helper function to create a test database with proper schema
func setupTestDB(t *testing.T) *database.DB {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := database.InitDB(dbPath)
	if err != nil {
		t.Fatalf("failed to initialize test database: %v", err)
	}

	return db
}

func TestLogger_BasicLogging(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	console := &bytes.Buffer{}
	logger, err := New(db.GetDB(), console, nil)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	// Log some messages
	logger.Info("test info message")
	logger.Warn("test warning message")
	logger.Error("test error message")
	logger.Success("test success message")

	// Verify console output contains messages
	output := console.String()
	for _, want := range []string{
		"[INFO] test info message",
		"[WARN] test warning message",
		"[ERROR] test error message",
		"[SUCCESS] test success message",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("console output missing %q: %s", want, output)
		}
	}
}

func TestLogger_LineFormat(t *testing.T) {
	console := &bytes.Buffer{}
	file := &bytes.Buffer{}
	logger, err := New(nil, console, file)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	logger.now = func() time.Time { return time.Date(2026, 10, 17, 9, 5, 3, 0, time.Local) }

	logger.Warn("destination not connected, skipping backup")

	want := "[2026-10-17 09:05:03] [WARN] destination not connected, skipping backup\n"
	if file.String() != want {
		t.Errorf("file line = %q, want %q", file.String(), want)
	}
	if console.String() != want {
		t.Errorf("console line = %q, want %q", console.String(), want)
	}
}

func TestLogger_FileIsAppendOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "berth.log")

	for i := 0; i < 2; i++ {
		f, err := OpenLogFile(path)
		if err != nil {
			t.Fatalf("OpenLogFile: %v", err)
		}
		logger, _ := New(nil, &bytes.Buffer{}, f)
		logger.Info("session %d", i)
		f.Close()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), data)
	}
	if !strings.HasSuffix(lines[0], "[INFO] session 0") || !strings.HasSuffix(lines[1], "[INFO] session 1") {
		t.Errorf("unexpected log file content: %q", data)
	}
}

func TestLogger_WithoutDatabase(t *testing.T) {
	logger, _ := New(nil, &bytes.Buffer{}, nil)
	logger.Info("console only")

	if _, err := logger.Query(QueryOptions{}); err == nil {
		t.Error("expected query error without database")
	}
	if _, err := logger.PruneOldLogs(time.Hour); err == nil {
		t.Error("expected prune error without database")
	}
}

func TestLogger_RunLogging(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	logger, err := New(db.GetDB(), &bytes.Buffer{}, nil)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	// Log with pass and configuration context
	logger.NewRunLogger("pass-abc").WithConfig(1).Info("backup started")
	logger.NewRunLogger("pass-xyz").WithConfig(2).Info("backup completed")

	// Query by configuration ID
	entries, err := logger.Query(QueryOptions{ConfigID: 1})
	if err != nil {
		t.Fatalf("failed to query logs: %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	if entries[0].PassID != "pass-abc" {
		t.Errorf("expected pass ID 'pass-abc', got '%s'", entries[0].PassID)
	}
	if entries[0].ConfigID != 1 {
		t.Errorf("expected config ID 1, got %d", entries[0].ConfigID)
	}
	if entries[0].Message != "backup started" {
		t.Errorf("expected message 'backup started', got '%s'", entries[0].Message)
	}
}

func TestLogger_QueryByPass(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	logger, err := New(db.GetDB(), &bytes.Buffer{}, nil)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	// Log entries for different passes
	p1 := logger.NewRunLogger("pass-1")
	p2 := logger.NewRunLogger("pass-2")
	p1.Info("message 1")
	p2.WithConfig(2).Info("message 2")
	p1.WithConfig(3).Info("message 3")

	entries, err := logger.Query(QueryOptions{PassID: "pass-1"})
	if err != nil {
		t.Fatalf("failed to query logs: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for pass-1, got %d", len(entries))
	}
}

func TestLogger_QueryByRun(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	logger, err := New(db.GetDB(), &bytes.Buffer{}, nil)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	run := logger.NewRunLogger("pass-1").WithConfig(4).WithRun(17)
	run.Info("first")
	run.Warn("rsync: some files vanished")
	run.Success("last")
	logger.NewRunLogger("pass-1").WithConfig(4).Info("not part of the run")

	entries, err := logger.QueryByRun(17, 0)
	if err != nil {
		t.Fatalf("failed to query logs: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Message != "first" || entries[2].Message != "last" {
		t.Errorf("expected oldest first, got %q .. %q", entries[0].Message, entries[2].Message)
	}
	if entries[1].Level != LevelWarn {
		t.Errorf("expected WARN, got %s", entries[1].Level)
	}

	limited, err := logger.QueryByRun(17, 2)
	if err != nil {
		t.Fatalf("failed to query logs: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 entries with limit, got %d", len(limited))
	}
}

func TestLogger_QueryByLevel(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	logger, err := New(db.GetDB(), &bytes.Buffer{}, nil)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	// Log entries with different levels
	logger.Info("info message")
	logger.Error("error message")
	logger.Warn("warning message")
	logger.Error("another error")

	// Query errors only
	entries, err := logger.Query(QueryOptions{Level: LevelError})
	if err != nil {
		t.Fatalf("failed to query logs: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("expected 2 error entries, got %d", len(entries))
	}

	for _, e := range entries {
		if e.Level != LevelError {
			t.Errorf("expected level ERROR, got %s", e.Level)
		}
	}
}

func TestLogger_QueryByTimeRange(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	logger, err := New(db.GetDB(), &bytes.Buffer{}, nil)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	start := time.Now()
	logger.Info("message 1")
	time.Sleep(10 * time.Millisecond)
	middle := time.Now()
	time.Sleep(10 * time.Millisecond)
	logger.Info("message 2")
	end := time.Now()

	// Query messages after middle timestamp
	entries, err := logger.Query(QueryOptions{Since: middle})
	if err != nil {
		t.Fatalf("failed to query logs: %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after middle, got %d", len(entries))
	}
	if entries[0].Message != "message 2" {
		t.Errorf("expected 'message 2', got '%s'", entries[0].Message)
	}

	// Query all messages in range
	entries, err = logger.Query(QueryOptions{Since: start, Until: end})
	if err != nil {
		t.Fatalf("failed to query logs: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries in range, got %d", len(entries))
	}
}

func TestLogger_QueryWithLimit(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	logger, err := New(db.GetDB(), &bytes.Buffer{}, nil)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	// Log multiple messages
	for i := 0; i < 10; i++ {
		logger.Info("message %d", i)
	}

	// Query with limit
	entries, err := logger.Query(QueryOptions{Limit: 5})
	if err != nil {
		t.Fatalf("failed to query logs: %v", err)
	}

	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}
}

func TestLogger_PruneOldLogs(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	logger, err := New(db.GetDB(), &bytes.Buffer{}, nil)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	// Log some messages
	logger.Info("message 1")
	logger.Info("message 2")
	logger.Info("message 3")

	// Verify all messages exist
	entries, err := logger.Query(QueryOptions{})
	if err != nil {
		t.Fatalf("failed to query logs: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	// Prune logs older than 1 hour (should delete nothing since all are recent)
	deleted, err := logger.PruneOldLogs(1 * time.Hour)
	if err != nil {
		t.Fatalf("failed to prune logs: %v", err)
	}
	if deleted != 0 {
		t.Errorf("expected 0 deleted entries, got %d", deleted)
	}

	// Prune logs older than -1 hour (should delete all)
	deleted, err = logger.PruneOldLogs(-1 * time.Hour)
	if err != nil {
		t.Fatalf("failed to prune logs: %v", err)
	}
	if deleted != 3 {
		t.Errorf("expected 3 deleted entries, got %d", deleted)
	}

	// Verify all messages are gone
	entries, err = logger.Query(QueryOptions{})
	if err != nil {
		t.Fatalf("failed to query logs: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected 0 entries after pruning, got %d", len(entries))
	}
}

func TestLogger_LogfCompatibility(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	console := &bytes.Buffer{}
	logger, err := New(db.GetDB(), console, nil)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	// Test Logf method (compatibility with old signature)
	logger.Logf("test message %d", 42)

	// Verify it works like Info
	if !bytes.Contains(console.Bytes(), []byte("test message 42")) {
		t.Errorf("Logf output missing message")
	}

	entries, err := logger.Query(QueryOptions{})
	if err != nil {
		t.Fatalf("failed to query logs: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Level != LevelInfo {
		t.Errorf("expected INFO level, got %s", entries[0].Level)
	}
}

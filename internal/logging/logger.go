package logging

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	LevelDebug   LogLevel = "DEBUG"
	LevelInfo    LogLevel = "INFO"
	LevelSuccess LogLevel = "SUCCESS"
	LevelWarn    LogLevel = "WARN"
	LevelError   LogLevel = "ERROR"
)

// TimestampFormat is used for the console and the text log file
const TimestampFormat = "2006-01-02 15:04:05"

// Logger writes every entry to the console, the append-only log file and the database.
// Each sink is optional; a failing sink never fails the caller.
type Logger struct {
	db      *sql.DB
	console io.Writer
	file    io.Writer
	mu      sync.Mutex
	now     func() time.Time
}

// LogEntry represents a single log entry
type LogEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	PassID    string    `json:"passId"`   // orchestration pass the entry belongs to
	ConfigID  int       `json:"configId"` // backup configuration (0 for pass-level entries)
	RunID     int       `json:"runId"`    // runs.id from the history database
}

// New creates a new Logger using an existing database connection.
// The caller is responsible for closing the database connection and the file.
func New(db *sql.DB, console io.Writer, file io.Writer) (*Logger, error) {
	if console == nil {
		console = os.Stdout
	}

	l := &Logger{
		db:      db,
		console: console,
		file:    file,
		now:     time.Now,
	}

	return l, nil
}

// OpenLogFile opens path for appending, creating parent directories as needed
func OpenLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// FormatLine renders an entry the way it appears in the console and the log file
func FormatLine(ts time.Time, level LogLevel, message string) string {
	return fmt.Sprintf("[%s] [%s] %s\n", ts.Format(TimestampFormat), level, message)
}

// Log writes a log entry to all configured sinks
func (l *Logger) Log(level LogLevel, passID string, configID, runID int, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	message := fmt.Sprintf(format, args...)
	timestamp := l.now()
	line := FormatLine(timestamp, level, message)

	fmt.Fprint(l.console, line)

	if l.file != nil {
		if _, err := io.WriteString(l.file, line); err != nil {
			fmt.Fprintf(l.console, "ERROR: failed to write to log file: %v\n", err)
		}
	}

	if l.db == nil {
		return
	}
	_, err := l.db.Exec(
		"INSERT INTO logs (timestamp, level, message, pass_id, config_id, run_id) VALUES (?, ?, ?, ?, ?, ?)",
		timestamp, string(level), message, nullString(passID), nullInt(configID), nullInt(runID),
	)
	if err != nil {
		// If DB write fails, at least we have console and file output
		fmt.Fprintf(l.console, "ERROR: failed to write to log database: %v\n", err)
	}
}

// Info logs an info-level message
func (l *Logger) Info(format string, args ...any) {
	l.Log(LevelInfo, "", 0, 0, format, args...)
}

// Success logs a completed operation
func (l *Logger) Success(format string, args ...any) {
	l.Log(LevelSuccess, "", 0, 0, format, args...)
}

// Warn logs a warning-level message
func (l *Logger) Warn(format string, args ...any) {
	l.Log(LevelWarn, "", 0, 0, format, args...)
}

// Error logs an error-level message
func (l *Logger) Error(format string, args ...any) {
	l.Log(LevelError, "", 0, 0, format, args...)
}

// Debug logs a debug-level message
func (l *Logger) Debug(format string, args ...any) {
	l.Log(LevelDebug, "", 0, 0, format, args...)
}

// Logf provides compatibility with the func(string, ...any) signature
func (l *Logger) Logf(format string, args ...any) {
	l.Info(format, args...)
}

// QueryOptions defines filters for querying logs
type QueryOptions struct {
	PassID   string
	ConfigID int
	RunID    int
	Level    LogLevel
	Since    time.Time
	Until    time.Time
	Limit    int
}

var errNoDatabase = errors.New("log database not configured")

const selectLogs = "SELECT id, timestamp, level, message, COALESCE(pass_id, ''), COALESCE(config_id, 0), COALESCE(run_id, 0) FROM logs"

// Query retrieves log entries based on filters, newest first
func (l *Logger) Query(opts QueryOptions) ([]LogEntry, error) {
	if l.db == nil {
		return nil, errNoDatabase
	}
	query := selectLogs + " WHERE 1=1"
	args := []any{}

	if opts.PassID != "" {
		query += " AND pass_id = ?"
		args = append(args, opts.PassID)
	}
	if opts.ConfigID != 0 {
		query += " AND config_id = ?"
		args = append(args, opts.ConfigID)
	}
	if opts.RunID != 0 {
		query += " AND run_id = ?"
		args = append(args, opts.RunID)
	}
	if opts.Level != "" {
		query += " AND level = ?"
		args = append(args, string(opts.Level))
	}
	if !opts.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, opts.Since)
	}
	if !opts.Until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, opts.Until)
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	return l.scan(query, args...)
}

// QueryByRun retrieves log entries for a single sync attempt, oldest first
func (l *Logger) QueryByRun(runID int, limit int) ([]LogEntry, error) {
	if l.db == nil {
		return nil, errNoDatabase
	}
	query := selectLogs + " WHERE run_id = ? ORDER BY timestamp ASC, id ASC"
	args := []any{runID}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	return l.scan(query, args...)
}

func (l *Logger) scan(query string, args ...any) ([]LogEntry, error) {
	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	// Initialize as empty slice so JSON encodes as [] instead of null
	entries := make([]LogEntry, 0)
	for rows.Next() {
		var e LogEntry
		var levelStr string
		if err := rows.Scan(&e.ID, &e.Timestamp, &levelStr, &e.Message, &e.PassID, &e.ConfigID, &e.RunID); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.Level = LogLevel(levelStr)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// PruneOldLogs removes log entries older than the specified duration
func (l *Logger) PruneOldLogs(olderThan time.Duration) (int64, error) {
	if l.db == nil {
		return 0, errNoDatabase
	}
	cutoff := l.now().Add(-olderThan)
	result, err := l.db.Exec("DELETE FROM logs WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune logs: %w", err)
	}
	return result.RowsAffected()
}

// nullString returns a sql.NullString for use with nullable columns
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullInt returns a sql.NullInt64 for use with nullable columns
func nullInt(i int) sql.NullInt64 {
	if i == 0 {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: int64(i), Valid: true}
}

// RunLogger wraps a Logger with pass and optional configuration context
type RunLogger struct {
	logger   *Logger
	passID   string
	configID int
	runID    int
}

// NewRunLogger creates a RunLogger for one orchestration pass
func (l *Logger) NewRunLogger(passID string) *RunLogger {
	return &RunLogger{
		logger: l,
		passID: passID,
	}
}

// WithConfig creates a new RunLogger with configuration context added
func (rl *RunLogger) WithConfig(configID int) *RunLogger {
	return &RunLogger{
		logger:   rl.logger,
		passID:   rl.passID,
		configID: configID,
	}
}

// WithRun creates a new RunLogger tied to a recorded sync attempt
func (rl *RunLogger) WithRun(runID int) *RunLogger {
	return &RunLogger{
		logger:   rl.logger,
		passID:   rl.passID,
		configID: rl.configID,
		runID:    runID,
	}
}

// PassID returns the pass the logger is bound to
func (rl *RunLogger) PassID() string { return rl.passID }

// Info logs an info-level message with run context
func (rl *RunLogger) Info(format string, args ...any) {
	rl.logger.Log(LevelInfo, rl.passID, rl.configID, rl.runID, format, args...)
}

// Success logs a success message with run context
func (rl *RunLogger) Success(format string, args ...any) {
	rl.logger.Log(LevelSuccess, rl.passID, rl.configID, rl.runID, format, args...)
}

// Warn logs a warning-level message with run context
func (rl *RunLogger) Warn(format string, args ...any) {
	rl.logger.Log(LevelWarn, rl.passID, rl.configID, rl.runID, format, args...)
}

// Error logs an error-level message with run context
func (rl *RunLogger) Error(format string, args ...any) {
	rl.logger.Log(LevelError, rl.passID, rl.configID, rl.runID, format, args...)
}

// Debug logs a debug-level message with run context
func (rl *RunLogger) Debug(format string, args ...any) {
	rl.logger.Log(LevelDebug, rl.passID, rl.configID, rl.runID, format, args...)
}

// Logf provides compatibility with func(string, ...any) signature
func (rl *RunLogger) Logf(format string, args ...any) {
	rl.Info(format, args...)
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/polarfoxDev/berth/internal/model"
	_ "modernc.org/sqlite"
)

type DB struct {
	db  *sql.DB
	now func() time.Time
}

func InitDB(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Retry logic for handling concurrent initialization (CLI and daemon may start together)
	var db *sql.DB
	var err error
	maxRetries := 5
	baseDelay := 100 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			delay := baseDelay * time.Duration(1<<uint(attempt-1))
			time.Sleep(delay)
		}

		db, err = sql.Open("sqlite", dbPath)
		if err != nil {
			if attempt == maxRetries-1 {
				return nil, fmt.Errorf("failed to open database after %d attempts: %w", maxRetries, err)
			}
			continue
		}

		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(time.Minute * 5)

		pragmas := []string{
			"PRAGMA busy_timeout = 10000", // 10 second timeout - set this FIRST
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
			"PRAGMA temp_store = MEMORY",
		}

		pragmaFailed := false
		for _, pragma := range pragmas {
			if _, err = db.Exec(pragma); err != nil {
				db.Close()
				if attempt == maxRetries-1 {
					return nil, fmt.Errorf("failed to set pragma %q after %d attempts: %w", pragma, maxRetries, err)
				}
				pragmaFailed = true
				break
			}
		}

		if pragmaFailed {
			continue
		}

		if err = createSchema(db); err != nil {
			db.Close()
			if attempt == maxRetries-1 {
				return nil, fmt.Errorf("failed to create schema after %d attempts: %w", maxRetries, err)
			}
			continue
		}

		return &DB{db: db, now: time.Now}, nil
	}

	return nil, fmt.Errorf("failed to initialize database after %d attempts: %w", maxRetries, err)
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pass_id TEXT NOT NULL,
		config_id INTEGER NOT NULL,
		config_name TEXT NOT NULL,
		trigger TEXT NOT NULL,
		status TEXT NOT NULL,
		exit_code INTEGER,
		target_path TEXT,
		summary TEXT,
		error TEXT,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_config_id ON runs(config_id);
	CREATE INDEX IF NOT EXISTS idx_runs_pass_id ON runs(pass_id);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

	CREATE TABLE IF NOT EXISTS logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		pass_id TEXT,
		config_id INTEGER,
		run_id INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp);
	CREATE INDEX IF NOT EXISTS idx_logs_pass_id ON logs(pass_id);
	CREATE INDEX IF NOT EXISTS idx_logs_config_id ON logs(config_id);
	CREATE INDEX IF NOT EXISTS idx_logs_level ON logs(level);
	CREATE INDEX IF NOT EXISTS idx_logs_run_id ON logs(run_id);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

// GetDB returns the underlying *sql.DB for use by other packages (e.g., logger)
func (d *DB) GetDB() *sql.DB {
	return d.db
}

// CleanupInterruptedRuns marks attempts left in progress by a crash or kill as aborted
func (d *DB) CleanupInterruptedRuns(ctx context.Context) (int, error) {
	query := `
		UPDATE runs
		SET status = ?, completed_at = ?, updated_at = ?
		WHERE status = ?
	`

	now := d.now()
	result, err := d.db.ExecContext(ctx, query, model.RunAborted, now, now, model.RunInProgress)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup interrupted runs: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rowsAffected), nil
}

// StartRun records the beginning of a sync attempt and returns the stored row
func (d *DB) StartRun(ctx context.Context, passID string, cfg model.BackupConfig, trigger model.Trigger, targetPath string) (*model.Run, error) {
	query := `
	INSERT INTO runs (
		pass_id, config_id, config_name, trigger, status,
		target_path, started_at, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := d.now()
	result, err := d.db.ExecContext(ctx, query, passID, cfg.ID, cfg.Name, trigger, model.RunInProgress, targetPath, now, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}

	runID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return d.GetRunByID(ctx, int(runID))
}

// FinishRun stores the outcome of a sync attempt
func (d *DB) FinishRun(ctx context.Context, run *model.Run) error {
	now := d.now()
	run.UpdatedAt = now
	if run.CompletedAt == nil {
		run.CompletedAt = &now
	}

	query := `
	UPDATE runs SET
		status = ?,
		exit_code = ?,
		summary = ?,
		error = ?,
		completed_at = ?,
		updated_at = ?
	WHERE id = ?
	`

	_, err := d.db.ExecContext(ctx, query,
		run.Status,
		run.ExitCode,
		run.Summary,
		run.Error,
		run.CompletedAt,
		run.UpdatedAt,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run %d: %w", run.ID, err)
	}

	return nil
}

const selectRuns = `
	SELECT id, pass_id, config_id, config_name, trigger, status, exit_code,
		COALESCE(target_path, ''), COALESCE(summary, ''), COALESCE(error, ''),
		started_at, completed_at, created_at, updated_at
	FROM runs
`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*model.Run, error) {
	run := &model.Run{}
	err := s.Scan(
		&run.ID, &run.PassID, &run.ConfigID, &run.ConfigName,
		&run.Trigger, &run.Status, &run.ExitCode,
		&run.TargetPath, &run.Summary, &run.Error,
		&run.StartedAt, &run.CompletedAt, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (d *DB) queryRuns(ctx context.Context, query string, args ...any) ([]*model.Run, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	// Initialize as empty slice so JSON encodes as [] instead of null
	runs := make([]*model.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// GetRuns retrieves attempts newest first; configID 0 means all configurations
func (d *DB) GetRuns(ctx context.Context, configID int, limit int) ([]*model.Run, error) {
	query := selectRuns + " WHERE (? = 0 OR config_id = ?) ORDER BY id DESC"
	args := []any{configID, configID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return d.queryRuns(ctx, query, args...)
}

// LatestRuns returns the most recent attempt of every configuration that has one
func (d *DB) LatestRuns(ctx context.Context) (map[int]*model.Run, error) {
	query := selectRuns + " WHERE id IN (SELECT MAX(id) FROM runs GROUP BY config_id)"
	runs, err := d.queryRuns(ctx, query)
	if err != nil {
		return nil, err
	}
	latest := make(map[int]*model.Run, len(runs))
	for _, run := range runs {
		latest[run.ConfigID] = run
	}
	return latest, nil
}

// GetRunByID retrieves a run by its ID; a missing run yields (nil, nil)
func (d *DB) GetRunByID(ctx context.Context, runID int) (*model.Run, error) {
	row := d.db.QueryRowContext(ctx, selectRuns+" WHERE id = ?", runID)
	run, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	return run, nil
}

// PruneRuns deletes finished attempts that completed before olderThan ago
func (d *DB) PruneRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := d.now().Add(-olderThan)
	result, err := d.db.ExecContext(ctx, "DELETE FROM runs WHERE status != ? AND completed_at < ?", model.RunInProgress, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return result.RowsAffected()
}

package task

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// sqliteSchemaVersion is the current schema version. Bump this when the schema changes.
const sqliteSchemaVersion = 1

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// sqliteBackend stores one row per task. Each change runs in a single
// transaction together with the store_meta row.
type sqliteBackend struct {
	db   *sql.DB
	path string
}

func openSQLiteBackend(ctx context.Context, path string) (*sqliteBackend, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	b := &sqliteBackend{db: db, path: path}
	if err := b.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *sqliteBackend) initSchema(ctx context.Context) error {
	var tableExists int
	err := b.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return b.createSchema(ctx)
	}

	var version int
	if err := b.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != sqliteSchemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to start fresh)",
			ErrSchemaMismatch, version, sqliteSchemaVersion, b.path)
	}
	return nil
}

func (b *sqliteBackend) createSchema(ctx context.Context) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", sqliteSchemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	now := formatTime(time.Now().UTC())
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO store_meta (id, created_at, last_updated, statistics) VALUES (1, ?, ?, '{}')", now, now,
	); err != nil {
		return fmt.Errorf("record store metadata: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

const selectTasks = `SELECT id, row_index, product_name, model_name, workflow_type, status,
	external_job_id, image_path, video_path, error_message, metadata, created_at, updated_at
	FROM tasks`

func (b *sqliteBackend) load(ctx context.Context) (map[string]Task, *Counters, error) {
	rows, err := b.db.QueryContext(ctx, selectTasks)
	if err != nil {
		return nil, nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	tasks := make(map[string]Task)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, nil, err
		}
		tasks[t.ID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate tasks: %w", err)
	}

	var stats string
	if err := b.db.QueryRowContext(ctx, "SELECT statistics FROM store_meta WHERE id = 1").Scan(&stats); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tasks, nil, nil
		}
		return nil, nil, fmt.Errorf("read store metadata: %w", err)
	}
	var counters Counters
	if err := json.Unmarshal([]byte(stats), &counters); err != nil {
		return nil, nil, fmt.Errorf("decode statistics: %w", err)
	}
	return tasks, &counters, nil
}

func scanTask(rows *sql.Rows) (Task, error) {
	var (
		t                    Task
		workflow, status     string
		metadata             string
		createdAt, updatedAt string
	)
	if err := rows.Scan(
		&t.ID, &t.RowIndex, &t.ProductName, &t.ModelName, &workflow, &status,
		&t.ExternalJobID, &t.ImagePath, &t.VideoPath, &t.ErrorMessage, &metadata, &createdAt, &updatedAt,
	); err != nil {
		return Task{}, fmt.Errorf("scan task: %w", err)
	}
	t.Workflow = WorkflowType(workflow)
	t.Status = Status(status)

	var err error
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return Task{}, fmt.Errorf("task %s created_at: %w", t.ID, err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Task{}, fmt.Errorf("task %s updated_at: %w", t.ID, err)
	}
	if strings.TrimSpace(metadata) != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &t.Metadata); err != nil {
			return Task{}, fmt.Errorf("task %s metadata: %w", t.ID, err)
		}
	}
	return t, nil
}

const upsertTask = `INSERT INTO tasks (
	id, row_index, product_name, model_name, workflow_type, status,
	external_job_id, image_path, video_path, error_message, metadata, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	row_index = excluded.row_index,
	product_name = excluded.product_name,
	model_name = excluded.model_name,
	workflow_type = excluded.workflow_type,
	status = excluded.status,
	external_job_id = excluded.external_job_id,
	image_path = excluded.image_path,
	video_path = excluded.video_path,
	error_message = excluded.error_message,
	metadata = excluded.metadata,
	created_at = excluded.created_at,
	updated_at = excluded.updated_at`

func (b *sqliteBackend) commit(ctx context.Context, c change) error {
	stats, err := json.Marshal(c.counters)
	if err != nil {
		return fmt.Errorf("encode statistics: %w", err)
	}
	return retryOnBusy(ctx, func() error {
		tx, err := b.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		for _, t := range c.upserts {
			metadata := "{}"
			if len(t.Metadata) > 0 {
				encoded, err := json.Marshal(t.Metadata)
				if err != nil {
					return fmt.Errorf("encode metadata: %w", err)
				}
				metadata = string(encoded)
			}
			if _, err := tx.ExecContext(ctx, upsertTask,
				t.ID, t.RowIndex, t.ProductName, t.ModelName, string(t.Workflow), string(t.Status),
				t.ExternalJobID, t.ImagePath, t.VideoPath, t.ErrorMessage, metadata,
				formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
			); err != nil {
				return fmt.Errorf("upsert task %s: %w", t.ID, err)
			}
		}
		for _, id := range c.deletes {
			if _, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id); err != nil {
				return fmt.Errorf("delete task %s: %w", id, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE store_meta SET last_updated = ?, statistics = ? WHERE id = 1",
			formatTime(c.at), string(stats),
		); err != nil {
			return fmt.Errorf("update store metadata: %w", err)
		}
		return tx.Commit()
	})
}

func (b *sqliteBackend) close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// Package sqlite provides a SQLite-backed deadline store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/lifecycle/internal/lifecycle/deadline"
	"github.com/louisbranch/lifecycle/internal/lifecycle/deadline/sqlite/migrations"
	sqlitemigrate "github.com/louisbranch/lifecycle/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/lifecycle/internal/platform/timeouts"
	_ "modernc.org/sqlite"
)

// Store persists deadlines in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a deadline SQLite store and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cleanPath, timeouts.SQLiteBusy.Milliseconds())
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(ctx, sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Insert persists one scheduled deadline.
func (s *Store) Insert(ctx context.Context, record deadline.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	record.ID = strings.TrimSpace(record.ID)
	record.AggregateType = strings.TrimSpace(record.AggregateType)
	record.AggregateID = strings.TrimSpace(record.AggregateID)
	record.Name = strings.TrimSpace(record.Name)
	if record.ID == "" {
		return fmt.Errorf("deadline id is required")
	}
	if record.AggregateID == "" {
		return fmt.Errorf("aggregate id is required")
	}
	if record.Name == "" {
		return fmt.Errorf("deadline name is required")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO deadlines (
	id,
	aggregate_type,
	aggregate_id,
	name,
	payload_json,
	trigger_at,
	created_at
) VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		record.ID,
		record.AggregateType,
		record.AggregateID,
		record.Name,
		record.PayloadJSON,
		record.TriggerAt.UTC().UnixMilli(),
		record.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert deadline: %w", err)
	}
	return nil
}

// Delete removes a deadline and reports whether a row was removed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM deadlines WHERE id = ?`, strings.TrimSpace(id))
	if err != nil {
		return false, fmt.Errorf("delete deadline: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete deadline rows: %w", err)
	}
	return affected > 0, nil
}

// ListDue lists deadlines due at now, earliest first.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]deadline.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT
	id,
	aggregate_type,
	aggregate_id,
	name,
	payload_json,
	trigger_at,
	created_at
FROM deadlines
WHERE trigger_at <= ?
ORDER BY trigger_at ASC, id ASC
LIMIT ?
`, now.UTC().UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("list due deadlines: %w", err)
	}
	defer rows.Close()

	records := make([]deadline.Record, 0, limit)
	for rows.Next() {
		var record deadline.Record
		var triggerAt, createdAt int64
		if err := rows.Scan(
			&record.ID,
			&record.AggregateType,
			&record.AggregateID,
			&record.Name,
			&record.PayloadJSON,
			&triggerAt,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan deadline: %w", err)
		}
		record.TriggerAt = time.UnixMilli(triggerAt).UTC()
		record.CreatedAt = time.UnixMilli(createdAt).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deadlines: %w", err)
	}
	return records, nil
}

var _ deadline.Store = (*Store)(nil)

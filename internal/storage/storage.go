// Package storage persists download items in a SQLite database.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"nagare/internal/entity"
	"nagare/internal/errs"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Storer defines the interface for item persistence.
type Storer interface {
	SaveItem(ctx context.Context, item entity.DownloadItem) error
	DeleteItem(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
	// LoadItems returns every stored item ordered by admission sequence.
	LoadItems(ctx context.Context) ([]entity.DownloadItem, error)
	Close() error
}

// Metrics is the subset of observability.Metrics used by the store.
type Metrics interface {
	SetStoredItems(count int)
	RecordStorageError(op string)
}

// Storage is the SQLite backed Storer.
type Storage struct {
	log     *slog.Logger
	db      *sql.DB
	path    string
	metrics Metrics
}

var _ Storer = (*Storage)(nil)

// Open initializes or connects to the item database at path.
func Open(ctx context.Context, log *slog.Logger, path string, metrics Metrics) (*Storage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	stg := &Storage{
		log:     log.With(slog.String("package", "storage")),
		db:      db,
		path:    path,
		metrics: metrics,
	}

	if err := stg.initSchema(ctx); err != nil {
		_ = db.Close()

		return nil, err
	}

	stg.refreshCount(ctx)

	return stg, nil
}

// Path returns the database location.
func (stg *Storage) Path() string {
	return stg.path
}

// Close closes the underlying database connection.
func (stg *Storage) Close() error {
	if stg == nil || stg.db == nil {
		return nil
	}

	return stg.db.Close()
}

func (stg *Storage) initSchema(ctx context.Context) error {
	var tableExists int

	err := stg.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema version table: %w", err)
	}

	if tableExists == 0 {
		return stg.createSchema(ctx)
	}

	var version int
	if err := stg.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s)",
			errs.ErrSchemaMismatch, version, schemaVersion, stg.path)
	}

	return nil
}

func (stg *Storage) createSchema(ctx context.Context) error {
	tx, err := stg.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}

	return nil
}

// SaveItem inserts or replaces the item row.
func (stg *Storage) SaveItem(ctx context.Context, item entity.DownloadItem) error {
	if item.ID == "" {
		return errs.ErrItemIDEmpty
	}

	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}

	err = stg.exec(ctx, `
		INSERT INTO items (id, seq, url, status, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			seq = excluded.seq,
			url = excluded.url,
			status = excluded.status,
			body = excluded.body,
			updated_at = excluded.updated_at`,
		item.ID, item.Seq, item.URL, string(item.Status), string(body),
		formatTime(item.CreatedAt), formatTime(item.UpdatedAt),
	)
	if err != nil {
		stg.metrics.RecordStorageError("save")

		return fmt.Errorf("save item %s: %w", item.ID, err)
	}

	stg.refreshCount(ctx)

	return nil
}

// DeleteItem removes the item row. A missing row is not an error.
func (stg *Storage) DeleteItem(ctx context.Context, id string) error {
	if err := stg.exec(ctx, "DELETE FROM items WHERE id = ?", id); err != nil {
		stg.metrics.RecordStorageError("delete")

		return fmt.Errorf("delete item %s: %w", id, err)
	}

	stg.refreshCount(ctx)

	return nil
}

// DeleteAll removes every item row.
func (stg *Storage) DeleteAll(ctx context.Context) error {
	if err := stg.exec(ctx, "DELETE FROM items"); err != nil {
		stg.metrics.RecordStorageError("delete_all")

		return fmt.Errorf("delete items: %w", err)
	}

	stg.refreshCount(ctx)

	return nil
}

// LoadItems returns all items ordered by seq. Rows that fail to decode are
// logged and skipped.
func (stg *Storage) LoadItems(ctx context.Context) ([]entity.DownloadItem, error) {
	log := stg.log.With(slog.String("func", "LoadItems"))

	rows, err := stg.db.QueryContext(ctx, "SELECT id, body FROM items ORDER BY seq ASC")
	if err != nil {
		stg.metrics.RecordStorageError("load")

		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []entity.DownloadItem

	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}

		var item entity.DownloadItem
		if err := json.Unmarshal([]byte(body), &item); err != nil {
			log.WarnContext(ctx, "skip undecodable item", slog.String("id", id), slog.Any("error", err))
			stg.metrics.RecordStorageError("decode")

			continue
		}

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		stg.metrics.RecordStorageError("load")

		return nil, fmt.Errorf("iterate items: %w", err)
	}

	return items, nil
}

func (stg *Storage) refreshCount(ctx context.Context) {
	var count int
	if err := stg.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&count); err != nil {
		stg.log.DebugContext(ctx, "count items", slog.Any("error", err))

		return
	}

	stg.metrics.SetStoredItems(count)
}

func (stg *Storage) exec(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := stg.db.ExecContext(ctx, query, args...)

		return err
	})
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}

	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}

	msg := err.Error()

	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff

	var lastErr error

	for attempt := range busyRetryAttempts {
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

		delay = min(delay*2, busyRetryMaxBackoff)
	}

	return lastErr
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

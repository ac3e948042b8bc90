// Package sqlite provides the SQLite-backed channel registry.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/frontdeskhq/frontdesk/internal/platform/storage/sqlitemigrate"
	"github.com/frontdeskhq/frontdesk/internal/services/gateway/storage"
	"github.com/frontdeskhq/frontdesk/internal/services/gateway/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for the channel registry.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a channel registry SQLite store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Register upserts one channel row. Re-registering the same channel refreshes
// last_seen_at only; owner_id and registered_at keep their original values.
func (s *Store) Register(ctx context.Context, channelID string, ownerID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	channelID = strings.TrimSpace(channelID)
	ownerID = strings.TrimSpace(ownerID)
	if channelID == "" {
		return fmt.Errorf("channel id is required")
	}
	if ownerID == "" {
		return fmt.Errorf("owner id is required")
	}
	if at.IsZero() {
		at = time.Now()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
	INSERT INTO channels (channel_id, owner_id, registered_at, last_seen_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(channel_id) DO UPDATE SET
		last_seen_at = excluded.last_seen_at
	`, channelID, ownerID, toMillis(at), toMillis(at))
	if err != nil {
		return fmt.Errorf("register channel: %w", err)
	}
	return nil
}

// Unregister deletes one channel row. Deleting a missing row is a no-op.
func (s *Store) Unregister(ctx context.Context, channelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return fmt.Errorf("channel id is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM channels WHERE channel_id = ?`, channelID); err != nil {
		return fmt.Errorf("unregister channel: %w", err)
	}
	return nil
}

// Get loads one channel row.
func (s *Store) Get(ctx context.Context, channelID string) (storage.ChannelRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.ChannelRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ChannelRecord{}, fmt.Errorf("storage is not configured")
	}
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return storage.ChannelRecord{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT channel_id, owner_id, registered_at, last_seen_at
FROM channels
WHERE channel_id = ?
`, channelID)
	record, err := scanChannel(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ChannelRecord{}, storage.ErrNotFound
		}
		return storage.ChannelRecord{}, fmt.Errorf("get channel: %w", err)
	}
	return record, nil
}

// ListByOwner returns the channel IDs registered for one owner.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT channel_id
FROM channels
WHERE owner_id = ?
`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list channels by owner: %w", err)
	}
	defer rows.Close()

	var channelIDs []string
	for rows.Next() {
		var channelID string
		if err := rows.Scan(&channelID); err != nil {
			return nil, fmt.Errorf("scan channel row: %w", err)
		}
		channelIDs = append(channelIDs, channelID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel rows: %w", err)
	}
	return channelIDs, nil
}

// ListAll returns every registered channel.
func (s *Store) ListAll(ctx context.Context) ([]storage.ChannelRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT channel_id, owner_id, registered_at, last_seen_at
FROM channels
`)
	if err != nil {
		return nil, fmt.Errorf("list all channels: %w", err)
	}
	defer rows.Close()

	var records []storage.ChannelRecord
	for rows.Next() {
		record, scanErr := scanChannel(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan channel row: %w", scanErr)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel rows: %w", err)
	}
	return records, nil
}

// Touch refreshes last_seen_at for one channel. A missing row is a no-op:
// the channel may have been reaped by a concurrent delivery failure.
func (s *Store) Touch(ctx context.Context, channelID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return fmt.Errorf("channel id is required")
	}
	if at.IsZero() {
		at = time.Now()
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
UPDATE channels SET last_seen_at = ? WHERE channel_id = ?
`, toMillis(at), channelID); err != nil {
		return fmt.Errorf("touch channel: %w", err)
	}
	return nil
}

// DeleteStale removes channels whose last_seen_at predates olderThan.
func (s *Store) DeleteStale(ctx context.Context, olderThan time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if olderThan.IsZero() {
		return 0, fmt.Errorf("cutoff is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM channels WHERE last_seen_at < ?
`, toMillis(olderThan))
	if err != nil {
		return 0, fmt.Errorf("delete stale channels: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete stale channels rows affected: %w", err)
	}
	return int(affected), nil
}

type scanner func(dest ...any) error

func scanChannel(scan scanner) (storage.ChannelRecord, error) {
	var record storage.ChannelRecord
	var registeredAt int64
	var lastSeenAt int64
	if err := scan(
		&record.ChannelID,
		&record.OwnerID,
		&registeredAt,
		&lastSeenAt,
	); err != nil {
		return storage.ChannelRecord{}, err
	}
	record.RegisteredAt = fromMillis(registeredAt)
	record.LastSeenAt = fromMillis(lastSeenAt)
	return record, nil
}

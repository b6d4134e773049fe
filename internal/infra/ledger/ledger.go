// Package ledger is the capture agent's local record of every capture and
// whether its single-use key was destroyed.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nictjh/originalCapture/internal/domain"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const DefaultListLimit = 50

type SQLiteLedger struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger at path and migrates it.
func Open(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	// One writer keeps ":memory:" ledgers on a single connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure ledger: %w", err)
	}
	if err := MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteLedger{db: db}, nil
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

func (l *SQLiteLedger) RecordCapture(ctx context.Context, rec domain.CaptureRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: capture record id is required", domain.ErrInvalidRequest)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO captures (
			id, alias, media_path, sidecar_path, content_hash_b64, app_id,
			requested_tier, achieved_tier, fell_back, classification,
			chain_length, key_deleted, delete_error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Alias, rec.MediaPath, rec.SidecarPath, rec.ContentHashB64, rec.AppID,
		string(rec.RequestedTier), string(rec.AchievedTier), rec.FellBack, string(rec.Classification),
		rec.ChainLength, rec.KeyDeleted, rec.DeleteError, createdAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("recording capture: %w", err)
	}
	return nil
}

// ListCaptures returns the newest captures first.
func (l *SQLiteLedger) ListCaptures(ctx context.Context, limit int) ([]domain.CaptureRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, alias, media_path, sidecar_path, content_hash_b64, app_id,
			requested_tier, achieved_tier, fell_back, classification,
			chain_length, key_deleted, delete_error, created_at
		FROM captures
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing captures: %w", err)
	}
	defer rows.Close()

	var out []domain.CaptureRecord
	for rows.Next() {
		var (
			rec                                 domain.CaptureRecord
			requested, achieved, classification string
			createdAtMs                         int64
		)
		if err := rows.Scan(
			&rec.ID, &rec.Alias, &rec.MediaPath, &rec.SidecarPath, &rec.ContentHashB64, &rec.AppID,
			&requested, &achieved, &rec.FellBack, &classification,
			&rec.ChainLength, &rec.KeyDeleted, &rec.DeleteError, &createdAtMs,
		); err != nil {
			return nil, fmt.Errorf("scanning capture: %w", err)
		}
		rec.RequestedTier = domain.SecurityTier(requested)
		rec.AchievedTier = domain.SecurityTier(achieved)
		rec.Classification = domain.Classification(classification)
		rec.CreatedAt = time.UnixMilli(createdAtMs).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

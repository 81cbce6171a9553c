package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/ansuz/internal/apperr"
)

// GetBlob returns the named artifact. A missing artifact yields
// apperr.ErrNotFound.
func (db *DB) GetBlob(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := db.conn.QueryRowContext(ctx, `SELECT data FROM artifacts WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: blob %s: %w", name, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get blob %s: %w", name, err)
	}
	return data, nil
}

// PutBlob stores data under name, replacing any previous value.
func (db *DB) PutBlob(ctx context.Context, name string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO artifacts (name, data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			data       = excluded.data,
			updated_at = excluded.updated_at
	`, name, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("index: put blob %s: %w", name, err)
	}
	return nil
}

package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/roach88/bsky-store/internal/bskyerr"
	"github.com/roach88/bsky-store/internal/model"
)

// Create inserts a new store row, or returns the existing row if name
// already exists (idempotent on name, per spec.md §4.6).
func (c *Catalog) Create(ctx context.Context, name model.StoreName, root, configJSON string, now model.Timestamp) (StoreRecord, error) {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO stores (name, root, created_at, updated_at, description, config_json)
		VALUES (?, ?, ?, ?, NULL, ?)
		ON CONFLICT(name) DO NOTHING
	`, string(name), root, now.String(), now.String(), configJSON)
	if err != nil {
		return StoreRecord{}, bskyerr.NewStoreIoError(string(name), "create", err)
	}

	return c.Get(ctx, name)
}

// Get retrieves a store by name.
func (c *Catalog) Get(ctx context.Context, name model.StoreName) (StoreRecord, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT name, root, created_at, updated_at, description, config_json
		FROM stores WHERE name = ?
	`, string(name))
	rec, err := scanStoreRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StoreRecord{}, bskyerr.NewStoreNotFound(string(name))
	}
	if err != nil {
		return StoreRecord{}, bskyerr.NewStoreIoError(string(name), "get", err)
	}
	return rec, nil
}

// List returns every store, sorted by name.
func (c *Catalog) List(ctx context.Context) ([]StoreRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT name, root, created_at, updated_at, description, config_json
		FROM stores ORDER BY name ASC
	`)
	if err != nil {
		return nil, bskyerr.NewStoreIoError("", "list", err)
	}
	defer rows.Close()

	records := []StoreRecord{}
	for rows.Next() {
		rec, err := scanStoreRecordRows(rows)
		if err != nil {
			return nil, bskyerr.NewStoreIoError("", "list", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, bskyerr.NewStoreIoError("", "list", err)
	}
	return records, nil
}

// GetConfig returns a store's raw config JSON.
func (c *Catalog) GetConfig(ctx context.Context, name model.StoreName) (string, error) {
	rec, err := c.Get(ctx, name)
	if err != nil {
		return "", err
	}
	return rec.ConfigJSON, nil
}

// GetMetadata returns a store's metadata, excluding its config payload.
func (c *Catalog) GetMetadata(ctx context.Context, name model.StoreName) (StoreMetadata, error) {
	rec, err := c.Get(ctx, name)
	if err != nil {
		return StoreMetadata{}, err
	}
	return rec.metadata(), nil
}

// Delete removes a store's catalog row, its own database file, and any
// derivation_checkpoints rows that reference it as source or target.
// Returns StoreNotFound if the store did not exist. Per spec.md §3.2, a
// store owns its event log, index tables, and checkpoints; deleting it
// deletes all dependent rows and files, not just the catalog registration.
func (c *Catalog) Delete(ctx context.Context, name model.StoreName) error {
	rec, err := c.Get(ctx, name)
	if err != nil {
		return err
	}

	if _, err := c.db.ExecContext(ctx, `
		DELETE FROM derivation_checkpoints WHERE source_store = ? OR target_store = ?
	`, string(name), string(name)); err != nil {
		return bskyerr.NewStoreIoError(string(name), "delete", err)
	}

	res, err := c.db.ExecContext(ctx, `DELETE FROM stores WHERE name = ?`, string(name))
	if err != nil {
		return bskyerr.NewStoreIoError(string(name), "delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return bskyerr.NewStoreIoError(string(name), "delete", err)
	}
	if n == 0 {
		return bskyerr.NewStoreNotFound(string(name))
	}

	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(rec.Root + suffix); err != nil && !os.IsNotExist(err) {
			return bskyerr.NewStoreIoError(string(name), "delete", err)
		}
	}
	return nil
}

// Rename moves a store's catalog entry from oldName to newName, failing
// with StoreNotFound if oldName is absent or StoreAlreadyExists if
// newName is already taken.
func (c *Catalog) Rename(ctx context.Context, oldName, newName model.StoreName, now model.Timestamp) error {
	if _, err := c.Get(ctx, oldName); err != nil {
		return err
	}
	if _, err := c.Get(ctx, newName); err == nil {
		return bskyerr.NewStoreAlreadyExists(string(newName))
	} else if !bskyerr.IsStoreNotFound(err) {
		return err
	}

	res, err := c.db.ExecContext(ctx, `
		UPDATE stores SET name = ?, updated_at = ? WHERE name = ?
	`, string(newName), now.String(), string(oldName))
	if err != nil {
		return bskyerr.NewStoreIoError(string(oldName), "rename", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return bskyerr.NewStoreIoError(string(oldName), "rename", err)
	}
	if n == 0 {
		return bskyerr.NewStoreNotFound(string(oldName))
	}
	return nil
}

// UpdateDescription sets (or clears, with nil) a store's description.
func (c *Catalog) UpdateDescription(ctx context.Context, name model.StoreName, description *string, now model.Timestamp) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE stores SET description = ?, updated_at = ? WHERE name = ?
	`, description, now.String(), string(name))
	if err != nil {
		return bskyerr.NewStoreIoError(string(name), "updateDescription", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return bskyerr.NewStoreIoError(string(name), "updateDescription", err)
	}
	if n == 0 {
		return bskyerr.NewStoreNotFound(string(name))
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanStoreRecord(row *sql.Row) (StoreRecord, error) {
	return scanStoreRecordAny(row)
}

func scanStoreRecordRows(rows *sql.Rows) (StoreRecord, error) {
	return scanStoreRecordAny(rows)
}

func scanStoreRecordAny(s scannable) (StoreRecord, error) {
	var rec StoreRecord
	var name, createdAt, updatedAt string
	var description sql.NullString

	if err := s.Scan(&name, &rec.Root, &createdAt, &updatedAt, &description, &rec.ConfigJSON); err != nil {
		return StoreRecord{}, err
	}

	n, err := model.NewStoreName(name)
	if err != nil {
		return StoreRecord{}, fmt.Errorf("scan store record: %w", err)
	}
	rec.Name = n

	ts, err := model.NewTimestamp(createdAt)
	if err != nil {
		return StoreRecord{}, fmt.Errorf("scan store record: created_at: %w", err)
	}
	rec.CreatedAt = ts

	ts, err = model.NewTimestamp(updatedAt)
	if err != nil {
		return StoreRecord{}, fmt.Errorf("scan store record: updated_at: %w", err)
	}
	rec.UpdatedAt = ts

	if description.Valid {
		d := description.String
		rec.Description = &d
	}

	return rec, nil
}

package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"
)

type sqliteRepository struct {
	db *sql.DB
}

// NewSQLite returns a Repository over an open sqlite handle. The kv_entries
// table is created by the embedded migrations; callers run those first.
func NewSQLite(db *sql.DB) Repository {
	return &sqliteRepository{db: db}
}

func (r *sqliteRepository) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	const query = `
		SELECT value
		FROM kv_entries
		WHERE namespace = ? AND key = ?
	`
	var value []byte
	err := r.db.QueryRowContext(ctx, query, strings.TrimSpace(namespace), key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get kv entry")
	}
	return value, nil
}

func (r *sqliteRepository) Put(ctx context.Context, namespace, key string, value []byte) error {
	const query = `
		INSERT INTO kv_entries (namespace, key, value, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (namespace, key)
		DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := r.db.ExecContext(ctx, query, strings.TrimSpace(namespace), key, value); err != nil {
		return errors.Wrap(err, "put kv entry")
	}
	return nil
}

func (r *sqliteRepository) Delete(ctx context.Context, namespace, key string) error {
	const query = `
		DELETE FROM kv_entries
		WHERE namespace = ? AND key = ?
	`
	if _, err := r.db.ExecContext(ctx, query, strings.TrimSpace(namespace), key); err != nil {
		return errors.Wrap(err, "delete kv entry")
	}
	return nil
}

func (r *sqliteRepository) List(ctx context.Context, namespace string) (map[string][]byte, error) {
	const query = `
		SELECT key, value
		FROM kv_entries
		WHERE namespace = ?
	`
	rows, err := r.db.QueryContext(ctx, query, strings.TrimSpace(namespace))
	if err != nil {
		return nil, errors.Wrap(err, "list kv entries")
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, errors.Wrap(err, "scan kv entry")
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate kv entries")
	}
	return out, nil
}

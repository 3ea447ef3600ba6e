package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/perrindel/cardsync/internal/storage"
	"github.com/perrindel/cardsync/internal/syncerr"
)

func setMetadata(ctx context.Context, q execer, key, value string) error {
	if key == "" {
		return syncerr.New(syncerr.Validation, "metadata key is required")
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return syncerr.Wrap(syncerr.Store, err, "set metadata %s", key)
	}
	return nil
}

func getMetadata(ctx context.Context, q execer, key string) (string, error) {
	var value string
	err := q.QueryRowContext(ctx,
		`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", syncerr.Wrap(syncerr.Store, storage.ErrNotFound, "metadata %s", key)
	}
	if err != nil {
		return "", syncerr.Wrap(syncerr.Store, err, "get metadata %s", key)
	}
	return value, nil
}

func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	return setMetadata(ctx, s.db, key, value)
}

func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	return getMetadata(ctx, s.db, key)
}

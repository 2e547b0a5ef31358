package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	apperrors "github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/errors"
	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/monitoring"
)

// UpdateFunc receives the current value of a key and returns the value to
// store. Returning remove=true deletes the key instead.
type UpdateFunc func(current string, found bool) (next string, remove bool, err error)

// KV is the key/value persistence primitive the cache metadata lives in.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// KVStore is a sqlite-backed KV. All writes are serialized through writeMu so
// read-modify-write cycles never interleave.
type KVStore struct {
	db      *sql.DB
	writeMu sync.Mutex
	retry   apperrors.RetryConfig
}

// NewKVStore creates a new KVStore
func NewKVStore(db *sql.DB) *KVStore {
	retry := apperrors.DefaultRetryConfig()
	retry.OnRetry = func(int, time.Duration, error) {
		monitoring.RecordError("db_busy")
	}
	return &KVStore{
		db:    db,
		retry: retry,
	}
}

// Get returns the value stored under key
func (s *KVStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv_store WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapDBError("failed to get key "+key, err)
	}
	return value, true, nil
}

// Set stores value under key
func (s *KVStore) Set(ctx context.Context, key, value string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.withRetry(ctx, func() error {
		return setTx(ctx, s.db, key, value)
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (s *KVStore) Delete(ctx context.Context, key string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.withRetry(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM kv_store WHERE key = ?", key); err != nil {
			return wrapDBError("failed to delete key "+key, err)
		}
		return nil
	})
}

// Update applies fn to the value of key inside a single transaction.
func (s *KVStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return wrapDBError("failed to begin transaction", err)
		}
		defer tx.Rollback()

		var current string
		found := true
		err = tx.QueryRowContext(ctx, "SELECT value FROM kv_store WHERE key = ?", key).Scan(&current)
		if err == sql.ErrNoRows {
			found = false
		} else if err != nil {
			return wrapDBError("failed to read key "+key, err)
		}

		next, remove, err := fn(current, found)
		if err != nil {
			return err
		}

		if remove {
			if _, err := tx.ExecContext(ctx, "DELETE FROM kv_store WHERE key = ?", key); err != nil {
				return wrapDBError("failed to delete key "+key, err)
			}
		} else if err := setTx(ctx, tx, key, next); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return wrapDBError("failed to commit update of "+key, err)
		}
		return nil
	})
}

// Keys returns every key starting with prefix, in key order
func (s *KVStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	query := "SELECT key FROM kv_store WHERE substr(key, 1, ?) = ? ORDER BY key"
	rows, err := s.db.QueryContext(ctx, query, len(prefix), prefix)
	if err != nil {
		return nil, wrapDBError("failed to list keys", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, wrapDBError("failed to scan key", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("failed to iterate keys", err)
	}

	return keys, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func setTx(ctx context.Context, db execer, key, value string) error {
	query := `
		INSERT INTO kv_store (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := db.ExecContext(ctx, query, key, value, time.Now()); err != nil {
		return wrapDBError("failed to set key "+key, err)
	}
	return nil
}

func (s *KVStore) withRetry(ctx context.Context, fn func() error) error {
	return apperrors.RetryWithBackoff(ctx, s.retry, fn)
}

// wrapDBError marks busy/locked sqlite errors as retryable
func wrapDBError(message string, err error) error {
	var sqliteErr sqlite3.Error
	busy := errors.As(err, &sqliteErr) &&
		(sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked)
	return apperrors.NewPersistenceError(message, err, busy)
}

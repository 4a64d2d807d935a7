package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// GetString returns the value stored under key.
// ok is false when the key is absent.
func (s *Store) GetString(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

// GetInt returns the integer stored under key, or def when absent.
func (s *Store) GetInt(ctx context.Context, key string, def int) (int, error) {
	raw, ok, err := s.GetString(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("get %q: not an int: %w", key, err)
	}
	return n, nil
}

// GetBool returns the boolean stored under key, or def when absent.
func (s *Store) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	raw, ok, err := s.GetString(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def, fmt.Errorf("get %q: not a bool: %w", key, err)
	}
	return b, nil
}

// PutString stores value under key.
func (s *Store) PutString(ctx context.Context, key, value string) error {
	b := NewBatch()
	b.PutString(key, value)
	return s.Commit(ctx, b)
}

// PutInt stores an integer under key.
func (s *Store) PutInt(ctx context.Context, key string, value int) error {
	return s.PutString(ctx, key, strconv.Itoa(value))
}

// PutBool stores a boolean under key.
func (s *Store) PutBool(ctx context.Context, key string, value bool) error {
	return s.PutString(ctx, key, strconv.FormatBool(value))
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	b := NewBatch()
	b.Delete(key)
	return s.Commit(ctx, b)
}

// List returns all entries whose key starts with prefix, ordered by key.
func (s *Store) List(ctx context.Context, prefix string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value FROM kv
		WHERE substr(key, 1, ?) = ?
		ORDER BY key ASC
	`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, fmt.Errorf("list %q: scan: %w", prefix, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	return entries, nil
}

// Entry is a single key-value pair.
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type opKind int

const (
	opPut opKind = iota + 1
	opDelete
	opDeletePrefix
)

type batchOp struct {
	kind  opKind
	key   string
	value string
}

// Batch accumulates writes that are committed atomically.
// Operations apply in the order they were added.
type Batch struct {
	ops []batchOp
}

// NewBatch creates an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// PutString records a put.
func (b *Batch) PutString(key, value string) {
	b.ops = append(b.ops, batchOp{kind: opPut, key: key, value: value})
}

// PutInt records an integer put.
func (b *Batch) PutInt(key string, value int) {
	b.PutString(key, strconv.Itoa(value))
}

// PutBool records a boolean put.
func (b *Batch) PutBool(key string, value bool) {
	b.PutString(key, strconv.FormatBool(value))
}

// Delete records a single-key delete.
func (b *Batch) Delete(key string) {
	b.ops = append(b.ops, batchOp{kind: opDelete, key: key})
}

// DeletePrefix records a delete of every key starting with prefix.
func (b *Batch) DeletePrefix(prefix string) {
	b.ops = append(b.ops, batchOp{kind: opDeletePrefix, key: prefix})
}

// Len returns the number of recorded operations.
func (b *Batch) Len() int {
	return len(b.ops)
}

// Commit applies the batch in a single transaction.
// Either every operation is applied or none is.
func (s *Store) Commit(ctx context.Context, b *Batch) error {
	if b == nil || len(b.ops) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("commit batch: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for i, op := range b.ops {
		switch op.kind {
		case opPut:
			_, err = tx.ExecContext(ctx, `
				INSERT INTO kv (key, value) VALUES (?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value
			`, op.key, op.value)
		case opDelete:
			_, err = tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, op.key)
		case opDeletePrefix:
			_, err = tx.ExecContext(ctx, `DELETE FROM kv WHERE substr(key, 1, ?) = ?`, len(op.key), op.key)
		default:
			err = fmt.Errorf("unknown op kind %d", op.kind)
		}
		if err != nil {
			return fmt.Errorf("commit batch: op %d (%q): %w", i, op.key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: commit: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/durable/internal/queue"
)

// sqlTx implements queue.Tx on a *sql.Tx.
type sqlTx struct {
	ctx      context.Context
	tx       *sql.Tx
	readOnly bool
	done     bool
	wrote    bool
}

func (t *sqlTx) writable() error {
	if t.done {
		return queue.ErrClosed
	}
	if t.readOnly {
		return queue.ErrReadOnly
	}
	return nil
}

// Push inserts value under (queue, key).
// Uses ON CONFLICT DO NOTHING so a redelivered push is silently ignored.
func (t *sqlTx) Push(q, key string, value []byte) error {
	if err := t.writable(); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO queue_items (queue, item_key, value)
		VALUES (?, ?, ?)
		ON CONFLICT(queue, item_key) DO NOTHING
	`, q, key, value)
	if err != nil {
		return fmt.Errorf("push %s/%s: %w", q, key, err)
	}
	t.wrote = true
	return nil
}

func (t *sqlTx) Pop(q, key string) ([]byte, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}
	value, err := t.Read(q, key)
	if err != nil {
		return nil, err
	}
	if _, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM queue_items WHERE queue = ? AND item_key = ?`, q, key,
	); err != nil {
		return nil, fmt.Errorf("pop %s/%s: %w", q, key, err)
	}
	t.wrote = true
	return value, nil
}

func (t *sqlTx) Read(q, key string) ([]byte, error) {
	if t.done {
		return nil, queue.ErrClosed
	}
	var value []byte
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT value FROM queue_items WHERE queue = ? AND item_key = ?`, q, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", q, key, err)
	}
	return value, nil
}

func (t *sqlTx) Delete(q, key string) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM queue_items WHERE queue = ? AND item_key = ?`, q, key,
	); err != nil {
		return fmt.Errorf("delete %s/%s: %w", q, key, err)
	}
	t.wrote = true
	return nil
}

// Scan lists a queue's items.
// Query ordering: ORDER BY seq ASC.
func (t *sqlTx) Scan(q string) ([]queue.Item, error) {
	if t.done {
		return nil, queue.ErrClosed
	}
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT `+itemColumns+`
		FROM queue_items
		WHERE queue = ?
		ORDER BY seq ASC
	`, q)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", q, err)
	}
	defer rows.Close()

	var items []queue.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", q, err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", q, err)
	}
	return items, nil
}

// Append adds one log entry.
// Uses ON CONFLICT DO NOTHING: the first value written at an index wins.
func (t *sqlTx) Append(log, key string, index int, value []byte) error {
	if err := t.writable(); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO log_entries (log, item_key, idx, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(log, item_key, idx) DO NOTHING
	`, log, key, index, value)
	if err != nil {
		return fmt.Errorf("append %s/%s[%d]: %w", log, key, index, err)
	}
	t.wrote = true
	return nil
}

// ReadLog returns one key's entries.
// Query ordering: ORDER BY idx ASC.
func (t *sqlTx) ReadLog(log, key string) ([]queue.Entry, error) {
	if t.done {
		return nil, queue.ErrClosed
	}
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT item_key, idx, value
		FROM log_entries
		WHERE log = ? AND item_key = ?
		ORDER BY idx ASC
	`, log, key)
	if err != nil {
		return nil, fmt.Errorf("read log %s/%s: %w", log, key, err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (t *sqlTx) DeleteLog(log, key string) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM log_entries WHERE log = ? AND item_key = ?`, log, key,
	); err != nil {
		return fmt.Errorf("delete log %s/%s: %w", log, key, err)
	}
	t.wrote = true
	return nil
}

// ScanLog lists every entry of a log.
// Query ordering: ORDER BY item_key ASC, idx ASC (COLLATE BINARY).
func (t *sqlTx) ScanLog(log string) ([]queue.Entry, error) {
	if t.done {
		return nil, queue.ErrClosed
	}
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT item_key, idx, value
		FROM log_entries
		WHERE log = ?
		ORDER BY item_key COLLATE BINARY ASC, idx ASC
	`, log)
	if err != nil {
		return nil, fmt.Errorf("scan log %s: %w", log, err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func collectEntries(rows *sql.Rows) ([]queue.Entry, error) {
	entries := []queue.Entry{}
	for rows.Next() {
		var e queue.Entry
		if err := rows.Scan(&e.Key, &e.Index, &e.Value); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

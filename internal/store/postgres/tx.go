package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/roach88/durable/internal/queue"
)

// pgTx implements queue.Tx on a pgx.Tx.
type pgTx struct {
	ctx      context.Context
	tx       pgx.Tx
	readOnly bool
	done     bool
	wrote    bool
}

func (t *pgTx) writable() error {
	if t.done {
		return queue.ErrClosed
	}
	if t.readOnly {
		return queue.ErrReadOnly
	}
	return nil
}

func (t *pgTx) Push(q, key string, value []byte) error {
	if err := t.writable(); err != nil {
		return err
	}
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO durable_queue_items (queue, item_key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (queue, item_key) DO NOTHING`,
		q, key, value,
	)
	if err != nil {
		return fmt.Errorf("durable/postgres: push %s/%s: %w", q, key, err)
	}
	t.wrote = true
	return nil
}

// Pop deletes with RETURNING so two engines racing on the same item see
// exactly one winner; the loser gets ErrNotFound once the winner commits.
func (t *pgTx) Pop(q, key string) ([]byte, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}
	var value []byte
	err := t.tx.QueryRow(t.ctx, `
		DELETE FROM durable_queue_items
		WHERE queue = $1 AND item_key = $2
		RETURNING value`,
		q, key,
	).Scan(&value)
	if isNoRows(err) {
		return nil, queue.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("durable/postgres: pop %s/%s: %w", q, key, err)
	}
	t.wrote = true
	return value, nil
}

func (t *pgTx) Read(q, key string) ([]byte, error) {
	if t.done {
		return nil, queue.ErrClosed
	}
	var value []byte
	err := t.tx.QueryRow(t.ctx,
		`SELECT value FROM durable_queue_items WHERE queue = $1 AND item_key = $2`,
		q, key,
	).Scan(&value)
	if isNoRows(err) {
		return nil, queue.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("durable/postgres: read %s/%s: %w", q, key, err)
	}
	return value, nil
}

func (t *pgTx) Delete(q, key string) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, err := t.tx.Exec(t.ctx,
		`DELETE FROM durable_queue_items WHERE queue = $1 AND item_key = $2`,
		q, key,
	); err != nil {
		return fmt.Errorf("durable/postgres: delete %s/%s: %w", q, key, err)
	}
	t.wrote = true
	return nil
}

func (t *pgTx) Scan(q string) ([]queue.Item, error) {
	if t.done {
		return nil, queue.ErrClosed
	}
	rows, err := t.tx.Query(t.ctx, `
		SELECT `+itemColumns+`
		FROM durable_queue_items
		WHERE queue = $1
		ORDER BY seq ASC`,
		q,
	)
	if err != nil {
		return nil, fmt.Errorf("durable/postgres: scan %s: %w", q, err)
	}
	defer rows.Close()

	var items []queue.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("durable/postgres: scan %s: %w", q, err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("durable/postgres: scan %s: %w", q, err)
	}
	return items, nil
}

func (t *pgTx) Append(log, key string, index int, value []byte) error {
	if err := t.writable(); err != nil {
		return err
	}
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO durable_log_entries (log, item_key, idx, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (log, item_key, idx) DO NOTHING`,
		log, key, index, value,
	)
	if err != nil {
		return fmt.Errorf("durable/postgres: append %s/%s[%d]: %w", log, key, index, err)
	}
	t.wrote = true
	return nil
}

func (t *pgTx) ReadLog(log, key string) ([]queue.Entry, error) {
	if t.done {
		return nil, queue.ErrClosed
	}
	rows, err := t.tx.Query(t.ctx, `
		SELECT item_key, idx, value
		FROM durable_log_entries
		WHERE log = $1 AND item_key = $2
		ORDER BY idx ASC`,
		log, key,
	)
	if err != nil {
		return nil, fmt.Errorf("durable/postgres: read log %s/%s: %w", log, key, err)
	}
	return collectEntries(rows)
}

func (t *pgTx) DeleteLog(log, key string) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, err := t.tx.Exec(t.ctx,
		`DELETE FROM durable_log_entries WHERE log = $1 AND item_key = $2`,
		log, key,
	); err != nil {
		return fmt.Errorf("durable/postgres: delete log %s/%s: %w", log, key, err)
	}
	t.wrote = true
	return nil
}

func (t *pgTx) ScanLog(log string) ([]queue.Entry, error) {
	if t.done {
		return nil, queue.ErrClosed
	}
	rows, err := t.tx.Query(t.ctx, `
		SELECT item_key, idx, value
		FROM durable_log_entries
		WHERE log = $1
		ORDER BY item_key COLLATE "C" ASC, idx ASC`,
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("durable/postgres: scan log %s: %w", log, err)
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]queue.Entry, error) {
	defer rows.Close()

	entries := []queue.Entry{}
	for rows.Next() {
		var (
			e   queue.Entry
			idx int32
		)
		if err := rows.Scan(&e.Key, &idx, &e.Value); err != nil {
			return nil, fmt.Errorf("durable/postgres: scan entry: %w", err)
		}
		e.Index = int(idx)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("durable/postgres: iterate entries: %w", err)
	}
	return entries, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/durable/internal/queue"
)

const itemColumns = `seq, queue, item_key, value, attempts, visible_at, parked, last_error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (queue.Item, error) {
	var (
		it        queue.Item
		visibleAt int64
		parked    int
	)
	if err := row.Scan(&it.Seq, &it.Queue, &it.Key, &it.Value, &it.Attempts, &visibleAt, &parked, &it.LastError); err != nil {
		return queue.Item{}, err
	}
	if visibleAt != 0 {
		it.VisibleAt = time.Unix(0, visibleAt)
	}
	it.Parked = parked != 0
	return it, nil
}

// inClause renders "?, ?, ?" for n placeholders and the matching args.
func inClause(queues []string) (string, []any) {
	args := make([]any, len(queues))
	for i, q := range queues {
		args[i] = q
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(queues)), ", "), args
}

// Peek returns the oldest visible, unparked item across queues.
// Query ordering: ORDER BY seq ASC.
func (s *Store) Peek(ctx context.Context, queues ...string) (queue.Item, error) {
	if len(queues) == 0 {
		return queue.Item{}, queue.ErrNotFound
	}
	placeholders, args := inClause(queues)
	args = append(args, time.Now().UnixNano())

	row := s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM queue_items
		WHERE queue IN (`+placeholders+`)
		  AND parked = 0
		  AND visible_at <= ?
		ORDER BY seq ASC
		LIMIT 1
	`, args...)

	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return queue.Item{}, queue.ErrNotFound
	}
	if err != nil {
		return queue.Item{}, fmt.Errorf("peek: %w", err)
	}
	return it, nil
}

// NextVisible returns the earliest future visible_at across queues.
func (s *Store) NextVisible(ctx context.Context, queues ...string) (time.Time, bool, error) {
	if len(queues) == 0 {
		return time.Time{}, false, nil
	}
	placeholders, args := inClause(queues)
	args = append(args, time.Now().UnixNano())

	var next sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MIN(visible_at)
		FROM queue_items
		WHERE queue IN (`+placeholders+`)
		  AND parked = 0
		  AND visible_at > ?
	`, args...).Scan(&next)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("next visible: %w", err)
	}
	if !next.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(0, next.Int64), true, nil
}

// Retry bumps attempts, records cause and hides the item until at.
func (s *Store) Retry(ctx context.Context, q, key string, at time.Time, cause string) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx, `
		UPDATE queue_items
		SET attempts = attempts + 1, visible_at = ?, last_error = ?
		WHERE queue = ? AND item_key = ?
		RETURNING attempts
	`, at.UnixNano(), cause, q, key).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, queue.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("retry %s/%s: %w", q, key, err)
	}
	s.notify.Broadcast()
	return attempts, nil
}

// Park hides the item until Unpark.
func (s *Store) Park(ctx context.Context, q, key, cause string) error {
	return s.setParked(ctx, q, key, `
		UPDATE queue_items SET parked = 1, last_error = ?
		WHERE queue = ? AND item_key = ?
	`, cause, q, key)
}

// Unpark clears the parked flag and resets attempts and visibility.
func (s *Store) Unpark(ctx context.Context, q, key string) error {
	return s.setParked(ctx, q, key, `
		UPDATE queue_items SET parked = 0, attempts = 0, visible_at = 0
		WHERE queue = ? AND item_key = ?
	`, q, key)
}

func (s *Store) setParked(ctx context.Context, q, key, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", q, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", q, key, err)
	}
	if n == 0 {
		return queue.ErrNotFound
	}
	s.notify.Broadcast()
	return nil
}

// Package memory provides an in-process queue.Backend.
//
// It keeps everything in maps guarded by one mutex, so transactions are
// trivially serializable. Rollback replays an undo journal. Nothing survives
// the process; use it for tests and for single-run demos.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/roach88/durable/internal/queue"
)

// Backend is an in-memory queue.Backend.
//
// Thread-safety: all methods are safe for concurrent use. Transactions hold
// the backend lock for their whole duration, so a callback passed to Update
// or View must not call back into the same Backend.
type Backend struct {
	mu     sync.Mutex
	items  map[string]map[string]*queue.Item
	logs   map[string]map[string]map[int][]byte
	seq    int64
	closed bool
	notify *queue.Notifier
	now    func() time.Time
}

var _ queue.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithNow overrides the clock used for visibility checks.
func WithNow(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// New creates an empty backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		items:  make(map[string]map[string]*queue.Item),
		logs:   make(map[string]map[string]map[int][]byte),
		notify: queue.NewNotifier(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Update runs fn in a read-write transaction.
func (b *Backend) Update(ctx context.Context, fn func(queue.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return queue.ErrClosed
	}

	tx := &memTx{b: b}
	err := fn(tx)
	if err != nil {
		tx.rollback()
	}
	wrote := err == nil && len(tx.undo) > 0
	tx.done = true
	b.mu.Unlock()

	if wrote {
		b.notify.Broadcast()
	}
	return err
}

// View runs fn in a read-only transaction.
func (b *Backend) View(ctx context.Context, fn func(queue.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return queue.ErrClosed
	}

	tx := &memTx{b: b, readOnly: true}
	defer func() { tx.done = true }()
	return fn(tx)
}

// Peek returns the oldest visible item across queues.
func (b *Backend) Peek(ctx context.Context, queues ...string) (queue.Item, error) {
	if err := ctx.Err(); err != nil {
		return queue.Item{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return queue.Item{}, queue.ErrClosed
	}

	now := b.now()
	var best *queue.Item
	for _, name := range queues {
		for _, it := range b.items[name] {
			if it.Parked || it.VisibleAt.After(now) {
				continue
			}
			if best == nil || it.Seq < best.Seq {
				best = it
			}
		}
	}
	if best == nil {
		return queue.Item{}, queue.ErrNotFound
	}
	return cloneItem(best), nil
}

// NextVisible returns the earliest future visible-at time across queues.
func (b *Backend) NextVisible(ctx context.Context, queues ...string) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	var next time.Time
	found := false
	for _, name := range queues {
		for _, it := range b.items[name] {
			if it.Parked || !it.VisibleAt.After(now) {
				continue
			}
			if !found || it.VisibleAt.Before(next) {
				next = it.VisibleAt
				found = true
			}
		}
	}
	return next, found, nil
}

// Retry defers the item until at and bumps its attempt count.
func (b *Backend) Retry(ctx context.Context, q, key string, at time.Time, cause string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	b.mu.Lock()
	it, ok := b.items[q][key]
	if !ok {
		b.mu.Unlock()
		return 0, queue.ErrNotFound
	}
	it.Attempts++
	it.VisibleAt = at
	it.LastError = cause
	attempts := it.Attempts
	b.mu.Unlock()

	b.notify.Broadcast()
	return attempts, nil
}

// Park hides the item until Unpark.
func (b *Backend) Park(ctx context.Context, q, key, cause string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	it, ok := b.items[q][key]
	if !ok {
		b.mu.Unlock()
		return queue.ErrNotFound
	}
	it.Parked = true
	it.LastError = cause
	b.mu.Unlock()

	b.notify.Broadcast()
	return nil
}

// Unpark makes a parked item visible again.
func (b *Backend) Unpark(ctx context.Context, q, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	it, ok := b.items[q][key]
	if !ok {
		b.mu.Unlock()
		return queue.ErrNotFound
	}
	it.Parked = false
	it.Attempts = 0
	it.VisibleAt = time.Time{}
	b.mu.Unlock()

	b.notify.Broadcast()
	return nil
}

// Changed returns the current change-notification channel.
func (b *Backend) Changed() <-chan struct{} {
	return b.notify.Wait()
}

// Close marks the backend closed and wakes all waiters.
func (b *Backend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.notify.Close()
	return nil
}

// memTx implements queue.Tx. Every mutation records its inverse in undo.
type memTx struct {
	b        *Backend
	readOnly bool
	done     bool
	undo     []func()
}

func (tx *memTx) writable() error {
	if tx.done {
		return queue.ErrClosed
	}
	if tx.readOnly {
		return queue.ErrReadOnly
	}
	return nil
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memTx) Push(q, key string, value []byte) error {
	if err := tx.writable(); err != nil {
		return err
	}
	b := tx.b
	m, ok := b.items[q]
	if !ok {
		m = make(map[string]*queue.Item)
		b.items[q] = m
	}
	if _, exists := m[key]; exists {
		return nil
	}

	b.seq++
	m[key] = &queue.Item{
		Queue: q,
		Key:   key,
		Value: append([]byte(nil), value...),
		Seq:   b.seq,
	}
	tx.undo = append(tx.undo, func() { delete(m, key) })
	return nil
}

func (tx *memTx) Pop(q, key string) ([]byte, error) {
	if err := tx.writable(); err != nil {
		return nil, err
	}
	m := tx.b.items[q]
	it, ok := m[key]
	if !ok {
		return nil, queue.ErrNotFound
	}
	delete(m, key)
	tx.undo = append(tx.undo, func() { m[key] = it })
	return append([]byte(nil), it.Value...), nil
}

func (tx *memTx) Read(q, key string) ([]byte, error) {
	if tx.done {
		return nil, queue.ErrClosed
	}
	it, ok := tx.b.items[q][key]
	if !ok {
		return nil, queue.ErrNotFound
	}
	return append([]byte(nil), it.Value...), nil
}

func (tx *memTx) Delete(q, key string) error {
	if err := tx.writable(); err != nil {
		return err
	}
	m := tx.b.items[q]
	it, ok := m[key]
	if !ok {
		return nil
	}
	delete(m, key)
	tx.undo = append(tx.undo, func() { m[key] = it })
	return nil
}

func (tx *memTx) Scan(q string) ([]queue.Item, error) {
	if tx.done {
		return nil, queue.ErrClosed
	}
	out := make([]queue.Item, 0, len(tx.b.items[q]))
	for _, it := range tx.b.items[q] {
		out = append(out, cloneItem(it))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (tx *memTx) Append(log, key string, index int, value []byte) error {
	if err := tx.writable(); err != nil {
		return err
	}
	b := tx.b
	byKey, ok := b.logs[log]
	if !ok {
		byKey = make(map[string]map[int][]byte)
		b.logs[log] = byKey
	}
	entries, ok := byKey[key]
	if !ok {
		entries = make(map[int][]byte)
		byKey[key] = entries
	}
	if _, exists := entries[index]; exists {
		return nil
	}

	entries[index] = append([]byte(nil), value...)
	tx.undo = append(tx.undo, func() {
		delete(entries, index)
		if len(entries) == 0 {
			delete(byKey, key)
		}
	})
	return nil
}

func (tx *memTx) ReadLog(log, key string) ([]queue.Entry, error) {
	if tx.done {
		return nil, queue.ErrClosed
	}
	return sortedEntries(key, tx.b.logs[log][key]), nil
}

func (tx *memTx) DeleteLog(log, key string) error {
	if err := tx.writable(); err != nil {
		return err
	}
	byKey := tx.b.logs[log]
	entries, ok := byKey[key]
	if !ok {
		return nil
	}
	delete(byKey, key)
	tx.undo = append(tx.undo, func() { byKey[key] = entries })
	return nil
}

func (tx *memTx) ScanLog(log string) ([]queue.Entry, error) {
	if tx.done {
		return nil, queue.ErrClosed
	}
	byKey := tx.b.logs[log]
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []queue.Entry
	for _, k := range keys {
		out = append(out, sortedEntries(k, byKey[k])...)
	}
	return out, nil
}

func sortedEntries(key string, entries map[int][]byte) []queue.Entry {
	out := make([]queue.Entry, 0, len(entries))
	for idx, v := range entries {
		out = append(out, queue.Entry{Key: key, Index: idx, Value: append([]byte(nil), v...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func cloneItem(it *queue.Item) queue.Item {
	c := *it
	c.Value = append([]byte(nil), it.Value...)
	return c
}

package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a (queue, key) pair holds no item.
	ErrNotFound = errors.New("queue: item not found")

	// ErrReadOnly is returned when a write is attempted inside View.
	ErrReadOnly = errors.New("queue: write in read-only transaction")

	// ErrClosed is returned by a backend after Close.
	ErrClosed = errors.New("queue: backend closed")
)

// Item is a keyed-queue entry together with its delivery metadata.
type Item struct {
	Queue     string
	Key       string
	Value     []byte
	Seq       int64
	Attempts  int
	VisibleAt time.Time
	Parked    bool
	LastError string
}

// Entry is one log-queue record.
type Entry struct {
	Key   string
	Index int
	Value []byte
}

// Tx is the view of a backend inside a transaction.
// A Tx must not be used after the callback that received it returns.
type Tx interface {
	// Push inserts value under (queue, key). Pushing a key that is already
	// present is a no-op, which makes redelivered pushes idempotent.
	Push(queue, key string, value []byte) error

	// Pop removes the item under (queue, key) and returns its value.
	// Returns ErrNotFound if absent.
	Pop(queue, key string) ([]byte, error)

	// Read returns the value under (queue, key) without removing it.
	// Returns ErrNotFound if absent.
	Read(queue, key string) ([]byte, error)

	// Delete removes (queue, key) if present.
	Delete(queue, key string) error

	// Scan lists every item of a queue ordered by sequence number,
	// including deferred and parked items.
	Scan(queue string) ([]Item, error)

	// Append adds an entry to the log (log, key). Appending an index that is
	// already present is a no-op.
	Append(log, key string, index int, value []byte) error

	// ReadLog returns the entries of (log, key) sorted by index.
	// An unknown key yields an empty slice.
	ReadLog(log, key string) ([]Entry, error)

	// DeleteLog removes every entry of (log, key).
	DeleteLog(log, key string) error

	// ScanLog lists every entry of a log ordered by key, then index.
	ScanLog(log string) ([]Entry, error)
}

// Backend is a durable store of keyed and log queues.
type Backend interface {
	// Update runs fn in a read-write transaction. The writes commit when fn
	// returns nil and are rolled back when it returns an error, which is
	// passed through unchanged.
	Update(ctx context.Context, fn func(Tx) error) error

	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(Tx) error) error

	// Peek returns the oldest visible item across queues without removing
	// it. Returns ErrNotFound if none is visible right now.
	Peek(ctx context.Context, queues ...string) (Item, error)

	// NextVisible returns the earliest future time at which a deferred,
	// unparked item in queues becomes visible. ok is false if there is none.
	NextVisible(ctx context.Context, queues ...string) (at time.Time, ok bool, err error)

	// Retry records a failed delivery: it increments the attempt counter,
	// stores cause and hides the item until at. Returns the new attempt count.
	Retry(ctx context.Context, queue, key string, at time.Time, cause string) (int, error)

	// Park hides the item until Unpark, recording cause.
	Park(ctx context.Context, queue, key, cause string) error

	// Unpark makes a parked item visible again and resets its attempts.
	Unpark(ctx context.Context, queue, key string) error

	// Changed returns a channel that is closed at the next committed write.
	// Callers must fetch the channel before checking state to avoid missing
	// a wake-up.
	Changed() <-chan struct{}

	// Close releases the backend's resources.
	Close() error
}

package queue

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/durable/internal/ir"
)

// Named is a keyed queue whose values are T, encoded as JSON.
type Named[T any] struct {
	name string
}

// NewNamed returns a typed handle on the keyed queue name.
func NewNamed[T any](name string) Named[T] {
	return Named[T]{name: name}
}

// Name returns the underlying queue name.
func (q Named[T]) Name() string { return q.name }

// Push stores v under key. Pushing an existing key is a no-op.
func (q Named[T]) Push(tx Tx, key string, v T) error {
	data, err := ir.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", q.name, key, err)
	}
	return tx.Push(q.name, key, data)
}

// Pop removes and decodes the value under key.
func (q Named[T]) Pop(tx Tx, key string) (T, error) {
	var v T
	data, err := tx.Pop(q.name, key)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode %s/%s: %w", q.name, key, err)
	}
	return v, nil
}

// Read decodes the value under key without removing it.
func (q Named[T]) Read(tx Tx, key string) (T, error) {
	var v T
	data, err := tx.Read(q.name, key)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode %s/%s: %w", q.name, key, err)
	}
	return v, nil
}

// Delete removes key if present.
func (q Named[T]) Delete(tx Tx, key string) error {
	return tx.Delete(q.name, key)
}

// Public is a keyed queue other parties may write to. Its entries are
// addressable, so a reply destination can be handed to a remote caller.
type Public[T any] struct {
	Named[T]
}

// NewPublic returns a typed handle on the public queue name.
func NewPublic[T any](name string) Public[T] {
	return Public[T]{Named: NewNamed[T](name)}
}

// Address returns the address of key in this queue.
func (q Public[T]) Address(key string) ir.Address {
	return ir.Address{Queue: q.name, Key: key}
}

// Log is a log queue whose entries are T.
type Log[T any] struct {
	name string
}

// NewLog returns a typed handle on the log queue name.
func NewLog[T any](name string) Log[T] {
	return Log[T]{name: name}
}

// Name returns the underlying log name.
func (l Log[T]) Name() string { return l.name }

// Append adds v at index under key.
func (l Log[T]) Append(tx Tx, key string, index int, v T) error {
	data, err := ir.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s[%d]: %w", l.name, key, index, err)
	}
	return tx.Append(l.name, key, index, data)
}

// Read returns the entries under key in index order.
func (l Log[T]) Read(tx Tx, key string) ([]T, error) {
	entries, err := tx.ReadLog(l.name, key)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(entries))
	for _, e := range entries {
		var v T
		if err := json.Unmarshal(e.Value, &v); err != nil {
			return nil, fmt.Errorf("decode %s/%s[%d]: %w", l.name, key, e.Index, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Delete removes every entry under key.
func (l Log[T]) Delete(tx Tx, key string) error {
	return tx.DeleteLog(l.name, key)
}

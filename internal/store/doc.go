// Package store provides the SQLite-backed queue.Backend.
//
// Two tables hold all durable state:
//   - queue_items: keyed queues (invocation streams, results streams,
//     callback registries, reply inboxes), at most one row per (queue, key)
//   - log_entries: log queues (step logs), one row per (log, key, idx)
//
// # Ordering
//
// queue_items.seq is an AUTOINCREMENT column, so sequence numbers are never
// reused and Peek's "ORDER BY seq ASC" is oldest-first across every queue.
// Wall-clock time only gates visibility (visible_at); it never orders.
//
// # Idempotency
//
// Push and Append use ON CONFLICT DO NOTHING. Replaying the same transaction
// after a crash leaves the tables as if it ran once.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - MaxOpenConns=1: One writer, so transactions never see SQLITE_BUSY
package store

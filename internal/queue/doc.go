// Package queue defines the storage contract the engine runs on.
//
// A Backend stores two kinds of durable structures, both addressed by a
// queue name plus an item key:
//
//   - Keyed queues: at most one value per (queue, key). Push inserts, Pop
//     removes, Read peeks. Items carry a global sequence number so the oldest
//     pending item across several queues can be found.
//   - Log queues: an ordered list of (index, value) per (log, key). Append
//     adds one entry; ReadLog returns all entries sorted by index.
//
// Every mutation runs inside Backend.Update. The callback's writes commit
// together when it returns nil and are discarded when it returns an error.
// This is how the engine bundles "remove the event from its source" with the
// state change the event causes.
//
// # Delivery
//
// Peek returns the oldest visible item across a set of queues without
// removing it. Items become invisible while deferred by Retry (until their
// visible-at time) and while parked by Park (until Unpark). WaitAny blocks
// until Peek has something to return, waking on the backend's change
// notification instead of polling in a tight loop.
//
// Implementations live in internal/store (SQLite), internal/store/memory and
// internal/store/postgres. internal/store/storetest holds the shared
// conformance suite.
package queue

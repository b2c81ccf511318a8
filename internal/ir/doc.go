// Package ir provides the shared record types of the durable engine.
//
// This package contains type definitions and payload helpers only. All other
// internal packages import ir; ir imports nothing internal. This keeps ir the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Payloads are opaque JSON (json.RawMessage); the engine never interprets them
//   - Payloads are stored as encoded (Marshal); only digests and comparisons
//     canonicalize them
//   - Step indices are logical positions, never wall-clock timestamps
//   - All JSON tags use snake_case
package ir

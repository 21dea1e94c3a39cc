// Package storage persists scheduled messages.
//
// Drivers:
//   - "sqlite": durable SQLite database file (default)
//   - "memory": process-local map, lost on restart (tests, dry runs)
//
// Rows are keyed by (owner_id, destination_id, send_at). There is no update
// operation; changing a schedule is delete + insert.
package storage

// Package storage is the durable source of truth for raids, rosters and
// reminder jobs.
//
// Two drivers share one contract:
//   - sqlite: production backend (WAL, single writer, embedded migrations)
//   - memory: same state machine without I/O, for tests
//
// The scheduler's exactly-once guarantee and the roster's uniqueness
// constraint both live here, as conditional writes, not in application
// logic.
package storage

// Package store provides SQLite-backed durable storage for prepchain.
//
// Two kinds of records are kept:
//   - Steps: immutable, keyed by content address, never updated or deleted
//   - Preparations: mutable envelopes holding the head pointer and edit lock
//
// # Critical Patterns
//
// Create-if-absent: steps are written with INSERT ... ON CONFLICT(id) DO
// NOTHING. Because the id is the hash of the step's content, two writers
// racing on the same (parent, actions) pair converge on one row and the
// first writer's audit fields win.
//
// Compare-and-set head: head moves are conditional UPDATEs on the expected
// previous head. A zero-row update means another writer got there first and
// is reported as ErrHeadMismatch; it is never retried here.
//
// Conditional lock: acquiring the edit lock is a single UPDATE guarded by
// "unheld, held by the same user, or expired", so two users can never both
// observe success.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: A step's parent and a preparation's head must exist
//
// Content addresses are computed by internal/ir; this package stores them
// verbatim.
package store

// Package store provides SQLite-backed durable storage for voltchain records.
//
// The store holds two tables:
//   - records: one row per derived address (pool, positions, sales, claims)
//   - notifications: append-only log of transition notifications
//
// # Critical Patterns
//
// Structural uniqueness
//   - records.address is the PRIMARY KEY; creating at an occupied address
//     fails with ErrExists. This is the only duplicate-registration and
//     double-claim guard the ledger has.
//
// All-or-nothing batches
//   - Apply writes every mutation and the notification in one SQL transaction.
//   - Updates carry the version the transition read; a mismatch aborts the
//     whole batch with ErrVersionConflict.
//
// Logical time
//   - Notifications are ordered by seq, assigned inside the commit.
//     Wall-clock time is never used for ordering.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Addresses and notification IDs are computed in internal/ir.
package store

// Package store provides the SQLite-backed sync ledger.
//
// The ledger records three things:
//   - Sync entries: one opaque store blob per (post, platform) pair
//   - Synced flags: whether a post has been evaluated against every platform
//   - Profile cache: last seen avatar and banner URLs and content hashes
//
// A fourth table keeps adapter sessions so logins survive restarts.
//
// # Invariants
//
// Entries are written with INSERT ... ON CONFLICT DO NOTHING. An existing
// entry is only replaced when the caller asks for an overwrite, which the
// orchestrator does under forced reposting. Rows are never deleted.
//
// Synced flags only move from false to true.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - Single open connection: one writer per process
package store

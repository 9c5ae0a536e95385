// Package storage persists job definitions and workflow definitions.
//
// It is the only registry of jobs: the scheduler reads from it on every
// firing pass and writes next_run_time back after each dispatch.
//
// Drivers:
//   - memory: process-local maps (tests, throwaway runs)
//   - file: JSON snapshot plus an append-only JSON-lines journal
//   - sqlite: modernc.org/sqlite through sqlx
//   - postgres: lib/pq through sqlx
package storage

// Package storage persists users, obligations and their audit trails.
//
// Drivers:
//   - "sqlite": modernc.org/sqlite database file, schema in migrations.sql
//   - "memory": process-local maps, used by tests and dry runs
//
// All instants are stored as UTC unix milliseconds.
package storage

// Package sqlitedb opens the SQLite databases backing the job queue and the
// review ledger.
//
// Open applies the WAL/foreign-key/busy-timeout pragmas, creates the embedded
// schema on first use, and refuses databases written by a different schema
// version. RetryOnBusy wraps statements that may collide with another writer.
// The helpers for nullable columns and RFC 3339 timestamps keep the two stores
// consistent on disk.
package sqlitedb

// Package store provides persistence for panorama using SQLite.
//
// # Architecture
//
// The store package is interface-driven:
//
//   - ToolCallStore: append-only tool call audit log with retention pruning
//   - DocumentStore: workspace documents (tasks, projects, notes, ...) queried by selector
//   - mcpclient.IdentityStore: external tool server identities
//
// SQLiteStore implements all of them in a single struct. MockStore is the
// in-memory equivalent used by tests in other packages.
//
// # Documents
//
// Document bodies are stored as JSON. time.Time values are tagged as
// {"$date": "<RFC 3339>"} so they decode back into times, which keeps
// selector date comparisons exact. Selectors are evaluated in-process with
// selector.Match after loading a collection.
//
// # SQLite Configuration
//
// The store uses the pure-Go modernc.org/sqlite driver with WAL mode:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// Timestamps are stored as fixed-width UTC strings so range filters and
// ORDER BY work lexically.
//
// # Retention
//
// RunRetention prunes tool call logs older than DefaultRetention (30 days).
//
// # Testing
//
// Use NewMockStore() for unit tests, or NewSQLiteStore on a t.TempDir() path
// for integration tests with real SQLite.
package store

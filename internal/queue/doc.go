// Package queue models generation jobs and persists queue snapshots.
//
// Job records move through queued -> generating -> completed|failed and are
// never mutated after they finish. Pending is the FIFO of not-yet-started jobs,
// History is the bounded newest-first list of finished jobs, and Snapshot ties
// the two together with the single active job for persistence and API reads.
//
// Two Store backends exist: SQLite (default, WAL, synchronous=FULL) and an
// atomically rewritten JSON file. Schema changes bump schemaVersion in
// schema.go; users clear the database to adopt the new schema.
package queue

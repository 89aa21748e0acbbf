// Package journal records every frame crossing the host connection to
// PostgreSQL.
//
// The Recorder is attached to the Message Router as a tap. Tapped frames go
// into an unbounded queue so the read loop never waits on the database; a
// consumer goroutine batches rows and flushes them with a single pgx Batch
// when the batch fills or the flush interval elapses. Stop drains the queue
// and performs a final flush.
//
// Rows are append-only.
package journal

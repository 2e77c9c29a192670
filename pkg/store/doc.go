/*
Package store is the typed access layer over the task tables.

The schema is authoritative and owned by the file-operations manager:
transfer_tasks and deletion_tasks, each joined to its batch table
through an id-matching join table. The daemon discovers a task's link by
that join and mutates nothing but status, exit_code, start_time and
finish_time on task rows.

Status writes are guarded by the task state machine:

	new -> queued -> active -> done | failed | cancelled
	          └──────────────────────────────▶ cancelled

MarkQueued is a compare-and-set on status new and reports whether the
caller won; it is the synchronization point that guarantees at most one
worker per task. SetStatus and SetResult silently skip illegal
transitions, so a row the manager already cancelled is never
overwritten by a late collector write.

Timestamps are stored as UTC DATETIME and converted from and to integer
unix seconds at this layer.

RecoverOrphans resets every queued or active row back to new. It runs
once at daemon start (rows stranded by a crash) and once at stop (rows
abandoned by the drain), and is idempotent.

SQLStore is the Postgres implementation over a pgx pool; MemStore is the
in-memory double the concurrency tests run against. The embedded
migrations exist for dev and test bring-up only.
*/
package store

/*
Package daemon assembles and supervises the file-operations daemon.

The Daemon value carries everything the subsystems need (record store,
one cancellation registry per task kind, the storage gateway adapter,
the event broker and the scheduler) and passes it to them explicitly.
Nothing in the daemon is process-global; tests build their own Daemon
against an in-memory store and a mock gateway.

Run is the whole lifetime:

 1. Reset orphaned queued/active rows to new (crash recovery).
 2. Drive the scheduler loop until Stop is called, typically by the
    signal handler translating SIGTERM or SIGHUP.
 3. On the way out, always: set the stop flag, reset orphans again,
    drain every remaining pool, emit the termination line.

The shutdown path also runs when the scheduler loop panics, so a crash
never strands rows in queued or active.
*/
package daemon

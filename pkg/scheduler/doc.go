/*
Package scheduler drives the daemon's poll loop.

Every 30 seconds the scheduler drains the task tables, kind by kind with
deletions first:

 1. Fetch all rows in status new, ordered so rows sharing a link are
    contiguous. Hand each row to its link's pool manager, creating the
    pool lazily on the first row of an unseen link. AddTask is the only
    path from new to queued.
 2. Rebuild the kind's cancellation registry from the set of queued
    rows. Tasks the file-operations manager cancelled since the last
    poll silently drop out here; their workers notice at claim time.
 3. After both kinds, sweep all pool managers and drop the ones that
    report ready for recycling.

The full sleep is taken even when more rows are already waiting. That
latency is deliberate back-pressure: the daemon never chases the queue
faster than once per interval, and the enqueueing manager sizes its
batches accordingly.

The loop runs on the caller's goroutine and exits when the daemon's stop
channel closes; the sleep selects against it, so shutdown is prompt.
*/
package scheduler

/*
Package pool implements the per-link pool manager, the unit of bounded
concurrency in the daemon.

One manager exists per live link (an ordered site pair for transfers, a
bare site for deletions). It owns three cooperating pieces:

  - a worker group of max_concurrent goroutines executing storage
    operations, each against its own storage context
  - a dispatcher feeding accepted tasks to the group in arrival order
  - a collector that sweeps completed results into terminal database
    statuses every few seconds

# Task flow

	AddTask
	   │  new -> queued (compare-and-set) + registry append,
	   │  both under the registry mutex
	   ▼
	dispatcher ──▶ worker: claim own id from registry
	                  │         │
	                  │ miss    │ win
	                  ▼         ▼
	              cancelled   queued -> active, storage call
	                  │         │
	                  └────┬────┘
	                       ▼
	                  collector: done / failed / cancelled

A worker's very first act is removing its own task ID from the shared
cancellation registry. Losing that removal means the file-operations
manager cancelled the task after enqueue; the worker returns a cancelled
result without touching storage.

# Recycling

A pool whose in-flight list is empty and whose collector has exited
reports ReadyForRecycle, and the scheduler drops it on its next pass.
Pools are recycled promptly so resources do not accumulate with the set
of historically seen links. Once the global stop flag is set the probe
instead tears the worker group down and reports true unconditionally.
*/
package pool

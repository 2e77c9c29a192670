package store

import (
	"context"

	"github.com/gridops/ferryd/pkg/types"
)

// TaskStore defines the record-store operations the daemon needs
type TaskStore interface {
	// FetchNew returns all rows in status new for the given kind,
	// ordered so that rows sharing a link are contiguous, by task ID
	// within a link.
	FetchNew(ctx context.Context, kind types.TaskKind) ([]types.Task, error)

	// MarkQueued transitions one row from new to queued. It reports
	// false when the row was not in new, which means another actor got
	// there first; this compare-and-set is the dispatch
	// synchronization point.
	MarkQueued(ctx context.Context, kind types.TaskKind, id int64) (bool, error)

	// SetStatus advances a row to a non-terminal or cancelled status.
	// Illegal transitions are silently skipped, never applied.
	SetStatus(ctx context.Context, kind types.TaskKind, id int64, status types.TaskStatus) error

	// SetResult records a terminal done/failed outcome with exit code
	// and timestamps (stored as UTC DATETIME, converted from unix
	// seconds at this layer).
	SetResult(ctx context.Context, kind types.TaskKind, id int64, res types.Result) error

	// ListQueued returns the IDs of all rows currently in queued
	// status for the given kind.
	ListQueued(ctx context.Context, kind types.TaskKind) ([]int64, error)

	// RecoverOrphans resets every queued or active row of both kinds
	// back to new. Called once at daemon start and once at stop.
	RecoverOrphans(ctx context.Context) (int64, error)

	// Close releases the underlying connections.
	Close() error
}

// priorStatuses returns the statuses a row may hold for a transition to
// "to" to be legal, derived from the state machine edges.
func priorStatuses(to types.TaskStatus) []types.TaskStatus {
	var from []types.TaskStatus
	for _, s := range []types.TaskStatus{
		types.StatusNew, types.StatusQueued, types.StatusActive,
	} {
		if types.CanTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}

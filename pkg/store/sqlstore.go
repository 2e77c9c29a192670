package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gridops/ferryd/pkg/types"
)

// tableSet describes the per-kind table layout of the authoritative
// schema: a task table joined to its batch table through an id-matching
// join table.
type tableSet struct {
	tasks     string
	batches   string
	joinTable string
	// fetchNew selects id, operation params and link columns for all
	// new rows, link-contiguous and id-ordered within a link.
	fetchNew string
}

var kindTables = map[types.TaskKind]tableSet{
	types.KindTransfer: {
		tasks:     "transfer_tasks",
		batches:   "transfer_batches",
		joinTable: "transfer_batch_tasks",
		fetchNew: `
			SELECT t.id, t.source, t.destination, b.source_site, b.destination_site
			FROM transfer_tasks t
			JOIN transfer_batch_tasks bt ON bt.task_id = t.id
			JOIN transfer_batches b ON b.batch_id = bt.batch_id
			WHERE t.status = 'new'
			ORDER BY b.source_site, b.destination_site, t.id`,
	},
	types.KindDeletion: {
		tasks:     "deletion_tasks",
		batches:   "deletion_batches",
		joinTable: "deletion_batch_tasks",
		fetchNew: `
			SELECT t.id, t.file, b.site
			FROM deletion_tasks t
			JOIN deletion_batch_tasks bt ON bt.task_id = t.id
			JOIN deletion_batches b ON b.batch_id = bt.batch_id
			WHERE t.status = 'new'
			ORDER BY b.site, t.id`,
	},
}

// SQLStore implements TaskStore over a pgx connection pool
type SQLStore struct {
	pool *pgxpool.Pool
}

// NewSQLStore connects to the database behind the given URL
func NewSQLStore(ctx context.Context, dbURL string) (*SQLStore, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return &SQLStore{pool: pool}, nil
}

// Close releases the connection pool
func (s *SQLStore) Close() error {
	s.pool.Close()
	return nil
}

// FetchNew returns all new rows for kind, link-contiguous
func (s *SQLStore) FetchNew(ctx context.Context, kind types.TaskKind) ([]types.Task, error) {
	set, ok := kindTables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown task kind %q", kind)
	}

	rows, err := s.pool.Query(ctx, set.fetchNew)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch new %s tasks: %w", kind, err)
	}
	defer rows.Close()

	var tasks []types.Task
	for rows.Next() {
		task := types.Task{Kind: kind, Status: types.StatusNew}
		if kind == types.KindTransfer {
			if err := rows.Scan(&task.ID, &task.Source, &task.Dest,
				&task.Link.Source, &task.Link.Dest); err != nil {
				return nil, fmt.Errorf("failed to scan transfer task: %w", err)
			}
		} else {
			if err := rows.Scan(&task.ID, &task.File, &task.Link.Source); err != nil {
				return nil, fmt.Errorf("failed to scan deletion task: %w", err)
			}
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// MarkQueued is the atomic new -> queued compare-and-set
func (s *SQLStore) MarkQueued(ctx context.Context, kind types.TaskKind, id int64) (bool, error) {
	set, ok := kindTables[kind]
	if !ok {
		return false, fmt.Errorf("unknown task kind %q", kind)
	}

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET status = 'queued' WHERE id = $1 AND status = 'new'`, set.tasks),
		id)
	if err != nil {
		return false, fmt.Errorf("failed to queue task %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetStatus advances one row, guarded by the state machine edges
func (s *SQLStore) SetStatus(ctx context.Context, kind types.TaskKind, id int64, status types.TaskStatus) error {
	set, ok := kindTables[kind]
	if !ok {
		return fmt.Errorf("unknown task kind %q", kind)
	}

	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET status = $1 WHERE id = $2 AND status = ANY($3)`, set.tasks),
		string(status), id, statusList(priorStatuses(status)))
	if err != nil {
		return fmt.Errorf("failed to set task %d to %s: %w", id, status, err)
	}
	return nil
}

// SetResult records a terminal outcome with exit code and timestamps
func (s *SQLStore) SetResult(ctx context.Context, kind types.TaskKind, id int64, res types.Result) error {
	status := res.Status()
	if !status.Terminal() {
		return fmt.Errorf("result for task %d maps to non-terminal status %s", id, status)
	}
	if status == types.StatusCancelled {
		return s.SetStatus(ctx, kind, id, status)
	}

	set, ok := kindTables[kind]
	if !ok {
		return fmt.Errorf("unknown task kind %q", kind)
	}

	// Timestamps travel as unix seconds and land as UTC DATETIME.
	// Internal failures carry zero timestamps and store NULL.
	var start, finish interface{}
	if !res.StartTime.IsZero() {
		start = res.StartTime.Unix()
	}
	if !res.FinishTime.IsZero() {
		finish = res.FinishTime.Unix()
	}

	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`
			UPDATE %s
			SET status = $1, exit_code = $2,
			    start_time = to_timestamp($3::bigint) AT TIME ZONE 'UTC',
			    finish_time = to_timestamp($4::bigint) AT TIME ZONE 'UTC'
			WHERE id = $5 AND status = 'active'`, set.tasks),
		string(status), res.ExitCode, start, finish, id)
	if err != nil {
		return fmt.Errorf("failed to record result for task %d: %w", id, err)
	}
	return nil
}

// ListQueued returns the IDs of all queued rows for kind
func (s *SQLStore) ListQueued(ctx context.Context, kind types.TaskKind) ([]int64, error) {
	set, ok := kindTables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown task kind %q", kind)
	}

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT id FROM %s WHERE status = 'queued' ORDER BY id`, set.tasks))
	if err != nil {
		return nil, fmt.Errorf("failed to list queued %s tasks: %w", kind, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan queued id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecoverOrphans resets queued/active rows of both kinds back to new
func (s *SQLStore) RecoverOrphans(ctx context.Context) (int64, error) {
	var total int64
	for _, set := range kindTables {
		tag, err := s.pool.Exec(ctx,
			fmt.Sprintf(`UPDATE %s SET status = 'new' WHERE status IN ('queued', 'active')`, set.tasks))
		if err != nil {
			return total, fmt.Errorf("failed to recover orphans in %s: %w", set.tasks, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

// Ping verifies database connectivity, for health reporting
func (s *SQLStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

func statusList(statuses []types.TaskStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

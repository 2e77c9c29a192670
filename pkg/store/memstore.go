package store

import (
	"context"
	"sort"
	"sync"

	"github.com/gridops/ferryd/pkg/types"
)

// MemStore is an in-memory TaskStore used by tests and by local
// experiments without a database. It honors the same state machine
// guards as SQLStore.
type MemStore struct {
	mu    sync.Mutex
	tasks map[types.TaskKind]map[int64]*types.Task
}

// NewMemStore creates an empty in-memory store
func NewMemStore() *MemStore {
	return &MemStore{
		tasks: map[types.TaskKind]map[int64]*types.Task{
			types.KindTransfer: {},
			types.KindDeletion: {},
		},
	}
}

// Insert seeds a task row, standing in for the file-operations manager
func (s *MemStore) Insert(task types.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := task
	s.tasks[task.Kind][task.ID] = &row
}

// Get returns a snapshot of one row
func (s *MemStore) Get(kind types.TaskKind, id int64) (types.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[kind][id]
	if !ok {
		return types.Task{}, false
	}
	return *task, true
}

// ForceStatus overwrites a row's status unguarded, standing in for
// out-of-band manager writes such as cancellations.
func (s *MemStore) ForceStatus(kind types.TaskKind, id int64, status types.TaskStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task, ok := s.tasks[kind][id]; ok {
		task.Status = status
	}
}

// CountByStatus returns how many rows of kind hold the given status
func (s *MemStore) CountByStatus(kind types.TaskKind, status types.TaskStatus) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, task := range s.tasks[kind] {
		if task.Status == status {
			n++
		}
	}
	return n
}

// FetchNew implements TaskStore
func (s *MemStore) FetchNew(_ context.Context, kind types.TaskKind) ([]types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.Task
	for _, task := range s.tasks[kind] {
		if task.Status == types.StatusNew {
			out = append(out, *task)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if ki, kj := out[i].Link.Key(), out[j].Link.Key(); ki != kj {
			return ki < kj
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// MarkQueued implements TaskStore
func (s *MemStore) MarkQueued(_ context.Context, kind types.TaskKind, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[kind][id]
	if !ok || task.Status != types.StatusNew {
		return false, nil
	}
	task.Status = types.StatusQueued
	return true, nil
}

// SetStatus implements TaskStore
func (s *MemStore) SetStatus(_ context.Context, kind types.TaskKind, id int64, status types.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[kind][id]
	if !ok || !types.CanTransition(task.Status, status) {
		return nil
	}
	task.Status = status
	return nil
}

// SetResult implements TaskStore
func (s *MemStore) SetResult(ctx context.Context, kind types.TaskKind, id int64, res types.Result) error {
	status := res.Status()
	if status == types.StatusCancelled {
		return s.SetStatus(ctx, kind, id, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[kind][id]
	if !ok || !types.CanTransition(task.Status, status) {
		return nil
	}
	task.Status = status
	task.ExitCode = res.ExitCode
	task.StartTime = res.StartTime.UTC()
	task.FinishTime = res.FinishTime.UTC()
	return nil
}

// ListQueued implements TaskStore
func (s *MemStore) ListQueued(_ context.Context, kind types.TaskKind) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	for id, task := range s.tasks[kind] {
		if task.Status == types.StatusQueued {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// RecoverOrphans implements TaskStore
func (s *MemStore) RecoverOrphans(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, byID := range s.tasks {
		for _, task := range byID {
			if task.Status == types.StatusQueued || task.Status == types.StatusActive {
				task.Status = types.StatusNew
				total++
			}
		}
	}
	return total, nil
}

// Close implements TaskStore
func (s *MemStore) Close() error { return nil }

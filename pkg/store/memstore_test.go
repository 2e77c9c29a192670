package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridops/ferryd/pkg/types"
)

func seedTransfer(s *MemStore, id int64, src, dst string, status types.TaskStatus) {
	s.Insert(types.Task{
		ID:     id,
		Kind:   types.KindTransfer,
		Link:   types.Link{Source: src, Dest: dst},
		Source: "gsiftp://" + src + "/f",
		Dest:   "gsiftp://" + dst + "/f",
		Status: status,
	})
}

// TestFetchNewOrdering tests that rows come back link-contiguous and
// id-ordered within a link
func TestFetchNewOrdering(t *testing.T) {
	s := NewMemStore()
	seedTransfer(s, 5, "B", "C", types.StatusNew)
	seedTransfer(s, 1, "A", "B", types.StatusNew)
	seedTransfer(s, 4, "A", "B", types.StatusNew)
	seedTransfer(s, 2, "B", "C", types.StatusNew)
	seedTransfer(s, 3, "A", "B", types.StatusQueued) // not new, excluded

	tasks, err := s.FetchNew(context.Background(), types.KindTransfer)
	require.NoError(t, err)
	require.Len(t, tasks, 4)

	var ids []int64
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []int64{1, 4, 2, 5}, ids)

	// Links are contiguous: once the link changes it never reappears
	seen := map[string]bool{}
	last := ""
	for _, task := range tasks {
		key := task.Link.Key()
		if key != last {
			assert.False(t, seen[key], "link %s reappeared after a gap", key)
			seen[key] = true
			last = key
		}
	}
}

// TestMarkQueued tests the new -> queued compare-and-set
func TestMarkQueued(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	seedTransfer(s, 1, "A", "B", types.StatusNew)

	won, err := s.MarkQueued(ctx, types.KindTransfer, 1)
	require.NoError(t, err)
	assert.True(t, won)

	// Second attempt loses: the row is no longer new
	won, err = s.MarkQueued(ctx, types.KindTransfer, 1)
	require.NoError(t, err)
	assert.False(t, won)

	task, ok := s.Get(types.KindTransfer, 1)
	require.True(t, ok)
	assert.Equal(t, types.StatusQueued, task.Status)
}

// TestSetStatusGuards tests that illegal transitions are skipped
func TestSetStatusGuards(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	// A row the manager already cancelled is never overwritten
	seedTransfer(s, 1, "A", "B", types.StatusCancelled)
	require.NoError(t, s.SetStatus(ctx, types.KindTransfer, 1, types.StatusCancelled))
	require.NoError(t, s.SetStatus(ctx, types.KindTransfer, 1, types.StatusActive))
	task, _ := s.Get(types.KindTransfer, 1)
	assert.Equal(t, types.StatusCancelled, task.Status)

	// new cannot jump straight to active
	seedTransfer(s, 2, "A", "B", types.StatusNew)
	require.NoError(t, s.SetStatus(ctx, types.KindTransfer, 2, types.StatusActive))
	task, _ = s.Get(types.KindTransfer, 2)
	assert.Equal(t, types.StatusNew, task.Status)
}

// TestSetResult tests terminal recording with timestamps
func TestSetResult(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	seedTransfer(s, 1, "A", "B", types.StatusActive)

	start := time.Now().Add(-time.Minute)
	finish := time.Now()
	require.NoError(t, s.SetResult(ctx, types.KindTransfer, 1, types.Result{
		TaskID:     1,
		ExitCode:   0,
		StartTime:  start,
		FinishTime: finish,
	}))

	task, _ := s.Get(types.KindTransfer, 1)
	assert.Equal(t, types.StatusDone, task.Status)
	assert.Equal(t, 0, task.ExitCode)
	assert.True(t, !task.FinishTime.Before(task.StartTime))
}

// TestRecoverOrphans tests the restart sweep and its idempotence
func TestRecoverOrphans(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	seedTransfer(s, 1, "A", "B", types.StatusActive)
	seedTransfer(s, 2, "A", "B", types.StatusActive)
	seedTransfer(s, 3, "A", "B", types.StatusActive)
	seedTransfer(s, 4, "A", "B", types.StatusQueued)
	seedTransfer(s, 5, "A", "B", types.StatusQueued)
	seedTransfer(s, 6, "A", "B", types.StatusDone)
	s.Insert(types.Task{ID: 7, Kind: types.KindDeletion, Link: types.DeletionLink("C"), Status: types.StatusQueued})

	n, err := s.RecoverOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	assert.Equal(t, 6, s.CountByStatus(types.KindTransfer, types.StatusNew)+
		s.CountByStatus(types.KindDeletion, types.StatusNew))
	assert.Equal(t, 0, s.CountByStatus(types.KindTransfer, types.StatusQueued))
	assert.Equal(t, 0, s.CountByStatus(types.KindTransfer, types.StatusActive))

	// Terminal rows are untouched
	task, _ := s.Get(types.KindTransfer, 6)
	assert.Equal(t, types.StatusDone, task.Status)

	// Recovering again is a no-op
	n, err = s.RecoverOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

// TestListQueued tests the queued snapshot
func TestListQueued(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	seedTransfer(s, 1, "A", "B", types.StatusQueued)
	seedTransfer(s, 2, "A", "B", types.StatusNew)
	seedTransfer(s, 3, "A", "B", types.StatusQueued)

	ids, err := s.ListQueued(ctx, types.KindTransfer)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)
}

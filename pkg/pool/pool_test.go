package pool

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridops/ferryd/pkg/gateway"
	"github.com/gridops/ferryd/pkg/log"
	"github.com/gridops/ferryd/pkg/registry"
	"github.com/gridops/ferryd/pkg/store"
	"github.com/gridops/ferryd/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

type fixture struct {
	store *store.MemStore
	reg   *registry.Registry
	mock  *gateway.MockGateway
	stop  chan struct{}
}

func newFixture(t *testing.T, kind types.TaskKind, link types.Link, workers int) (*Manager, *fixture) {
	t.Helper()

	f := &fixture{
		store: store.NewMemStore(),
		reg:   registry.New(),
		mock:  gateway.NewMockGateway(),
		stop:  make(chan struct{}),
	}

	mgr, err := NewManager(Config{
		Kind:            kind,
		Link:            link,
		Store:           f.store,
		Reg:             f.reg,
		Adapter:         gateway.NewAdapter(f.mock, types.TransferParams{Overwrite: true}, ""),
		MaxConcurrent:   workers,
		CollectInterval: 10 * time.Millisecond,
		Stop:            f.stop,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		select {
		case <-f.stop:
		default:
			close(f.stop)
		}
		mgr.ReadyForRecycle()
	})
	return mgr, f
}

func waitForStatus(t *testing.T, s *store.MemStore, kind types.TaskKind, id int64, want types.TaskStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		task, ok := s.Get(kind, id)
		return ok && task.Status == want
	}, 5*time.Second, 5*time.Millisecond, "task %d never reached %s", id, want)
}

// TestHappyDeletion tests the full worker protocol for one deletion:
// new -> queued -> active -> done with exit code zero
func TestHappyDeletion(t *testing.T) {
	link := types.DeletionLink("SITE_C")
	mgr, f := newFixture(t, types.KindDeletion, link, 2)

	task := types.Task{ID: 1, Kind: types.KindDeletion, Link: link, File: "gsiftp://x/y", Status: types.StatusNew}
	f.store.Insert(task)

	require.NoError(t, mgr.AddTask(context.Background(), task))
	waitForStatus(t, f.store, types.KindDeletion, 1, types.StatusDone)

	row, _ := f.store.Get(types.KindDeletion, 1)
	assert.Equal(t, 0, row.ExitCode)
	assert.True(t, !row.FinishTime.Before(row.StartTime))
	assert.Equal(t, 1, f.mock.UnlinkCalls("gsiftp://x/y"))
	assert.False(t, f.reg.Contains(1), "worker claimed its id")
}

// TestDeletionMissingTarget tests that errno 2 from the gateway lands
// as done
func TestDeletionMissingTarget(t *testing.T) {
	link := types.DeletionLink("SITE_C")
	mgr, f := newFixture(t, types.KindDeletion, link, 1)

	f.mock.ScriptUnlink("gsiftp://x/gone", &gateway.Error{Code: gateway.CodeMissing, Msg: "no such file"})
	task := types.Task{ID: 2, Kind: types.KindDeletion, Link: link, File: "gsiftp://x/gone", Status: types.StatusNew}
	f.store.Insert(task)

	require.NoError(t, mgr.AddTask(context.Background(), task))
	waitForStatus(t, f.store, types.KindDeletion, 2, types.StatusDone)

	row, _ := f.store.Get(types.KindDeletion, 2)
	assert.Equal(t, 0, row.ExitCode)
}

// TestFailedTransfer tests that a storage failure lands as failed with
// the exit code recorded
func TestFailedTransfer(t *testing.T) {
	link := types.Link{Source: "SITE_A", Dest: "SITE_B"}
	mgr, f := newFixture(t, types.KindTransfer, link, 1)

	f.mock.ScriptCopy("gsiftp://b/f", &gateway.Error{Code: 5, Msg: "input/output error"})
	task := types.Task{
		ID: 3, Kind: types.KindTransfer, Link: link,
		Source: "gsiftp://a/f", Dest: "gsiftp://b/f", Status: types.StatusNew,
	}
	f.store.Insert(task)

	require.NoError(t, mgr.AddTask(context.Background(), task))
	waitForStatus(t, f.store, types.KindTransfer, 3, types.StatusFailed)

	row, _ := f.store.Get(types.KindTransfer, 3)
	assert.Equal(t, 5, row.ExitCode)
}

// TestCancellationBeforeDispatch tests the registry race: a task
// cancelled between enqueue and worker start never touches storage and
// keeps its cancelled status
func TestCancellationBeforeDispatch(t *testing.T) {
	link := types.DeletionLink("SITE_C")
	mgr, f := newFixture(t, types.KindDeletion, link, 1)

	// The single worker slot is held by a slow task so the second one
	// stays queued long enough to be cancelled.
	f.mock.Delay = 500 * time.Millisecond
	blocker := types.Task{ID: 10, Kind: types.KindDeletion, Link: link, File: "gsiftp://x/slow", Status: types.StatusNew}
	victim := types.Task{ID: 11, Kind: types.KindDeletion, Link: link, File: "gsiftp://x/victim", Status: types.StatusNew}
	f.store.Insert(blocker)
	f.store.Insert(victim)

	ctx := context.Background()
	require.NoError(t, mgr.AddTask(ctx, blocker))
	require.NoError(t, mgr.AddTask(ctx, victim))

	// Wait until the blocker holds the worker slot, then cancel the
	// queued task the way the manager does: row status changes and the
	// next scheduler refresh drops the id from the registry.
	waitForStatus(t, f.store, types.KindDeletion, 10, types.StatusActive)
	f.store.ForceStatus(types.KindDeletion, 11, types.StatusCancelled)
	f.reg.Replace(nil)

	waitForStatus(t, f.store, types.KindDeletion, 10, types.StatusDone)
	waitForStatus(t, f.store, types.KindDeletion, 11, types.StatusCancelled)

	assert.Equal(t, 0, f.mock.UnlinkCalls("gsiftp://x/victim"), "no storage call for the cancelled task")
	row, _ := f.store.Get(types.KindDeletion, 11)
	assert.Equal(t, types.StatusCancelled, row.Status, "collector does not overwrite the cancelled status")
}

// TestWorkerMarksActive tests the queued -> active transition while the
// storage call is in flight
func TestWorkerMarksActive(t *testing.T) {
	link := types.DeletionLink("SITE_C")
	mgr, f := newFixture(t, types.KindDeletion, link, 1)

	f.mock.Delay = 300 * time.Millisecond
	task := types.Task{ID: 20, Kind: types.KindDeletion, Link: link, File: "gsiftp://x/y", Status: types.StatusNew}
	f.store.Insert(task)

	require.NoError(t, mgr.AddTask(context.Background(), task))
	waitForStatus(t, f.store, types.KindDeletion, 20, types.StatusActive)
	waitForStatus(t, f.store, types.KindDeletion, 20, types.StatusDone)
}

// TestAddTaskLosesRace tests that a row no longer in new is not
// dispatched twice
func TestAddTaskLosesRace(t *testing.T) {
	link := types.DeletionLink("SITE_C")
	mgr, f := newFixture(t, types.KindDeletion, link, 1)

	task := types.Task{ID: 30, Kind: types.KindDeletion, Link: link, File: "gsiftp://x/y", Status: types.StatusNew}
	f.store.Insert(task)
	f.store.ForceStatus(types.KindDeletion, 30, types.StatusQueued)

	require.NoError(t, mgr.AddTask(context.Background(), task))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, f.mock.UnlinkCalls("gsiftp://x/y"))
	assert.False(t, f.reg.Contains(30))
}

// TestReadyForRecycleFresh tests that a pool with no work recycles
func TestReadyForRecycleFresh(t *testing.T) {
	mgr, _ := newFixture(t, types.KindDeletion, types.DeletionLink("SITE_C"), 1)
	assert.True(t, mgr.ReadyForRecycle())
}

// TestReadyForRecycleDrains tests that a busy pool becomes recyclable
// once its in-flight list empties and the collector exits
func TestReadyForRecycleDrains(t *testing.T) {
	link := types.DeletionLink("SITE_C")
	mgr, f := newFixture(t, types.KindDeletion, link, 1)

	f.mock.Delay = 100 * time.Millisecond
	task := types.Task{ID: 40, Kind: types.KindDeletion, Link: link, File: "gsiftp://x/y", Status: types.StatusNew}
	f.store.Insert(task)
	require.NoError(t, mgr.AddTask(context.Background(), task))

	assert.False(t, mgr.ReadyForRecycle(), "in-flight work blocks recycling")

	waitForStatus(t, f.store, types.KindDeletion, 40, types.StatusDone)
	require.Eventually(t, mgr.ReadyForRecycle, 2*time.Second, 10*time.Millisecond,
		"drained pool becomes recyclable once its collector exits")
}

// TestStopForcesRecycle tests that the stop flag makes the probe
// terminate the worker group and report true
func TestStopForcesRecycle(t *testing.T) {
	link := types.DeletionLink("SITE_C")
	mgr, f := newFixture(t, types.KindDeletion, link, 1)

	f.mock.Delay = 100 * time.Millisecond
	task := types.Task{ID: 50, Kind: types.KindDeletion, Link: link, File: "gsiftp://x/y", Status: types.StatusNew}
	f.store.Insert(task)
	require.NoError(t, mgr.AddTask(context.Background(), task))

	close(f.stop)
	assert.True(t, mgr.ReadyForRecycle())
	assert.True(t, mgr.ReadyForRecycle(), "probe stays idempotent after release")
}

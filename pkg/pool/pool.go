package pool

import (
	"context"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"github.com/gridops/ferryd/pkg/events"
	"github.com/gridops/ferryd/pkg/gateway"
	"github.com/gridops/ferryd/pkg/log"
	"github.com/gridops/ferryd/pkg/metrics"
	"github.com/gridops/ferryd/pkg/registry"
	"github.com/gridops/ferryd/pkg/store"
	"github.com/gridops/ferryd/pkg/types"
)

const (
	// DefaultCollectInterval is how long the collector sleeps between
	// sweeps of the in-flight list.
	DefaultCollectInterval = 5 * time.Second

	// successLogLimit bounds the captured gateway log emitted for
	// successful operations; failures log it in full.
	successLogLimit = 1024

	// queueDepth bounds tasks accepted ahead of free workers.
	queueDepth = 4096
)

// resultHandle tracks one dispatched task until the collector pops it
type resultHandle struct {
	task   types.Task
	done   chan struct{}
	result types.Result
}

// Config wires a manager's collaborators
type Config struct {
	Kind    types.TaskKind
	Link    types.Link
	Store   store.TaskStore
	Reg     *registry.Registry
	Adapter *gateway.Adapter
	Broker  *events.Broker
	// MaxConcurrent bounds the worker group.
	MaxConcurrent int
	// CollectInterval defaults to DefaultCollectInterval when zero.
	CollectInterval time.Duration
	// Stop is the daemon's global stop channel.
	Stop <-chan struct{}
}

// Manager owns the worker group and collector for one link
type Manager struct {
	cfg    Config
	pool   *ants.Pool
	logger zerolog.Logger

	queue chan *resultHandle
	quit  chan struct{}

	mu               sync.Mutex
	inflight         map[int64]*resultHandle
	collectorRunning bool

	releaseOnce sync.Once
}

// NewManager creates a pool manager and starts its dispatcher
func NewManager(cfg Config) (*Manager, error) {
	if cfg.CollectInterval <= 0 {
		cfg.CollectInterval = DefaultCollectInterval
	}

	workers, err := ants.NewPool(cfg.MaxConcurrent,
		ants.WithNonblocking(false),
		ants.WithPanicHandler(func(p interface{}) {
			log.WithComponent("pool").Error().
				Interface("panic", p).
				Msg("Worker panic recovered")
		}),
	)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:      cfg,
		pool:     workers,
		logger:   log.WithComponent("pool").With().Str("kind", string(cfg.Kind)).Str("link", cfg.Link.String()).Logger(),
		queue:    make(chan *resultHandle, queueDepth),
		quit:     make(chan struct{}),
		inflight: make(map[int64]*resultHandle),
	}
	go m.dispatch()
	return m, nil
}

// Link returns the link this manager serves
func (m *Manager) Link() types.Link {
	return m.cfg.Link
}

// AddTask transitions a row from new to queued and hands it to the
// worker group. The database write and the registry append share the
// registry's critical section so a concurrent refresh never observes a
// torn state. This is the only path from new to queued.
func (m *Manager) AddTask(ctx context.Context, task types.Task) error {
	var won bool
	err := m.cfg.Reg.Locked(func(add func(id int64)) error {
		var err error
		won, err = m.cfg.Store.MarkQueued(ctx, m.cfg.Kind, task.ID)
		if err != nil {
			return err
		}
		if won {
			add(task.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !won {
		// Another actor moved the row out of new first.
		m.logger.Debug().Int64("task_id", task.ID).Msg("Task no longer new, skipping dispatch")
		return nil
	}

	if m.cfg.Broker != nil {
		m.cfg.Broker.Publish(events.Event{
			Type:   events.EventTaskQueued,
			Kind:   m.cfg.Kind,
			Link:   m.cfg.Link.Key(),
			TaskID: task.ID,
		})
	}

	handle := &resultHandle{task: task, done: make(chan struct{})}

	m.mu.Lock()
	m.inflight[task.ID] = handle
	m.startCollectorLocked()
	m.mu.Unlock()

	select {
	case m.queue <- handle:
	case <-m.quit:
	case <-m.cfg.Stop:
	}
	return nil
}

// dispatch feeds queued handles to the worker group in arrival order,
// blocking while the group is at capacity.
func (m *Manager) dispatch() {
	for {
		select {
		case handle := <-m.queue:
			err := m.pool.Submit(func() { m.runTask(handle) })
			if err != nil {
				// Pool released under us. Close the handle so a still
				// running collector can account for it; otherwise the
				// row stays queued and orphan recovery resets it.
				m.logger.Warn().
					Int64("task_id", handle.task.ID).
					Err(err).
					Msg("Failed to submit worker")
				handle.result = types.Result{TaskID: handle.task.ID, ExitCode: -1}
				close(handle.done)
			}
		case <-m.quit:
			return
		case <-m.cfg.Stop:
			return
		}
	}
}

// runTask is the worker protocol for a single task
func (m *Manager) runTask(handle *resultHandle) {
	task := handle.task
	defer close(handle.done)

	// A claim that misses means the manager cancelled the task after
	// enqueue; no storage call is made.
	if !m.cfg.Reg.Claim(task.ID) {
		handle.result = types.Result{TaskID: task.ID, ExitCode: -1}
		return
	}

	ctx := context.Background()
	if err := m.cfg.Store.SetStatus(ctx, m.cfg.Kind, task.ID, types.StatusActive); err != nil {
		m.logger.Error().Int64("task_id", task.ID).Err(err).Msg("Failed to mark task active")
	}
	if m.cfg.Broker != nil {
		m.cfg.Broker.Publish(events.Event{
			Type:   events.EventTaskActive,
			Kind:   m.cfg.Kind,
			Link:   m.cfg.Link.Key(),
			TaskID: task.ID,
		})
	}

	metrics.WorkersInFlight.WithLabelValues(string(m.cfg.Kind)).Inc()
	defer metrics.WorkersInFlight.WithLabelValues(string(m.cfg.Kind)).Dec()

	if m.cfg.Kind == types.KindTransfer {
		handle.result = m.cfg.Adapter.Transfer(task)
	} else {
		handle.result = m.cfg.Adapter.Delete(task)
	}
}

// startCollectorLocked launches the collector when none is running.
// Called with m.mu held; it also restarts a collector that exited after
// the in-flight list drained.
func (m *Manager) startCollectorLocked() {
	if m.collectorRunning {
		return
	}
	m.collectorRunning = true
	go m.collect()
}

// collect sweeps the in-flight list, recording terminal statuses for
// completed handles. It exits when the list drains or the stop flag is
// set.
func (m *Manager) collect() {
	ticker := time.NewTicker(m.cfg.CollectInterval)
	defer ticker.Stop()

	for {
		m.sweep()

		m.mu.Lock()
		if len(m.inflight) == 0 {
			m.collectorRunning = false
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		select {
		case <-ticker.C:
		case <-m.cfg.Stop:
			m.mu.Lock()
			m.collectorRunning = false
			m.mu.Unlock()
			return
		}
	}
}

// sweep pops every completed handle and writes its terminal status
func (m *Manager) sweep() {
	m.mu.Lock()
	var completed []*resultHandle
	for id, handle := range m.inflight {
		select {
		case <-handle.done:
			delete(m.inflight, id)
			completed = append(completed, handle)
		default:
		}
	}
	m.mu.Unlock()

	for _, handle := range completed {
		m.record(handle)
	}
}

// record writes one terminal status and emits the outcome
func (m *Manager) record(handle *resultHandle) {
	res := handle.result
	status := res.Status()
	ctx := context.Background()

	var err error
	if status == types.StatusCancelled {
		err = m.cfg.Store.SetStatus(ctx, m.cfg.Kind, res.TaskID, types.StatusCancelled)
	} else {
		err = m.cfg.Store.SetResult(ctx, m.cfg.Kind, res.TaskID, res)
	}
	if err != nil {
		m.logger.Error().Int64("task_id", res.TaskID).Err(err).Msg("Failed to record task result")
	}

	metrics.TasksCompleted.WithLabelValues(string(m.cfg.Kind), string(status)).Inc()
	if status == types.StatusDone || status == types.StatusFailed {
		metrics.TaskDuration.WithLabelValues(string(m.cfg.Kind)).
			Observe(res.FinishTime.Sub(res.StartTime).Seconds())
	}

	switch status {
	case types.StatusDone:
		m.logger.Info().
			Int64("task_id", res.TaskID).
			Str("message", res.Message).
			Str("gateway_log", truncate(res.Log, successLogLimit)).
			Msg("Task done")
	case types.StatusFailed:
		m.logger.Error().
			Int64("task_id", res.TaskID).
			Int("exit_code", res.ExitCode).
			Str("message", res.Message).
			Str("gateway_log", res.Log).
			Msg("Task failed")
	default:
		m.logger.Info().Int64("task_id", res.TaskID).Msg("Task cancelled")
	}

	if m.cfg.Broker != nil {
		m.cfg.Broker.Publish(events.Event{
			Type:     events.TerminalEvent(status),
			Kind:     m.cfg.Kind,
			Link:     m.cfg.Link.Key(),
			TaskID:   res.TaskID,
			ExitCode: res.ExitCode,
			Message:  res.Message,
		})
	}
}

// ReadyForRecycle reports whether the pool can be torn down: no
// in-flight results and a terminated collector. Once the stop flag is
// set it terminates the worker group instead and reports true. The
// probe is idempotent.
func (m *Manager) ReadyForRecycle() bool {
	select {
	case <-m.cfg.Stop:
		m.release()
		return true
	default:
	}

	m.mu.Lock()
	idle := len(m.inflight) == 0 && !m.collectorRunning
	m.mu.Unlock()

	if idle {
		m.release()
	}
	return idle
}

// release tears the worker group down exactly once
func (m *Manager) release() {
	m.releaseOnce.Do(func() {
		close(m.quit)
		if err := m.pool.ReleaseTimeout(10 * time.Second); err != nil {
			m.logger.Warn().Err(err).Msg("Worker group shutdown timeout")
		}
	})
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/gridops/ferryd/pkg/events"
	"github.com/gridops/ferryd/pkg/gateway"
	"github.com/gridops/ferryd/pkg/log"
	"github.com/gridops/ferryd/pkg/metrics"
	"github.com/gridops/ferryd/pkg/pool"
	"github.com/gridops/ferryd/pkg/registry"
	"github.com/gridops/ferryd/pkg/store"
	"github.com/gridops/ferryd/pkg/types"
)

// DefaultPollInterval is the sleep between poll cycles. The full sleep
// is taken even when rows are waiting; the latency is deliberate
// back-pressure against the enqueueing manager.
const DefaultPollInterval = 30 * time.Second

// Config wires the scheduler's collaborators
type Config struct {
	Store      store.TaskStore
	Registries map[types.TaskKind]*registry.Registry
	Adapter    *gateway.Adapter
	Broker     *events.Broker
	// MaxConcurrent bounds each per-link worker group.
	MaxConcurrent int
	// PollInterval defaults to DefaultPollInterval when zero.
	PollInterval time.Duration
	// CollectInterval is forwarded to each pool's collector.
	CollectInterval time.Duration
	// Stop is the daemon's global stop channel.
	Stop <-chan struct{}
}

// Scheduler owns the pool managers and the poll loop
type Scheduler struct {
	cfg    Config
	pools  map[types.TaskKind]map[string]*pool.Manager
	logger zerolog.Logger
}

// New creates a scheduler
func New(cfg Config) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Scheduler{
		cfg: cfg,
		pools: map[types.TaskKind]map[string]*pool.Manager{
			types.KindTransfer: {},
			types.KindDeletion: {},
		},
		logger: log.WithComponent("scheduler"),
	}
}

// Run executes poll cycles until the stop channel closes. It runs on
// the caller's goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info().Dur("poll_interval", s.cfg.PollInterval).Msg("Scheduler started")

	for {
		select {
		case <-s.cfg.Stop:
			s.logger.Info().Msg("Scheduler stopped")
			return
		default:
		}

		s.cycle(ctx)

		select {
		case <-time.After(s.cfg.PollInterval):
		case <-s.cfg.Stop:
			s.logger.Info().Msg("Scheduler stopped")
			return
		}
	}
}

// cycle performs one poll iteration: dispatch per kind (deletions
// first), registry refresh, then the recycling sweep.
func (s *Scheduler) cycle(ctx context.Context) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.PollCycleDuration)
		metrics.PollCyclesTotal.Inc()
	}()

	for _, kind := range types.Kinds {
		s.dispatchKind(ctx, kind)
		s.refreshRegistry(ctx, kind)
	}

	s.recyclePools()
}

// dispatchKind drains all new rows of one kind into their link pools
func (s *Scheduler) dispatchKind(ctx context.Context, kind types.TaskKind) {
	tasks, err := s.cfg.Store.FetchNew(ctx, kind)
	if err != nil {
		s.logger.Error().Err(err).Str("kind", string(kind)).Msg("Failed to fetch new tasks")
		return
	}
	if len(tasks) == 0 {
		return
	}

	// Rows arrive link-contiguous; the pool lookup only changes when
	// the link does.
	var mgr *pool.Manager
	currentKey := ""
	dispatched := 0

	for _, task := range tasks {
		if key := task.Link.Key(); mgr == nil || key != currentKey {
			var err error
			mgr, err = s.poolFor(kind, task.Link)
			if err != nil {
				s.logger.Error().Err(err).Str("link", task.Link.String()).Msg("Failed to create pool")
				continue
			}
			currentKey = key
		}

		if err := mgr.AddTask(ctx, task); err != nil {
			s.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to dispatch task")
			continue
		}
		dispatched++
	}

	if dispatched > 0 {
		metrics.TasksDispatched.WithLabelValues(string(kind)).Add(float64(dispatched))
		s.logger.Info().
			Str("kind", string(kind)).
			Int("tasks", dispatched).
			Msg("Dispatched tasks")
	}
}

// refreshRegistry rebuilds one kind's cancellation registry from the
// database. Membership equals the set of queued rows.
func (s *Scheduler) refreshRegistry(ctx context.Context, kind types.TaskKind) {
	ids, err := s.cfg.Store.ListQueued(ctx, kind)
	if err != nil {
		s.logger.Error().Err(err).Str("kind", string(kind)).Msg("Failed to list queued tasks")
		return
	}
	s.cfg.Registries[kind].Replace(ids)
	metrics.TasksQueued.WithLabelValues(string(kind)).Set(float64(len(ids)))
}

// poolFor returns the pool manager for a link, creating it lazily
func (s *Scheduler) poolFor(kind types.TaskKind, link types.Link) (*pool.Manager, error) {
	if mgr, ok := s.pools[kind][link.Key()]; ok {
		return mgr, nil
	}

	mgr, err := pool.NewManager(pool.Config{
		Kind:            kind,
		Link:            link,
		Store:           s.cfg.Store,
		Reg:             s.cfg.Registries[kind],
		Adapter:         s.cfg.Adapter,
		Broker:          s.cfg.Broker,
		MaxConcurrent:   s.cfg.MaxConcurrent,
		CollectInterval: s.cfg.CollectInterval,
		Stop:            s.cfg.Stop,
	})
	if err != nil {
		return nil, err
	}

	s.pools[kind][link.Key()] = mgr
	metrics.PoolsLive.WithLabelValues(string(kind)).Set(float64(len(s.pools[kind])))
	s.logger.Info().
		Str("kind", string(kind)).
		Str("link", link.String()).
		Msg("Created pool")

	if s.cfg.Broker != nil {
		s.cfg.Broker.Publish(events.Event{
			Type: events.EventPoolCreated,
			Kind: kind,
			Link: link.Key(),
		})
	}
	return mgr, nil
}

// recyclePools drops every pool that reports ready for recycling
func (s *Scheduler) recyclePools() {
	for kind, byLink := range s.pools {
		for key, mgr := range byLink {
			if !mgr.ReadyForRecycle() {
				continue
			}
			delete(byLink, key)
			metrics.PoolsRecycled.Inc()
			s.logger.Debug().
				Str("kind", string(kind)).
				Str("link", key).
				Msg("Recycled idle pool")

			if s.cfg.Broker != nil {
				s.cfg.Broker.Publish(events.Event{
					Type: events.EventPoolRecycled,
					Kind: kind,
					Link: key,
				})
			}
		}
		metrics.PoolsLive.WithLabelValues(string(kind)).Set(float64(len(byLink)))
	}
}

// PoolCount returns the number of live pools for a kind
func (s *Scheduler) PoolCount(kind types.TaskKind) int {
	return len(s.pools[kind])
}

// Drain forces every remaining pool through the recycling probe until
// all are gone, polling briefly between passes. Used on shutdown after
// the stop flag is set.
func (s *Scheduler) Drain() {
	for {
		s.recyclePools()
		if s.PoolCount(types.KindTransfer) == 0 && s.PoolCount(types.KindDeletion) == 0 {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}

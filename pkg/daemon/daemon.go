package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gridops/ferryd/pkg/config"
	"github.com/gridops/ferryd/pkg/events"
	"github.com/gridops/ferryd/pkg/gateway"
	"github.com/gridops/ferryd/pkg/log"
	"github.com/gridops/ferryd/pkg/metrics"
	"github.com/gridops/ferryd/pkg/registry"
	"github.com/gridops/ferryd/pkg/scheduler"
	"github.com/gridops/ferryd/pkg/store"
	"github.com/gridops/ferryd/pkg/types"
)

// healthInterval is how often the store connection is probed for the
// health report.
const healthInterval = 30 * time.Second

// Daemon holds the state every subsystem receives explicitly: no
// globals beyond the logger and the metrics/health collectors.
type Daemon struct {
	cfg        *config.Config
	store      store.TaskStore
	registries map[types.TaskKind]*registry.Registry
	adapter    *gateway.Adapter
	broker     *events.Broker
	sched      *scheduler.Scheduler
	logger     zerolog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Option tweaks daemon construction
type Option func(*options)

type options struct {
	pollInterval    time.Duration
	collectInterval time.Duration
}

// WithPollInterval overrides the scheduler poll interval (tests)
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

// WithCollectInterval overrides the pool collector interval (tests)
func WithCollectInterval(d time.Duration) Option {
	return func(o *options) { o.collectInterval = d }
}

// New wires a daemon from its external collaborators
func New(cfg *config.Config, st store.TaskStore, gw gateway.Gateway, opts ...Option) *Daemon {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	params := types.TransferParams{
		CreateParents: true,
		Overwrite:     cfg.Daemon.Overwrite,
		Timeout:       cfg.Daemon.TransferTimeout,
	}
	if cfg.Daemon.Checksum != "" {
		params.Checksum = &types.ChecksumSpec{Mode: "both", Algorithm: cfg.Daemon.Checksum}
	}

	d := &Daemon{
		cfg:   cfg,
		store: st,
		registries: map[types.TaskKind]*registry.Registry{
			types.KindTransfer: registry.New(),
			types.KindDeletion: registry.New(),
		},
		adapter: gateway.NewAdapter(gw, params, cfg.Daemon.Gfal2Verbosity),
		broker:  events.NewBroker(),
		logger:  log.WithComponent("daemon"),
		stopCh:  make(chan struct{}),
	}

	d.sched = scheduler.New(scheduler.Config{
		Store:           st,
		Registries:      d.registries,
		Adapter:         d.adapter,
		Broker:          d.broker,
		MaxConcurrent:   cfg.Daemon.MaxParallelLinks,
		PollInterval:    o.pollInterval,
		CollectInterval: o.collectInterval,
		Stop:            d.stopCh,
	})
	return d
}

// Stop requests a cooperative shutdown. Safe to call more than once and
// from any goroutine; the signal supervisor calls it.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

// Stopped exposes the stop channel for collaborators
func (d *Daemon) Stopped() <-chan struct{} {
	return d.stopCh
}

// Run drives the daemon until Stop is called. The shutdown path always
// executes, also when the scheduler loop panics: stop flag, orphan
// recovery, pool drain, termination log.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.recoverOrphans(ctx, "start"); err != nil {
		return err
	}

	d.broker.Start()
	go d.consumeEvents()
	go d.watchHealth(ctx)
	metrics.SetComponentHealth("scheduler", true, "")

	defer func() {
		if p := recover(); p != nil {
			d.logger.Error().Interface("panic", p).Msg("Scheduler loop panicked, shutting down")
		}
		d.shutdown(ctx)
	}()

	d.logger.Info().
		Int("max_parallel_links", d.cfg.Daemon.MaxParallelLinks).
		Bool("overwrite", d.cfg.Daemon.Overwrite).
		Str("checksum", d.cfg.Daemon.Checksum).
		Msg("File operations daemon started")

	d.sched.Run(ctx)
	return nil
}

// shutdown is the orderly stop: flag, orphan sweep, pool drain
func (d *Daemon) shutdown(ctx context.Context) {
	d.Stop()

	if err := d.recoverOrphans(ctx, "stop"); err != nil {
		d.logger.Error().Err(err).Msg("Failed to recover orphans at shutdown")
	}

	d.sched.Drain()
	d.broker.Stop()
	d.logger.Info().Msg("File operations daemon terminated")
}

// recoverOrphans resets queued/active rows left behind by a previous
// run (or by this one, at stop) back to new.
func (d *Daemon) recoverOrphans(ctx context.Context, phase string) error {
	n, err := d.store.RecoverOrphans(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover orphaned tasks at %s: %w", phase, err)
	}
	if n > 0 {
		metrics.OrphansRecovered.Add(float64(n))
		d.logger.Info().Int64("tasks", n).Str("phase", phase).Msg("Reset orphaned tasks to new")
	}
	return nil
}

// consumeEvents mirrors lifecycle events into the debug log
func (d *Daemon) consumeEvents() {
	sub := d.broker.Subscribe()
	for {
		select {
		case event, ok := <-sub:
			if !ok {
				return
			}
			d.logger.Debug().
				Str("event", string(event.Type)).
				Str("kind", string(event.Kind)).
				Str("link", event.Link).
				Int64("task_id", event.TaskID).
				Msg("Lifecycle event")
		case <-d.stopCh:
			return
		}
	}
}

// watchHealth keeps the store component of the health report current
func (d *Daemon) watchHealth(ctx context.Context) {
	type pinger interface {
		Ping(ctx context.Context) error
	}

	p, ok := d.store.(pinger)
	if !ok {
		metrics.SetComponentHealth("store", true, "")
		return
	}

	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		if err := p.Ping(ctx); err != nil {
			metrics.SetComponentHealth("store", false, err.Error())
		} else {
			metrics.SetComponentHealth("store", true, "")
		}

		select {
		case <-ticker.C:
		case <-d.stopCh:
			return
		}
	}
}

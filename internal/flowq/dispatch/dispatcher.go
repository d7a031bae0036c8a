package dispatch

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/ehsaniara/flowq/pkg/logger"
)

const (
	defaultPollInterval  = time.Second
	defaultSweepInterval = time.Second
)

// Dispatcher keeps a fixed pool of workers claiming and running items
type Dispatcher struct {
	source  Source
	runner  *Runner
	workers int

	pollInterval  time.Duration
	sweepInterval time.Duration

	running  bool
	runMutex sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	logger *logger.Logger
}

type DispatcherOption func(*Dispatcher)

// WithPollInterval bounds how long an idle worker waits without a
// notification before trying to claim again.
func WithPollInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.pollInterval = interval
		}
	}
}

// WithSweepInterval sets how often running items are checked against
// their timeout budget.
func WithSweepInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.sweepInterval = interval
		}
	}
}

func NewDispatcher(source Source, runner *Runner, workers int, opts ...DispatcherOption) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	d := &Dispatcher{
		source:        source,
		runner:        runner,
		workers:       workers,
		pollInterval:  defaultPollInterval,
		sweepInterval: defaultSweepInterval,
		logger:        logger.WithField("component", "dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the workers and the timeout sweep. Starting a running
// dispatcher is a no-op.
func (d *Dispatcher) Start(ctx context.Context) {
	d.runMutex.Lock()
	defer d.runMutex.Unlock()
	if d.running {
		d.logger.Warn("dispatcher already running")
		return
	}

	ctx, d.cancel = context.WithCancel(ctx)
	d.running = true

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(ctx, i)
	}
	d.wg.Add(1)
	go d.sweep(ctx)

	d.logger.Info("dispatcher started", "workers", d.workers)
}

// Stop cancels in-flight runs and waits for every worker to exit.
func (d *Dispatcher) Stop() {
	d.runMutex.Lock()
	if !d.running {
		d.runMutex.Unlock()
		return
	}
	d.running = false
	d.cancel()
	d.runMutex.Unlock()

	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
}

func (d *Dispatcher) IsRunning() bool {
	d.runMutex.Lock()
	defer d.runMutex.Unlock()
	return d.running
}

func (d *Dispatcher) work(ctx context.Context, id int) {
	defer d.wg.Done()
	log := d.logger.WithField("worker", id)

	for {
		if ctx.Err() != nil {
			return
		}

		item, ok := d.source.Claim(ctx)
		if ok {
			log.Debug("claimed queue item", "projectId", item.ProjectID, "itemId", item.ID)
			final, err := d.runner.Run(ctx, item)
			switch {
			case stderrors.Is(err, ErrCancelled):
				log.Info("queue item cancelled during run", "itemId", item.ID)
			case err != nil:
				log.Warn("queue item run failed", "itemId", item.ID, "error", err)
			default:
				log.Debug("queue item finished", "itemId", item.ID, "status", final.Status)
			}
			continue
		}

		timer := time.NewTimer(d.pollInterval)
		select {
		case <-d.source.Notify():
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
		timer.Stop()
	}
}

func (d *Dispatcher) sweep(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if expired := d.source.CheckTimeouts(ctx); len(expired) > 0 {
				d.logger.Warn("queue items timed out", "count", len(expired), "itemIds", expired)
			}
		case <-ctx.Done():
			return
		}
	}
}

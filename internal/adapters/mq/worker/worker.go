// Package worker drains the observation queue into the latent factor model.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/blitzrec/internal/domain/factors"
	"github.com/okian/blitzrec/internal/domain/model"
	"github.com/okian/blitzrec/pkg/logger"
	"github.com/okian/blitzrec/pkg/metrics"
)

const poolShutdownTimeout = 30 * time.Second

// Observer applies one observation to the model.
type Observer interface {
	Observe(ctx context.Context, obs model.Observation) error
}

// Queue defines how workers receive observations.
type Queue interface {
	Dequeue() <-chan model.Observation
}

// Worker consumes observations until the queue channel closes or the
// context is cancelled.
type Worker struct {
	queue    Queue
	observer Observer
	name     string
	done     chan struct{}
	logger   logger.Logger
}

// NewWorker creates a worker with configuration options.
func NewWorker(queue Queue, observer Observer, opts ...Option) *Worker {
	w := &Worker{
		queue:    queue,
		observer: observer,
		name:     "worker",
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Named(w.name)
	}
	return w
}

// Run processes observations. Observations still queued when the queue is
// closed are processed before Run returns.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	ch := w.queue.Dequeue()
	for {
		select {
		case <-ctx.Done():
			return
		case obs, ok := <-ch:
			if !ok {
				return
			}
			w.process(ctx, obs)
		}
	}
}

// Done is closed when Run returns.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) process(ctx context.Context, obs model.Observation) { //nolint:gocritic // hugeParam: received by value from the channel
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	err := w.observer.Observe(ctx, obs)
	switch {
	case err == nil:
	case errors.Is(err, factors.ErrEmptyObservation):
		metrics.RecordErrorByComponent("worker", "empty_observation")
		w.logger.Debug(ctx, "dropped empty observation", logger.String("event_id", obs.EventID))
	default:
		metrics.RecordErrorByComponent("worker", "observe")
		w.logger.Error(ctx, "observation failed",
			logger.String("event_id", obs.EventID),
			logger.Uint32("account_id", uint32(obs.AccountID)),
			logger.Uint32("tank_id", uint32(obs.TankID)),
			logger.Error(err),
		)
	}
}

// Pool runs a fixed set of workers over one queue.
type Pool struct {
	workers []*Worker
	queue   Queue
	logger  logger.Logger

	mu      sync.Mutex
	started bool
}

// NewPool creates count workers. A non-positive count uses two per CPU.
func NewPool(count int, queue Queue, observer Observer) *Pool {
	if count < 1 {
		count = runtime.NumCPU() * 2
	}
	p := &Pool{
		workers: make([]*Worker, count),
		queue:   queue,
		logger:  logger.Named("worker-pool"),
	}
	for i := range p.workers {
		p.workers[i] = NewWorker(queue, observer, WithName("worker-"+strconv.Itoa(i)))
	}
	metrics.UpdateWorkerCount(count)
	return p
}

// Start launches every worker.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Serve implements suture.Service: it runs the workers and, once ctx is
// cancelled, closes the queue and waits for them to drain it.
func (p *Pool) Serve(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	p.Start(runCtx)
	<-ctx.Done()

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), poolShutdownTimeout)
	defer stop()
	if err := p.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return ctx.Err()
}

// Shutdown closes the queue and waits for the workers to drain it.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	for i, w := range p.workers {
		select {
		case <-w.Done():
		case <-ctx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			return fmt.Errorf("worker shutdown timed out: %w", ctx.Err())
		}
	}
	return nil
}

// String names the service in supervisor logs.
func (p *Pool) String() string {
	return "worker-pool"
}

// Package trainer runs the periodic retraining cycle: refresh the train item
// window, aggregate victory ratios, compute vehicle similarities and persist
// the resulting vehicle models.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/okian/blitzrec/internal/domain/aggregate"
	"github.com/okian/blitzrec/internal/domain/estimator"
	"github.com/okian/blitzrec/internal/domain/model"
	"github.com/okian/blitzrec/internal/domain/similarity"
	"github.com/okian/blitzrec/internal/domain/window"
	"github.com/okian/blitzrec/pkg/logger"
	"github.com/okian/blitzrec/pkg/metrics"
)

const (
	defaultInterval        = 5 * time.Minute
	defaultBreakerFailures = 3
	defaultBreakerTimeout  = time.Minute
)

// Window is the train item set a cycle trains on.
type Window interface {
	Refresh(ctx context.Context, now time.Time) (window.RefreshStats, error)
	Items() []model.TrainItem
}

// ModelWriter persists a cycle's vehicle models.
type ModelWriter interface {
	UpsertVehicleModels(ctx context.Context, models []model.VehicleModel) error
}

// Report summarizes one completed cycle.
type Report struct {
	ID              string        `json:"id"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
	Pulled          int           `json:"pulled"`
	Evicted         int           `json:"evicted"`
	WindowSize      int           `json:"window_size"`
	Watermark       int64         `json:"watermark"`
	Vehicles        int           `json:"vehicles"`
	Pairs           int           `json:"pairs"`
	DroppedVehicles int           `json:"dropped_vehicles"`
	DroppedPairs    int           `json:"dropped_pairs"`
}

// Trainer is a suture service; one cycle runs at a time.
type Trainer struct {
	window   Window
	store    ModelWriter
	est      estimator.Estimator
	engine   *similarity.Engine
	breaker  *gobreaker.CircuitBreaker[window.RefreshStats]
	interval time.Duration
	now      func() time.Time
	logger   logger.Logger

	breakerFailures uint32
	breakerTimeout  time.Duration

	cycleMu sync.Mutex

	mu       sync.RWMutex
	baseline map[model.TankID]float64
	last     *Report
}

// New creates a Trainer.
func New(w Window, store ModelWriter, est estimator.Estimator, opts ...Option) *Trainer {
	t := &Trainer{
		window:          w,
		store:           store,
		est:             est,
		interval:        defaultInterval,
		now:             time.Now,
		breakerFailures: defaultBreakerFailures,
		breakerTimeout:  defaultBreakerTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logger.Named("trainer")
	}
	if t.engine == nil {
		t.engine = similarity.NewEngine()
	}

	failures := t.breakerFailures
	t.breaker = gobreaker.NewCircuitBreaker[window.RefreshStats](gobreaker.Settings{
		Name:        "train-item-source",
		MaxRequests: 1,
		Timeout:     t.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			t.logger.Warn(context.Background(), "circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	})
	return t
}

// Serve runs a cycle immediately and then on every interval until ctx is
// done. Cycle failures are logged and retried on the next tick.
func (t *Trainer) Serve(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		if _, err := t.RunCycle(ctx); err != nil && ctx.Err() == nil {
			t.logger.Error(ctx, "training cycle failed", logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle performs one refresh, aggregate, similarity and persist pass.
// A cancelled context discards the cycle without writing anything.
func (t *Trainer) RunCycle(ctx context.Context) (Report, error) {
	t.cycleMu.Lock()
	defer t.cycleMu.Unlock()

	start := t.now()
	rep := Report{ID: uuid.NewString(), StartedAt: start}
	log := t.logger.With(logger.String("cycle_id", rep.ID))

	stats, err := t.breaker.Execute(func() (window.RefreshStats, error) {
		return t.window.Refresh(ctx, start)
	})
	if err != nil {
		outcome := "refresh_error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			outcome = "skipped"
		}
		metrics.RecordTrainingCycle(outcome, time.Since(start))
		metrics.RecordErrorByComponent("trainer", outcome)
		return rep, fmt.Errorf("refresh window: %w", err)
	}
	rep.Pulled, rep.Evicted = stats.Pulled, stats.Evicted
	rep.WindowSize, rep.Watermark = stats.Size, stats.Watermark
	metrics.RecordWindowRefresh(stats.Pulled, stats.Evicted)
	metrics.UpdateWindowItems(stats.Size)

	agg := aggregate.Aggregate(t.window.Items(), t.est)
	rep.DroppedVehicles, rep.DroppedPairs = len(agg.DroppedVehicles), len(agg.DroppedPairs)
	if rep.DroppedVehicles > 0 || rep.DroppedPairs > 0 {
		log.Warn(ctx, "dropped degenerate samples",
			logger.Int("vehicles", rep.DroppedVehicles),
			logger.Int("pairs", rep.DroppedPairs),
		)
		metrics.RecordDegenerateSamples("vehicle", rep.DroppedVehicles)
		metrics.RecordDegenerateSamples("pair", rep.DroppedPairs)
	}

	simStart := time.Now()
	sim, err := t.engine.Compute(ctx, similarity.BuildMatrix(agg.Baseline, agg.Observed))
	if err != nil {
		metrics.RecordTrainingCycle("cancelled", time.Since(start))
		return rep, fmt.Errorf("compute similarity: %w", err)
	}
	rep.Vehicles, rep.Pairs = len(agg.Baseline), sim.Pairs
	metrics.RecordSimilarity(len(sim.Similar), sim.Pairs, time.Since(simStart))

	updatedAt := t.now().UTC()
	models := make([]model.VehicleModel, 0, len(agg.Baseline))
	for tank, ratio := range agg.Baseline {
		models = append(models, model.VehicleModel{
			TankID:       tank,
			VictoryRatio: ratio,
			Similar:      sim.Similar[tank],
			UpdatedAt:    updatedAt,
		})
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordTrainingCycle("cancelled", time.Since(start))
		return rep, err
	}
	if err := t.store.UpsertVehicleModels(ctx, models); err != nil {
		metrics.RecordTrainingCycle("persist_error", time.Since(start))
		metrics.RecordErrorByComponent("trainer", "persist")
		return rep, fmt.Errorf("persist vehicle models: %w", err)
	}

	rep.Duration = time.Since(start)
	metrics.RecordTrainingCycle("success", rep.Duration)

	t.mu.Lock()
	t.baseline = agg.Baseline
	t.last = &rep
	t.mu.Unlock()

	log.Info(ctx, "training cycle finished",
		logger.Int("pulled", rep.Pulled),
		logger.Int("evicted", rep.Evicted),
		logger.Int("window", rep.WindowSize),
		logger.Int("vehicles", rep.Vehicles),
		logger.Int("pairs", rep.Pairs),
		logger.Duration("duration", rep.Duration),
	)
	return rep, nil
}

// Baseline returns the vehicle baseline of the last successful cycle.
func (t *Trainer) Baseline(tank model.TankID) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.baseline[tank]
	return b, ok
}

// LastReport returns the report of the last successful cycle.
func (t *Trainer) LastReport() (Report, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.last == nil {
		return Report{}, false
	}
	return *t.last, true
}

// BreakerState reports the train item source breaker state.
func (t *Trainer) BreakerState() string {
	return t.breaker.State().String()
}

// String names the service in supervisor logs.
func (t *Trainer) String() string {
	return "trainer"
}

// Package service wires the stores, the retraining loop and the factor path
// together and implements the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/okian/blitzrec/internal/adapters/mq/ingest"
	"github.com/okian/blitzrec/internal/adapters/mq/queue"
	"github.com/okian/blitzrec/internal/adapters/mq/worker"
	"github.com/okian/blitzrec/internal/adapters/repository"
	"github.com/okian/blitzrec/internal/config"
	"github.com/okian/blitzrec/internal/domain/dedupe"
	"github.com/okian/blitzrec/internal/domain/estimator"
	"github.com/okian/blitzrec/internal/domain/factors"
	"github.com/okian/blitzrec/internal/domain/model"
	"github.com/okian/blitzrec/internal/domain/recommend"
	"github.com/okian/blitzrec/internal/domain/similarity"
	"github.com/okian/blitzrec/internal/domain/types"
	"github.com/okian/blitzrec/internal/domain/window"
	"github.com/okian/blitzrec/internal/trainer"
	"github.com/okian/blitzrec/pkg/logger"
	"github.com/okian/blitzrec/pkg/metrics"
)

const (
	supervisorTimeout = 30 * time.Second
	flushTick         = 5 * time.Second
	baselineTimeout   = 2 * time.Second
)

// Sentinel kinds for service errors.
var (
	ErrNotStarted = errors.New("service not started")
	ErrQueueFull  = errors.New("observation queue full")
)

// Service implements the API dependencies of the recommender.
type Service struct {
	mu sync.RWMutex

	cfg    config.Config
	logger logger.Logger

	sqlite      *repository.SQLiteStore
	factorStore *repository.FactorStore
	est         estimator.Estimator
	window      *window.Window
	trainer     *trainer.Trainer
	recommender *recommend.Recommender
	factors     *factors.Cache
	deduper     dedupe.Deduper
	queue       *queue.InMemoryQueue
	pool        *worker.Pool
	nc          *nats.Conn

	cancel  context.CancelFunc
	errCh   <-chan error
	started bool
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service from cfg. Nothing is opened until Start.
func New(cfg *config.Config, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.New()
	}
	s := &Service{cfg: *cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("service")
	}
	return s
}

// Start opens the stores, builds the components and starts the supervised
// background services.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting recommender service...")

	est, err := estimator.New(s.cfg.ConfidenceLevel, s.cfg.ConfidenceZ, s.cfg.ContinuityCorrection)
	if err != nil {
		return fmt.Errorf("build estimator: %w", err)
	}
	s.est = est

	if s.sqlite, err = repository.OpenSQLite(ctx, s.cfg.DBPath); err != nil {
		return err
	}
	if s.factorStore, err = repository.OpenFactorStore(s.cfg.FactorsPath, s.cfg.AccountTTL); err != nil {
		_ = s.sqlite.Close()
		return err
	}

	s.window = window.New(s.sqlite,
		window.WithPeriod(s.cfg.TrainPeriod),
		window.WithPageSize(s.cfg.PullPageSize),
		window.WithPullTimeout(s.cfg.PullTimeout),
		window.WithRealm(s.cfg.Realm),
	)
	s.trainer = trainer.New(s.window, s.sqlite, est,
		trainer.WithInterval(s.cfg.TrainInterval),
		trainer.WithEngine(similarity.NewEngine(similarity.WithConcurrency(s.cfg.SimilarityConcurrency))),
		trainer.WithBreaker(s.cfg.BreakerFailures, s.cfg.BreakerTimeout),
	)
	s.recommender = recommend.New(s.sqlite, est)
	s.factors = factors.New(s.factorStore,
		factors.WithFactors(s.cfg.NFactors),
		factors.WithLearningRate(s.cfg.LearningRate),
		factors.WithRegularization(s.cfg.Regularization),
		factors.WithStd(s.cfg.FactorStd),
		factors.WithCapacity(s.cfg.AccountCacheCapacity),
		factors.WithFlushInterval(s.cfg.FlushInterval),
		factors.WithBaseline(s.baseline, s.cfg.DefaultBaseline),
	)
	s.deduper = dedupe.New(dedupe.WithMaxSize(s.cfg.DedupeSize))
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.cfg.EventQueueSize))
	s.pool = worker.NewPool(s.cfg.WorkerCount, s.queue, s.factors)

	sup := suture.New("blitzrec", suture.Spec{
		EventHook: (&sutureslog.Handler{Logger: logger.Slog()}).MustHook(),
		Timeout:   supervisorTimeout,
	})
	sup.Add(s.trainer)
	sup.Add(s.pool)
	sup.Add(trainer.NewFlushService(s.factors, flushTick))

	if s.cfg.NATSURL != "" {
		consumer, err := s.connectFeed()
		if err != nil {
			s.closeStores(ctx)
			return err
		}
		sup.Add(consumer)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.errCh = sup.ServeBackground(runCtx)
	s.started = true

	s.logger.Info(ctx, "recommender service started",
		logger.Int("workers", s.cfg.WorkerCount),
		logger.Int("queueSize", s.cfg.EventQueueSize),
		logger.Int("dedupeSize", s.cfg.DedupeSize),
		logger.Bool("feed", s.nc != nil),
	)
	return nil
}

func (s *Service) connectFeed() (*ingest.Consumer, error) {
	nc, err := nats.Connect(s.cfg.NATSURL,
		nats.Name("blitzrec"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	s.nc = nc
	return ingest.NewConsumer(js, s.sqlite, s,
		ingest.WithStream(s.cfg.NATSStream),
		ingest.WithSubject(s.cfg.NATSSubject),
		ingest.WithDurable(s.cfg.NATSDurable),
	), nil
}

// Stop stops the background services, drains the observation queue,
// flushes the factor cache and closes the stores.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping recommender service...")

	s.cancel()
	select {
	case err := <-s.errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn(ctx, "supervisor stopped with error", logger.Error(err))
		}
	case <-ctx.Done():
		s.logger.Warn(ctx, "supervisor shutdown timed out")
	}

	if s.nc != nil {
		s.nc.Close()
		s.nc = nil
	}
	if err := s.factors.Flush(ctx); err != nil {
		s.logger.Error(ctx, "final factor flush failed", logger.Error(err))
	}
	s.closeStores(ctx)

	s.started = false
	s.logger.Info(ctx, "recommender service stopped")
	return nil
}

func (s *Service) closeStores(ctx context.Context) {
	if err := s.factorStore.Close(); err != nil {
		s.logger.Error(ctx, "error closing factor store", logger.Error(err))
	}
	if err := s.sqlite.Close(); err != nil {
		s.logger.Error(ctx, "error closing database", logger.Error(err))
	}
}

// baseline feeds the factor path: the last cycle's snapshot first, then the
// persisted model.
func (s *Service) baseline(ctx context.Context, tank model.TankID) (float64, bool) {
	if b, ok := s.trainer.Baseline(tank); ok {
		return b, true
	}
	lookupCtx, cancel := context.WithTimeout(ctx, baselineTimeout)
	defer cancel()
	m, err := s.sqlite.GetVehicleModel(lookupCtx, tank)
	if err != nil {
		return 0, false
	}
	return m.VictoryRatio, true
}

// SeenAndRecord atomically checks if an observation id was seen and records it if not.
func (s *Service) SeenAndRecord(ctx context.Context, id string) bool {
	seen := s.deduper.SeenAndRecord(ctx, id)
	if seen {
		metrics.RecordObservationDuplicate()
	}
	return seen
}

// Unrecord forgets an observation id so it can be retried.
func (s *Service) Unrecord(ctx context.Context, id string) {
	s.deduper.Unrecord(ctx, id)
}

// Size returns the number of remembered observation ids.
func (s *Service) Size() int {
	if s.deduper == nil {
		return 0
	}
	return s.deduper.Size()
}

// Enqueue submits an observation to the factor path. It returns false on
// backpressure.
func (s *Service) Enqueue(ctx context.Context, obs model.Observation) bool {
	if !s.queue.Enqueue(ctx, obs) {
		return false
	}
	metrics.RecordObservationAccepted()
	return true
}

// SubmitObservation dedupes and enqueues an observation from the feed.
func (s *Service) SubmitObservation(ctx context.Context, obs model.Observation) error {
	if s.SeenAndRecord(ctx, obs.EventID) {
		return nil
	}
	if !s.Enqueue(ctx, obs) {
		s.Unrecord(ctx, obs.EventID)
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrQueueFull
	}
	return nil
}

// Recommend serves similarity-weighted predictions.
func (s *Service) Recommend(ctx context.Context, req types.RecommendRequest) (types.RecommendResponse, error) {
	start := time.Now()

	known := make([]recommend.Known, 0, len(req.Given))
	for _, g := range req.Given {
		k := recommend.Known{
			TankID: model.TankID(g.TankID),
			Sample: model.Sample{NBattles: g.NBattles, NWins: g.NWins},
		}
		if g.Residual != nil {
			k.Residual, k.HasResidual = *g.Residual, true
		}
		known = append(known, k)
	}
	targets := make([]model.TankID, len(req.Predict))
	for i, id := range req.Predict {
		targets[i] = model.TankID(id)
	}

	minP := s.cfg.MinPrediction
	if req.MinPrediction != nil {
		minP = *req.MinPrediction
	}

	all := s.recommender.Recommend(ctx, known, targets)
	out := make([]model.Prediction, 0, len(all))
	for _, p := range all {
		if p.P >= minP {
			out = append(out, p)
		}
	}

	metrics.RecordRecommendation(len(out), float64(time.Since(start).Milliseconds()))
	return types.RecommendResponse{Predictions: out}, nil
}

// PredictAccount serves latent factor predictions.
func (s *Service) PredictAccount(ctx context.Context, account uint32, tanks []uint32) (types.AccountPredictions, error) {
	targets := make([]model.TankID, len(tanks))
	for i, id := range tanks {
		targets[i] = model.TankID(id)
	}
	ps, err := s.factors.Predict(ctx, model.AccountID(account), targets)
	if err != nil {
		return types.AccountPredictions{}, err
	}
	return types.AccountPredictions{AccountID: account, Predictions: ps}, nil
}

// Vehicle returns the stored model of one vehicle.
func (s *Service) Vehicle(ctx context.Context, tank uint32) (types.Vehicle, error) {
	m, err := s.sqlite.GetVehicleModel(ctx, model.TankID(tank))
	if err != nil {
		return types.Vehicle{}, err
	}
	return types.NewVehicle(m), nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.cfg.WorkerCount,
		"queueSize":   s.cfg.EventQueueSize,
		"dedupeSize":  s.cfg.DedupeSize,
		"realm":       s.cfg.Realm,
	}
	if !s.started {
		return stats
	}

	ctx, cancel := context.WithTimeout(context.Background(), baselineTimeout)
	defer cancel()

	queueLen := s.queue.Len()
	fs := s.factors.Stats()
	stats["queueLength"] = queueLen
	stats["dedupeEntries"] = s.deduper.Size()
	stats["windowItems"] = s.window.Len()
	stats["watermark"] = s.window.Watermark()
	stats["breaker"] = s.trainer.BreakerState()
	stats["factors"] = fs
	if n, err := s.sqlite.CountTrainItems(ctx); err == nil {
		stats["trainItems"] = n
	}
	if n, err := s.sqlite.CountVehicleModels(ctx); err == nil {
		stats["vehicleModels"] = n
	}
	if rep, ok := s.trainer.LastReport(); ok {
		stats["lastCycle"] = rep
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	metrics.UpdateSystemMemoryUsage(mem.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	metrics.UpdateFactorCache(fs.Accounts, fs.Vehicles, fs.Dirty)
	return stats
}

// RunCycle triggers a retraining cycle outside the schedule.
func (s *Service) RunCycle(ctx context.Context) (trainer.Report, error) {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		return trainer.Report{}, ErrNotStarted
	}
	return s.trainer.RunCycle(ctx)
}

// AppendTrainItems stores train items, e.g. from a backfill.
func (s *Service) AppendTrainItems(ctx context.Context, items []model.TrainItem) error {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}
	return s.sqlite.AppendTrainItems(ctx, items)
}

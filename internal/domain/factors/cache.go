package factors

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/okian/blitzrec/internal/domain/model"
	"github.com/okian/blitzrec/pkg/logger"
	"github.com/okian/blitzrec/pkg/metrics"
)

const (
	defaultFactors        = 9
	defaultLearningRate   = 0.005
	defaultRegularization = 0.02
	defaultStd            = 0.1
	defaultCapacity       = 100_000
	defaultFlushInterval  = time.Minute
	defaultBaseline       = 0.5
)

// Store persists latent vectors. Implementations return ErrNotFound for
// absent keys and ErrCorrupt for undecodable bytes.
type Store interface {
	LoadAccount(ctx context.Context, id model.AccountID) ([]float64, error)
	LoadVehicles(ctx context.Context) (map[model.TankID][]float64, error)
	SaveAccounts(ctx context.Context, vecs map[model.AccountID][]float64) error
	SaveVehicles(ctx context.Context, vecs map[model.TankID][]float64) error
}

// BaselineFunc returns the population win rate of a vehicle when known.
type BaselineFunc func(ctx context.Context, tank model.TankID) (float64, bool)

// State is the lifecycle of a cached account vector.
type State int

const (
	Uninitialized State = iota
	Initialized
	Modified
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Modified:
		return "modified"
	default:
		return "uninitialized"
	}
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Accounts  int       `json:"accounts"`
	Vehicles  int       `json:"vehicles"`
	Dirty     int       `json:"dirty"`
	LastFlush time.Time `json:"last_flush"`
}

type accountEntry struct {
	id  model.AccountID
	vec []float64
}

// Cache owns latent vectors between flushes. Accounts are kept in an LRU
// that is only shrunk during Flush and never loses a dirty entry; vehicles
// live in a plain map that is always flushed in full. One mutex guards all
// in-memory state and store I/O happens outside it.
type Cache struct {
	store  Store
	logger logger.Logger

	nFactors        int
	learningRate    float64
	regularization  float64
	std             float64
	capacity        int
	flushInterval   time.Duration
	baseline        BaselineFunc
	defaultBaseline float64
	now             func() time.Time

	flushMu    sync.Mutex
	vehiclesMu sync.Mutex

	mu             sync.Mutex
	lru            *list.List
	accounts       map[model.AccountID]*list.Element
	vehicles       map[model.TankID][]float64
	vehiclesLoaded bool
	dirty          map[model.AccountID]struct{}
	lastFlush      time.Time
}

// New creates a Cache backed by store.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:           store,
		nFactors:        defaultFactors,
		learningRate:    defaultLearningRate,
		regularization:  defaultRegularization,
		std:             defaultStd,
		capacity:        defaultCapacity,
		flushInterval:   defaultFlushInterval,
		defaultBaseline: defaultBaseline,
		now:             time.Now,
		lru:             list.New(),
		accounts:        make(map[model.AccountID]*list.Element),
		vehicles:        make(map[model.TankID][]float64),
		dirty:           make(map[model.AccountID]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Named("factors")
	}
	c.lastFlush = c.now()
	return c
}

// Observe trains the account and vehicle vectors on one observation and
// flushes when the flush interval has elapsed.
func (c *Cache) Observe(ctx context.Context, obs model.Observation) error {
	if obs.NBattles == 0 {
		return ErrEmptyObservation
	}
	if err := c.ensureVehicles(ctx); err != nil {
		return err
	}
	label := float64(obs.NWins)/float64(obs.NBattles) - c.baselineFor(ctx, obs.TankID)

	err := c.withAccount(ctx, obs.AccountID, func(x []float64) {
		y := c.vehicleLocked(obs.TankID)
		e := label - Dot(x, y)
		SGDStep(x, y, e, c.learningRate, c.regularization)
		c.dirty[obs.AccountID] = struct{}{}
	})
	if err != nil {
		return err
	}
	metrics.RecordFactorUpdate()

	if _, err := c.MaybeFlush(ctx); err != nil {
		c.logger.Warn(ctx, "periodic flush failed", logger.Error(err))
	}
	return nil
}

// Predict returns baseline + x·y clamped to [0,1] for every target, sorted
// by p descending.
func (c *Cache) Predict(ctx context.Context, account model.AccountID, targets []model.TankID) ([]model.Prediction, error) {
	if err := c.ensureVehicles(ctx); err != nil {
		return nil, err
	}
	targets = slices.Compact(slices.Sorted(slices.Values(targets)))
	baselines := make([]float64, len(targets))
	for i, t := range targets {
		baselines[i] = c.baselineFor(ctx, t)
	}

	out := make([]model.Prediction, 0, len(targets))
	err := c.withAccount(ctx, account, func(x []float64) {
		for i, t := range targets {
			p := baselines[i] + Dot(x, c.vehicleLocked(t))
			out = append(out, model.Prediction{TankID: t, P: min(max(p, 0), 1)})
		}
	})
	if err != nil {
		return nil, err
	}
	model.SortPredictions(out)
	return out, nil
}

// State reports the lifecycle state of an account.
func (c *Cache) State(account model.AccountID) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.accounts[account]; !ok {
		return Uninitialized
	}
	if _, ok := c.dirty[account]; ok {
		return Modified
	}
	return Initialized
}

// Stats returns cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statsLocked()
}

func (c *Cache) statsLocked() Stats {
	return Stats{
		Accounts:  c.lru.Len(),
		Vehicles:  len(c.vehicles),
		Dirty:     len(c.dirty),
		LastFlush: c.lastFlush,
	}
}

// MaybeFlush flushes when the flush interval has elapsed since the last
// flush and no other flush is running. It reports whether a flush ran.
func (c *Cache) MaybeFlush(ctx context.Context) (bool, error) {
	if !c.due() || !c.flushMu.TryLock() {
		return false, nil
	}
	defer c.flushMu.Unlock()
	if !c.due() {
		return false, nil
	}
	return true, c.flushLocked(ctx)
}

// Flush writes every dirty account and the full vehicle map, then shrinks
// the account cache to capacity. Entries whose write failed stay dirty.
func (c *Cache) Flush(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()
	return c.flushLocked(ctx)
}

func (c *Cache) due() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Sub(c.lastFlush) >= c.flushInterval
}

func (c *Cache) flushLocked(ctx context.Context) error {
	start := c.now()

	c.mu.Lock()
	accounts := make(map[model.AccountID][]float64, len(c.dirty))
	for id := range c.dirty {
		if el, ok := c.accounts[id]; ok {
			accounts[id] = slices.Clone(el.Value.(*accountEntry).vec)
		}
	}
	clear(c.dirty)
	vehicles := make(map[model.TankID][]float64, len(c.vehicles))
	for id, v := range c.vehicles {
		vehicles[id] = slices.Clone(v)
	}
	c.lastFlush = start
	c.mu.Unlock()

	err := c.write(ctx, accounts, vehicles)

	c.mu.Lock()
	if err != nil {
		for id := range accounts {
			c.dirty[id] = struct{}{}
		}
	}
	evicted := c.evictLocked()
	stats := c.statsLocked()
	c.mu.Unlock()

	metrics.RecordFactorFlush(c.now().Sub(start), err)
	metrics.UpdateFactorCache(stats.Accounts, stats.Vehicles, stats.Dirty)
	c.logger.Debug(ctx, "flushed latent factors",
		logger.Int("accounts", len(accounts)),
		logger.Int("vehicles", len(vehicles)),
		logger.Int("evicted", evicted),
		logger.Bool("failed", err != nil),
	)
	return err
}

func (c *Cache) write(ctx context.Context, accounts map[model.AccountID][]float64, vehicles map[model.TankID][]float64) error {
	var errs []error
	if len(accounts) > 0 {
		if err := c.store.SaveAccounts(ctx, accounts); err != nil {
			errs = append(errs, fmt.Errorf("save accounts: %w", err))
		}
	}
	if len(vehicles) > 0 {
		if err := c.store.SaveVehicles(ctx, vehicles); err != nil {
			errs = append(errs, fmt.Errorf("save vehicles: %w", err))
		}
	}
	return errors.Join(errs...)
}

// evictLocked drops least recently used clean accounts until the cache fits.
func (c *Cache) evictLocked() int {
	evicted := 0
	for el := c.lru.Back(); el != nil && c.lru.Len() > c.capacity; {
		prev := el.Prev()
		e := el.Value.(*accountEntry)
		if _, dirty := c.dirty[e.id]; !dirty {
			c.lru.Remove(el)
			delete(c.accounts, e.id)
			evicted++
		}
		el = prev
	}
	return evicted
}

// withAccount runs fn under the cache mutex with the live account vector,
// loading it from the store first when it is not cached.
func (c *Cache) withAccount(ctx context.Context, id model.AccountID, fn func(x []float64)) error {
	for {
		c.mu.Lock()
		if el, ok := c.accounts[id]; ok {
			c.lru.MoveToFront(el)
			fn(el.Value.(*accountEntry).vec)
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()

		vec, err := c.loadAccount(ctx, id)
		if err != nil {
			return err
		}

		c.mu.Lock()
		if _, ok := c.accounts[id]; !ok {
			c.accounts[id] = c.lru.PushFront(&accountEntry{id: id, vec: vec})
		}
		c.mu.Unlock()
	}
}

func (c *Cache) loadAccount(ctx context.Context, id model.AccountID) ([]float64, error) {
	vec, err := c.store.LoadAccount(ctx, id)
	switch {
	case err == nil && len(vec) == c.nFactors:
		return vec, nil
	case err == nil:
		metrics.RecordFactorReinit("length")
	case errors.Is(err, ErrNotFound):
		metrics.RecordFactorReinit("absent")
	case errors.Is(err, ErrCorrupt):
		c.logger.Warn(ctx, "discarding corrupt account vector", logger.Uint32("account_id", uint32(id)), logger.Error(err))
		metrics.RecordFactorReinit("corrupt")
	default:
		return nil, fmt.Errorf("load account %d: %w", id, err)
	}
	return gaussian(c.nFactors, c.std), nil
}

// vehicleLocked returns the live vehicle vector, initializing it on first use.
func (c *Cache) vehicleLocked(id model.TankID) []float64 {
	v, ok := c.vehicles[id]
	if !ok {
		v = gaussian(c.nFactors, c.std)
		c.vehicles[id] = v
	}
	return v
}

// ensureVehicles loads the persisted vehicle map once.
func (c *Cache) ensureVehicles(ctx context.Context) error {
	c.mu.Lock()
	loaded := c.vehiclesLoaded
	c.mu.Unlock()
	if loaded {
		return nil
	}

	c.vehiclesMu.Lock()
	defer c.vehiclesMu.Unlock()

	c.mu.Lock()
	loaded = c.vehiclesLoaded
	c.mu.Unlock()
	if loaded {
		return nil
	}

	stored, err := c.store.LoadVehicles(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		stored = nil
	case errors.Is(err, ErrCorrupt):
		c.logger.Warn(ctx, "discarding corrupt vehicle vectors", logger.Error(err))
		metrics.RecordFactorReinit("corrupt")
		stored = nil
	default:
		return fmt.Errorf("load vehicles: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, v := range stored {
		if len(v) != c.nFactors {
			metrics.RecordFactorReinit("length")
			continue
		}
		if _, ok := c.vehicles[id]; !ok {
			c.vehicles[id] = v
		}
	}
	c.vehiclesLoaded = true
	return nil
}

func (c *Cache) baselineFor(ctx context.Context, tank model.TankID) float64 {
	if c.baseline != nil {
		if b, ok := c.baseline(ctx, tank); ok {
			return b
		}
	}
	return c.defaultBaseline
}

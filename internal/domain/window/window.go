// Package window keeps the time-bounded set of train items used by a
// retraining cycle.
//
// Items are pulled from an append-only source by watermark and evicted once
// their last battle falls outside the training period. Eviction and pulling
// commute: a pulled item older than the cutoff is never appended.
package window

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/okian/blitzrec/internal/domain/model"
)

const (
	defaultPeriod      = 14 * 24 * time.Hour
	defaultPageSize    = 10_000
	defaultPullTimeout = 30 * time.Second
)

// Query selects one page of train items from a Source.
type Query struct {
	After int64     // exclusive lower bound on item ID
	Since time.Time // inclusive lower bound on last battle time
	Realm string    // empty matches every realm
	Limit int
}

// Source returns train items ordered by ascending ID.
type Source interface {
	PullTrainItems(ctx context.Context, q Query) ([]model.TrainItem, error)
}

// RefreshStats reports what a refresh changed.
type RefreshStats struct {
	Pulled    int
	Evicted   int
	Size      int
	Watermark int64
}

// Window is safe for concurrent use; Refresh calls are serialized.
type Window struct {
	source      Source
	period      time.Duration
	pageSize    int
	pullTimeout time.Duration
	realm       string

	refreshMu sync.Mutex

	mu        sync.RWMutex
	items     []model.TrainItem
	watermark int64
}

// New creates a window over source.
func New(source Source, opts ...Option) *Window {
	w := &Window{
		source:      source,
		period:      defaultPeriod,
		pageSize:    defaultPageSize,
		pullTimeout: defaultPullTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Refresh evicts expired items and appends every item newer than the
// watermark. On a pull error nothing is appended and the watermark is kept,
// so the next refresh retries the same range.
func (w *Window) Refresh(ctx context.Context, now time.Time) (RefreshStats, error) {
	w.refreshMu.Lock()
	defer w.refreshMu.Unlock()

	cutoff := now.Add(-w.period)

	w.mu.RLock()
	after := w.watermark
	w.mu.RUnlock()

	pulled, last, err := w.pull(ctx, after, cutoff)
	if err != nil {
		// still evict so a flaky source does not pin stale items
		evicted := w.commit(nil, after, cutoff)
		return w.stats(0, evicted), err
	}

	evicted := w.commit(pulled, last, cutoff)
	return w.stats(len(pulled), evicted), nil
}

func (w *Window) pull(ctx context.Context, after int64, cutoff time.Time) ([]model.TrainItem, int64, error) {
	var out []model.TrainItem
	for {
		page, err := w.pullPage(ctx, Query{After: after, Since: cutoff, Realm: w.realm, Limit: w.pageSize})
		if err != nil {
			return nil, 0, err
		}
		for _, it := range page {
			if it.ID > after {
				after = it.ID
			}
			if !it.LastBattleTime.Before(cutoff) {
				out = append(out, it)
			}
		}
		if len(page) < w.pageSize {
			return out, after, nil
		}
	}
}

func (w *Window) pullPage(ctx context.Context, q Query) ([]model.TrainItem, error) {
	ctx, cancel := context.WithTimeout(ctx, w.pullTimeout)
	defer cancel()

	page, err := w.source.PullTrainItems(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("pull train items after %d: %w", q.After, err)
	}
	return page, nil
}

func (w *Window) commit(pulled []model.TrainItem, watermark int64, cutoff time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	before := len(w.items)
	w.items = slices.DeleteFunc(w.items, func(it model.TrainItem) bool {
		return it.LastBattleTime.Before(cutoff)
	})
	evicted := before - len(w.items)

	w.items = append(w.items, pulled...)
	if watermark > w.watermark {
		w.watermark = watermark
	}
	return evicted
}

func (w *Window) stats(pulled, evicted int) RefreshStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return RefreshStats{Pulled: pulled, Evicted: evicted, Size: len(w.items), Watermark: w.watermark}
}

// Items returns a copy of the current items.
func (w *Window) Items() []model.TrainItem {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.items)
}

// Len returns the number of items held.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.items)
}

// Watermark returns the highest source ID seen so far.
func (w *Window) Watermark() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watermark
}

package similarity

import (
	"cmp"
	"context"
	"math"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/okian/blitzrec/internal/domain/model"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithConcurrency bounds the number of rows evaluated at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// Engine computes pairwise similarities over a Matrix.
type Engine struct {
	concurrency int
}

// NewEngine creates an Engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{concurrency: runtime.NumCPU()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type pair struct {
	other      model.TankID
	similarity float64
}

// Result maps each vehicle to its similar vehicles.
type Result struct {
	Similar map[model.TankID][]model.Similar
	Pairs   int // distinct pairs with a finite similarity
}

// Compute evaluates every pair v2 < v1 once and records the similarity on
// both vehicles. Non-finite similarities are dropped. If ctx is canceled the
// partial work is discarded and ctx.Err() returned.
func (e *Engine) Compute(ctx context.Context, m *Matrix) (Result, error) {
	ids := m.ids
	rows := make([][]pair, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i := 1; i < len(ids); i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c1 := m.columns[ids[i]]
			var row []pair
			for j := 0; j < i; j++ {
				s := Cosine(c1, m.columns[ids[j]])
				if math.IsNaN(s) || math.IsInf(s, 0) {
					continue
				}
				row = append(row, pair{other: ids[j], similarity: s})
			}
			rows[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	res := Result{Similar: make(map[model.TankID][]model.Similar, len(ids))}
	for _, id := range ids {
		res.Similar[id] = nil
	}
	for i, row := range rows {
		v1 := ids[i]
		for _, p := range row {
			res.Similar[v1] = append(res.Similar[v1], model.Similar{TankID: p.other, Similarity: p.similarity})
			res.Similar[p.other] = append(res.Similar[p.other], model.Similar{TankID: v1, Similarity: p.similarity})
			res.Pairs++
		}
	}
	for id, list := range res.Similar {
		slices.SortFunc(list, func(a, b model.Similar) int {
			if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
				return c
			}
			return cmp.Compare(a.TankID, b.TankID)
		})
		res.Similar[id] = list
	}
	return res, nil
}

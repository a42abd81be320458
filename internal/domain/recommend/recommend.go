// Package recommend serves similarity-weighted win-rate predictions.
package recommend

import (
	"context"
	"math"
	"slices"

	"github.com/okian/blitzrec/internal/domain/estimator"
	"github.com/okian/blitzrec/internal/domain/model"
	"github.com/okian/blitzrec/pkg/logger"
)

// ModelReader loads stored vehicle models. Missing ids are absent from the result.
type ModelReader interface {
	GetVehicleModels(ctx context.Context, ids []model.TankID) (map[model.TankID]model.VehicleModel, error)
}

// Known is a vehicle the caller has played. When HasResidual is set,
// Residual is used as is; otherwise it is derived from Sample.
type Known struct {
	TankID      model.TankID
	Sample      model.Sample
	Residual    float64
	HasResidual bool
}

// Option applies a configuration option to the Recommender.
type Option func(*Recommender)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Recommender) {
		if l != nil {
			r.logger = l
		}
	}
}

// Recommender is safe for concurrent use.
type Recommender struct {
	store  ModelReader
	est    estimator.Estimator
	logger logger.Logger
}

// New creates a Recommender reading models from store.
func New(store ModelReader, est estimator.Estimator, opts ...Option) *Recommender {
	r := &Recommender{store: store, est: est}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Named("recommend")
	}
	return r
}

// Recommend predicts a win rate for every target that has a stored model
// sharing at least one positively similar vehicle with known. Targets that
// cannot be predicted are left out. A store failure yields no predictions.
func (r *Recommender) Recommend(ctx context.Context, known []Known, targets []model.TankID) []model.Prediction {
	if len(known) == 0 || len(targets) == 0 {
		return []model.Prediction{}
	}

	ids := make([]model.TankID, 0, len(known)+len(targets))
	for _, k := range known {
		ids = append(ids, k.TankID)
	}
	ids = append(ids, targets...)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	models, err := r.store.GetVehicleModels(ctx, ids)
	if err != nil {
		r.logger.Error(ctx, "failed to load vehicle models", logger.Int("ids", len(ids)), logger.Error(err))
		return []model.Prediction{}
	}

	residuals := r.residuals(known, models)
	if len(residuals) == 0 {
		return []model.Prediction{}
	}

	seen := make(map[model.TankID]struct{}, len(targets))
	out := make([]model.Prediction, 0, len(targets))
	for _, target := range targets {
		if _, dup := seen[target]; dup {
			continue
		}
		seen[target] = struct{}{}

		m, ok := models[target]
		if !ok {
			continue
		}
		if p, ok := predict(m, residuals); ok {
			out = append(out, model.Prediction{TankID: target, P: p})
		}
	}
	model.SortPredictions(out)
	return out
}

func (r *Recommender) residuals(known []Known, models map[model.TankID]model.VehicleModel) map[model.TankID]float64 {
	out := make(map[model.TankID]float64, len(known))
	for _, k := range known {
		if k.HasResidual {
			if finite(k.Residual) {
				out[k.TankID] = k.Residual
			}
			continue
		}
		v, err := r.est.VictoryRatio(k.Sample)
		if err != nil {
			continue
		}
		if m, ok := models[k.TankID]; ok {
			v -= m.VictoryRatio
		}
		out[k.TankID] = v
	}
	return out
}

func predict(m model.VehicleModel, residuals map[model.TankID]float64) (float64, bool) {
	var num, den float64
	for _, s := range m.Similar {
		if s.Similarity <= 0 {
			continue
		}
		r, ok := residuals[s.TankID]
		if !ok {
			continue
		}
		num += s.Similarity * r
		den += s.Similarity
	}
	if den == 0 {
		return 0, false
	}
	p := num/den + m.VictoryRatio
	return p, finite(p)
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

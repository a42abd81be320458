// Package aggregate reduces train items into per-vehicle and
// per-(account, vehicle) samples and victory ratios.
package aggregate

import (
	"github.com/okian/blitzrec/internal/domain/estimator"
	"github.com/okian/blitzrec/internal/domain/model"
)

// Key identifies one account's history on one vehicle.
type Key struct {
	TankID    model.TankID
	AccountID model.AccountID
}

// ByVehicle sums samples per tank over every account.
func ByVehicle(items []model.TrainItem) map[model.TankID]model.Sample {
	out := make(map[model.TankID]model.Sample)
	for _, it := range items {
		out[it.TankID] = out[it.TankID].Add(model.Sample{NBattles: it.NBattles, NWins: it.NWins})
	}
	return out
}

// ByAccountVehicle sums samples per (tank, account).
func ByAccountVehicle(items []model.TrainItem) map[Key]model.Sample {
	out := make(map[Key]model.Sample)
	for _, it := range items {
		k := Key{TankID: it.TankID, AccountID: it.AccountID}
		out[k] = out[k].Add(model.Sample{NBattles: it.NBattles, NWins: it.NWins})
	}
	return out
}

// VictoryRatios converts samples with est. Degenerate samples are left out
// and returned separately.
func VictoryRatios[K comparable](samples map[K]model.Sample, est estimator.Estimator) (map[K]float64, []K) {
	out := make(map[K]float64, len(samples))
	var dropped []K
	for k, s := range samples {
		v, err := est.VictoryRatio(s)
		if err != nil {
			dropped = append(dropped, k)
			continue
		}
		out[k] = v
	}
	return out, dropped
}

// Result holds one cycle's victory ratios.
type Result struct {
	Baseline        map[model.TankID]float64
	Observed        map[Key]float64
	DroppedVehicles []model.TankID
	DroppedPairs    []Key
}

// Aggregate runs both reductions over items and converts them with est.
func Aggregate(items []model.TrainItem, est estimator.Estimator) Result {
	var r Result
	r.Baseline, r.DroppedVehicles = VictoryRatios(ByVehicle(items), est)
	r.Observed, r.DroppedPairs = VictoryRatios(ByAccountVehicle(items), est)
	return r
}

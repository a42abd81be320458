// Package model contains domain models passed between layers.
package model

import (
	"cmp"
	"slices"
	"time"
)

// TankID identifies a vehicle.
type TankID uint32

// AccountID identifies a player within a realm.
type AccountID uint32

// TrainItem is one per-(account, vehicle) battle delta produced by the crawler.
type TrainItem struct {
	ID             int64 // source cursor, strictly increasing in insertion order
	Realm          string
	AccountID      AccountID
	TankID         TankID
	LastBattleTime time.Time
	NBattles       uint32
	NWins          uint32
}

// Sample accumulates battles and wins.
type Sample struct {
	NBattles uint32
	NWins    uint32
}

// Add returns the element-wise sum of s and o.
func (s Sample) Add(o Sample) Sample {
	return Sample{NBattles: s.NBattles + o.NBattles, NWins: s.NWins + o.NWins}
}

// WinRate is the raw proportion of wins. NaN for an empty sample.
func (s Sample) WinRate() float64 {
	return float64(s.NWins) / float64(s.NBattles)
}

// Similar is one edge of a vehicle's similarity list.
type Similar struct {
	TankID     TankID  `json:"tank_id"`
	Similarity float64 `json:"similarity"`
}

// VehicleModel is the persisted per-vehicle document.
type VehicleModel struct {
	TankID       TankID
	VictoryRatio float64 // vehicle baseline
	Similar      []Similar
	UpdatedAt    time.Time
}

// Prediction is an estimated win rate for a vehicle.
type Prediction struct {
	TankID TankID  `json:"tank_id"`
	P      float64 `json:"p"`
}

// SortPredictions orders by P descending, ties by tank id ascending.
func SortPredictions(ps []Prediction) {
	slices.SortStableFunc(ps, func(a, b Prediction) int {
		if c := cmp.Compare(b.P, a.P); c != 0 {
			return c
		}
		return cmp.Compare(a.TankID, b.TankID)
	})
}

// Observation is a single battle outcome fed to the latent factor model.
type Observation struct {
	EventID   string
	Realm     string
	AccountID AccountID
	TankID    TankID
	NBattles  uint32
	NWins     uint32
	TS        time.Time
}

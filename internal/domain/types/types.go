// Package types contains the JSON shapes exchanged over the HTTP API.
package types

import (
	"time"

	"github.com/okian/blitzrec/internal/domain/model"
)

// Known is one vehicle the caller has played: either a raw sample or a
// residual already relative to the vehicle baseline.
type Known struct {
	TankID   uint32   `json:"tank_id" validate:"required"`
	NBattles uint32   `json:"n_battles,omitempty" validate:"required_without=Residual"`
	NWins    uint32   `json:"n_wins,omitempty" validate:"ltefield=NBattles"`
	Residual *float64 `json:"residual,omitempty" validate:"omitempty,gte=-1,lte=1"`
}

// RecommendRequest is the body of POST /recommendations.
type RecommendRequest struct {
	Given         []Known  `json:"given" validate:"max=10000,dive"`
	Predict       []uint32 `json:"predict" validate:"max=10000,dive,required"`
	MinPrediction *float64 `json:"min_prediction,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// RecommendResponse lists predictions ordered by p descending.
type RecommendResponse struct {
	Predictions []model.Prediction `json:"predictions"`
}

// ObservationRequest is the body of POST /observations.
type ObservationRequest struct {
	EventID   string `json:"event_id" validate:"required,max=128"`
	Realm     string `json:"realm" validate:"omitempty,max=16"`
	AccountID uint32 `json:"account_id" validate:"required"`
	TankID    uint32 `json:"tank_id" validate:"required"`
	NBattles  uint32 `json:"n_battles" validate:"required"`
	NWins     uint32 `json:"n_wins" validate:"ltefield=NBattles"`
	TS        string `json:"ts" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
}

// Observation converts the request. TS must already be validated.
func (r ObservationRequest) Observation() model.Observation {
	ts, _ := time.Parse(time.RFC3339, r.TS)
	return model.Observation{
		EventID:   r.EventID,
		Realm:     r.Realm,
		AccountID: model.AccountID(r.AccountID),
		TankID:    model.TankID(r.TankID),
		NBattles:  r.NBattles,
		NWins:     r.NWins,
		TS:        ts.UTC(),
	}
}

// AccountPredictions is the body of GET /accounts/{id}/predictions.
type AccountPredictions struct {
	AccountID   uint32             `json:"account_id"`
	Predictions []model.Prediction `json:"predictions"`
}

// Vehicle is the body of GET /vehicles/{id}.
type Vehicle struct {
	TankID       uint32          `json:"tank_id"`
	VictoryRatio float64         `json:"victory_ratio"`
	Similar      []model.Similar `json:"similar"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewVehicle converts a stored model.
func NewVehicle(m model.VehicleModel) Vehicle {
	similar := m.Similar
	if similar == nil {
		similar = []model.Similar{}
	}
	return Vehicle{
		TankID:       uint32(m.TankID),
		VictoryRatio: m.VictoryRatio,
		Similar:      similar,
		UpdatedAt:    m.UpdatedAt,
	}
}

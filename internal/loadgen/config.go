package loadgen

import "time"

// Config holds configuration for a load run.
type Config struct {
	BaseURL         string        // Base URL of the service
	Observations    int           // Number of observations to submit
	Recommendations int           // Number of recommendation requests
	Accounts        int           // Size of the synthetic account population
	Tanks           int           // Size of the synthetic vehicle population
	Workers         int           // Number of concurrent workers
	Timeout         time.Duration // HTTP request timeout
	Settle          time.Duration // Pause between submission and verification
	Seed            uint64        // Seed for the synthetic population
	Verbose         bool          // Log every failed request
}

// Observation mirrors the POST /observations body.
type Observation struct {
	EventID   string `json:"event_id"`
	Realm     string `json:"realm"`
	AccountID uint32 `json:"account_id"`
	TankID    uint32 `json:"tank_id"`
	NBattles  uint32 `json:"n_battles"`
	NWins     uint32 `json:"n_wins"`
	TS        string `json:"ts"`
}

// Known mirrors one given vehicle of a recommendation request.
type Known struct {
	TankID   uint32 `json:"tank_id"`
	NBattles uint32 `json:"n_battles"`
	NWins    uint32 `json:"n_wins"`
}

// RecommendRequest mirrors the POST /recommendations body.
type RecommendRequest struct {
	Given   []Known  `json:"given"`
	Predict []uint32 `json:"predict"`
}

// Prediction is one predicted win rate.
type Prediction struct {
	TankID uint32  `json:"tank_id"`
	P      float64 `json:"p"`
}

// PredictionsResponse covers both prediction endpoints.
type PredictionsResponse struct {
	AccountID   uint32       `json:"account_id,omitempty"`
	Predictions []Prediction `json:"predictions"`
}

// AckResponse represents the response from observation submission.
type AckResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// Stats holds run statistics. Counters are updated atomically.
type Stats struct {
	ObservationsSubmitted  int64
	ObservationsAccepted   int64
	ObservationsDuplicate  int64
	ObservationsRejected   int64
	ObservationsFailed     int64
	RecommendationsServed  int64
	RecommendationsFailed  int64
	PredictionsChecked     int64
	PredictionsOutOfBounds int64
	StartTime              time.Time
	Duration               time.Duration
}

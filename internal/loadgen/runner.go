package loadgen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/blitzrec/pkg/logger"
)

// ErrOutOfBounds is returned when the service predicted a value outside [0,1].
var ErrOutOfBounds = errors.New("prediction outside [0,1]")

// accountProbes bounds the number of accounts asked for factor predictions.
const accountProbes = 100

// Run executes a complete load run and verifies every prediction.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	log := logger.Named("loadgen")
	c := newClient(cfg)

	log.Info(ctx, "starting load run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("observations", cfg.Observations),
		logger.Int("recommendations", cfg.Recommendations),
		logger.Int("workers", cfg.Workers),
		logger.Duration("timeout", cfg.Timeout),
	)

	if err := c.health(ctx); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	pop := newPopulation(cfg)
	obs := pop.observations(cfg.Observations)
	reqs := make([]RecommendRequest, cfg.Recommendations)
	for i := range reqs {
		reqs[i] = pop.recommendation()
	}
	accounts := make([]uint32, 0, accountProbes)
	seen := make(map[uint32]struct{}, accountProbes)
	for _, o := range obs {
		if len(accounts) == accountProbes {
			break
		}
		if _, dup := seen[o.AccountID]; !dup {
			seen[o.AccountID] = struct{}{}
			accounts = append(accounts, o.AccountID)
		}
	}
	sampleTanks := []uint32{pop.tank(), pop.tank(), pop.tank()}

	if err := c.submitObservations(ctx, cfg.Workers, obs, stats); err != nil {
		return stats, fmt.Errorf("observation submission failed: %w", err)
	}

	if cfg.Settle > 0 {
		log.Info(ctx, "waiting for observations to be processed", logger.Duration("settle", cfg.Settle))
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-time.After(cfg.Settle):
		}
	}

	if err := c.recommend(ctx, cfg.Workers, reqs, stats); err != nil {
		return stats, fmt.Errorf("recommendations failed: %w", err)
	}
	if err := c.predictAccounts(ctx, cfg.Workers, accounts, sampleTanks, stats); err != nil {
		return stats, fmt.Errorf("account predictions failed: %w", err)
	}

	stats.Duration = time.Since(stats.StartTime)
	displayFinalStats(ctx, log, stats)

	if stats.PredictionsOutOfBounds > 0 {
		return stats, fmt.Errorf("%w: %d of %d", ErrOutOfBounds, stats.PredictionsOutOfBounds, stats.PredictionsChecked)
	}
	return stats, nil
}

func displayFinalStats(ctx context.Context, log logger.Logger, stats *Stats) {
	var perSecond float64
	if stats.Duration > 0 {
		perSecond = float64(stats.ObservationsSubmitted+stats.RecommendationsServed) / stats.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int64("observationsSubmitted", stats.ObservationsSubmitted),
		logger.Int64("observationsAccepted", stats.ObservationsAccepted),
		logger.Int64("observationsDuplicate", stats.ObservationsDuplicate),
		logger.Int64("observationsRejected", stats.ObservationsRejected),
		logger.Int64("observationsFailed", stats.ObservationsFailed),
		logger.Int64("recommendationsServed", stats.RecommendationsServed),
		logger.Int64("recommendationsFailed", stats.RecommendationsFailed),
		logger.Int64("predictionsChecked", stats.PredictionsChecked),
		logger.Int64("predictionsOutOfBounds", stats.PredictionsOutOfBounds),
		logger.Duration("duration", stats.Duration),
		logger.Float64("requestsPerSecond", perSecond),
	)
}

// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - New() builds a Config with defaults; Load layers file and env on top.
// - Durations are written as Go duration strings ("24h", "30s").
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"runtime"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the slog handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DBPath is the SQLite database holding train items and vehicle models.
	DBPath string `koanf:"db_path"`

	// FactorsPath is the Badger directory for latent vectors. Empty runs in memory.
	FactorsPath string `koanf:"factors_path"`

	// NATS crawler feed. An empty NATSURL disables the consumer.
	NATSURL     string `koanf:"nats_url"`
	NATSStream  string `koanf:"nats_stream"`
	NATSSubject string `koanf:"nats_subject"`
	NATSDurable string `koanf:"nats_durable"`

	// Realm scopes the training window; account ids are realm-local.
	Realm string `koanf:"realm"`

	// ConfidenceLevel is the two-sided level used to derive z when ConfidenceZ is zero.
	ConfidenceLevel float64 `koanf:"confidence_level"`
	// ConfidenceZ overrides the derived z when positive.
	ConfidenceZ float64 `koanf:"confidence_z"`
	// ContinuityCorrection is the c term of the corrected Wilson interval.
	ContinuityCorrection float64 `koanf:"continuity_correction"`

	// TrainPeriod is the width of the train-item window.
	TrainPeriod time.Duration `koanf:"train_period"`
	// TrainInterval is the sleep between retraining cycles.
	TrainInterval time.Duration `koanf:"train_interval"`
	// PullTimeout bounds one pull from the train-item source.
	PullTimeout time.Duration `koanf:"pull_timeout"`
	// PullPageSize is the number of rows fetched per page.
	PullPageSize int `koanf:"pull_page_size"`
	// SimilarityConcurrency bounds the pairwise similarity fan-out.
	SimilarityConcurrency int `koanf:"similarity_concurrency"`

	// MinPrediction is the default threshold for POST /recommendations.
	MinPrediction float64 `koanf:"min_prediction"`

	// EventQueueSize bounds the in-memory observation queue.
	EventQueueSize int `koanf:"queue_size"`
	// WorkerCount sets the number of observation workers.
	WorkerCount int `koanf:"worker_count"`
	// DedupeSize sets the size of the observation deduplication cache.
	DedupeSize int `koanf:"dedupe_size"`

	// Latent factor model.
	NFactors             int           `koanf:"n_factors"`
	LearningRate         float64       `koanf:"learning_rate"`
	Regularization       float64       `koanf:"regularization"`
	FactorStd            float64       `koanf:"factor_std"`
	AccountCacheCapacity int           `koanf:"account_cache_capacity"`
	FlushInterval        time.Duration `koanf:"flush_interval"`
	AccountTTL           time.Duration `koanf:"account_ttl"`
	DefaultBaseline      float64       `koanf:"default_baseline"`

	// BreakerFailures consecutive pull failures open the breaker for BreakerTimeout.
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`

	// RateLimitRPS caps requests per second per client IP. Zero disables it.
	RateLimitRPS int `koanf:"rate_limit_rps"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		LogFormat:             "text",
		Addr:                  ":9080",
		DBPath:                "blitzrec.db",
		FactorsPath:           "factors",
		NATSStream:            "BLITZREC",
		NATSSubject:           "blitzrec.train_items",
		NATSDurable:           "blitzrec-ingest",
		Realm:                 "ru",
		ConfidenceLevel:       0.98,
		ContinuityCorrection:  0.5,
		TrainPeriod:           14 * 24 * time.Hour,
		TrainInterval:         5 * time.Minute,
		PullTimeout:           30 * time.Second,
		PullPageSize:          10_000,
		SimilarityConcurrency: runtime.NumCPU(),
		MinPrediction:         0,
		EventQueueSize:        100_000,
		WorkerCount:           runtime.NumCPU() * 2,
		DedupeSize:            500_000,
		NFactors:              9,
		LearningRate:          0.005,
		Regularization:        0.02,
		FactorStd:             0.1,
		AccountCacheCapacity:  100_000,
		FlushInterval:         time.Minute,
		AccountTTL:            90 * 24 * time.Hour,
		DefaultBaseline:       0.5,
		BreakerFailures:       3,
		BreakerTimeout:        time.Minute,
		RateLimitRPS:          0,
	}
}

// Validate checks value ranges and returns an error wrapping ErrInvalidConfig.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.DBPath == "":
		return fmt.Errorf("%w: db_path must not be empty", ErrInvalidConfig)
	case c.ConfidenceZ <= 0 && (c.ConfidenceLevel <= 0 || c.ConfidenceLevel >= 1):
		return fmt.Errorf("%w: confidence_level must be in (0,1)", ErrInvalidConfig)
	case c.ContinuityCorrection < 0:
		return fmt.Errorf("%w: continuity_correction must not be negative", ErrInvalidConfig)
	case c.TrainPeriod <= 0 || c.TrainInterval <= 0 || c.PullTimeout <= 0:
		return fmt.Errorf("%w: train_period, train_interval and pull_timeout must be positive", ErrInvalidConfig)
	case c.PullPageSize <= 0 || c.SimilarityConcurrency <= 0:
		return fmt.Errorf("%w: pull_page_size and similarity_concurrency must be positive", ErrInvalidConfig)
	case c.MinPrediction < 0 || c.MinPrediction > 1:
		return fmt.Errorf("%w: min_prediction must be in [0,1]", ErrInvalidConfig)
	case c.EventQueueSize <= 0 || c.WorkerCount <= 0 || c.DedupeSize <= 0:
		return fmt.Errorf("%w: queue_size, worker_count and dedupe_size must be positive", ErrInvalidConfig)
	case c.NFactors <= 0 || c.AccountCacheCapacity <= 0:
		return fmt.Errorf("%w: n_factors and account_cache_capacity must be positive", ErrInvalidConfig)
	case c.LearningRate <= 0 || c.Regularization < 0 || c.FactorStd <= 0:
		return fmt.Errorf("%w: learning_rate, regularization or factor_std out of range", ErrInvalidConfig)
	case c.FlushInterval <= 0:
		return fmt.Errorf("%w: flush_interval must be positive", ErrInvalidConfig)
	case c.DefaultBaseline < 0 || c.DefaultBaseline > 1:
		return fmt.Errorf("%w: default_baseline must be in [0,1]", ErrInvalidConfig)
	case c.BreakerFailures == 0 || c.BreakerTimeout <= 0:
		return fmt.Errorf("%w: breaker_failures and breaker_timeout must be positive", ErrInvalidConfig)
	case c.RateLimitRPS < 0:
		return fmt.Errorf("%w: rate_limit_rps must not be negative", ErrInvalidConfig)
	}
	return nil
}

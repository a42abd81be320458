package trainer

import (
	"time"

	"github.com/okian/blitzrec/internal/domain/similarity"
	"github.com/okian/blitzrec/pkg/logger"
)

// Option applies a configuration option to the Trainer.
type Option func(*Trainer)

// WithInterval sets the time between cycles.
func WithInterval(d time.Duration) Option {
	return func(t *Trainer) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithEngine sets the similarity engine.
func WithEngine(e *similarity.Engine) Option {
	return func(t *Trainer) {
		if e != nil {
			t.engine = e
		}
	}
}

// WithBreaker sets how many consecutive refresh failures open the breaker
// and how long it stays open.
func WithBreaker(failures uint32, timeout time.Duration) Option {
	return func(t *Trainer) {
		if failures > 0 {
			t.breakerFailures = failures
		}
		if timeout > 0 {
			t.breakerTimeout = timeout
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Trainer) {
		if now != nil {
			t.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(t *Trainer) {
		if l != nil {
			t.logger = l
		}
	}
}

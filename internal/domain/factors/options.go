package factors

import (
	"time"

	"github.com/okian/blitzrec/pkg/logger"
)

// Option applies a configuration option to the Cache.
type Option func(*Cache)

// WithFactors sets the vector length.
func WithFactors(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.nFactors = n
		}
	}
}

// WithLearningRate sets the SGD step size.
func WithLearningRate(lr float64) Option {
	return func(c *Cache) {
		if lr > 0 {
			c.learningRate = lr
		}
	}
}

// WithRegularization sets the L2 penalty.
func WithRegularization(reg float64) Option {
	return func(c *Cache) {
		if reg >= 0 {
			c.regularization = reg
		}
	}
}

// WithStd sets the standard deviation of fresh vectors.
func WithStd(std float64) Option {
	return func(c *Cache) {
		if std > 0 {
			c.std = std
		}
	}
}

// WithCapacity sets how many accounts stay cached after a flush.
func WithCapacity(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithFlushInterval sets the minimum time between flushes triggered by MaybeFlush.
func WithFlushInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.flushInterval = d
		}
	}
}

// WithBaseline sets the vehicle baseline lookup and its fallback value.
func WithBaseline(fn BaselineFunc, fallback float64) Option {
	return func(c *Cache) {
		c.baseline = fn
		c.defaultBaseline = fallback
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

package ingest

import "github.com/okian/blitzrec/pkg/logger"

// Option configures a Consumer.
type Option func(*Consumer)

// WithStream sets the JetStream stream name.
func WithStream(name string) Option {
	return func(c *Consumer) {
		if name != "" {
			c.stream = name
		}
	}
}

// WithSubject sets the subject the crawler publishes to.
func WithSubject(subject string) Option {
	return func(c *Consumer) {
		if subject != "" {
			c.subject = subject
		}
	}
}

// WithDurable sets the durable consumer name.
func WithDurable(name string) Option {
	return func(c *Consumer) {
		if name != "" {
			c.durable = name
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Consumer) {
		if l != nil {
			c.logger = l
		}
	}
}

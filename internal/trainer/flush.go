package trainer

import (
	"context"
	"time"

	"github.com/okian/blitzrec/pkg/logger"
)

// Flusher is the factor cache persistence surface.
type Flusher interface {
	MaybeFlush(ctx context.Context) (bool, error)
}

// FlushService periodically flushes the factor cache. The final flush on
// shutdown belongs to the owner of the cache, after its writers have stopped.
type FlushService struct {
	cache  Flusher
	every  time.Duration
	logger logger.Logger
}

// NewFlushService checks the cache every tick; the cache decides whether its
// flush interval elapsed.
func NewFlushService(cache Flusher, tick time.Duration) *FlushService {
	if tick <= 0 {
		tick = 10 * time.Second
	}
	return &FlushService{cache: cache, every: tick, logger: logger.Named("factor-flush")}
}

// Serve implements suture.Service.
func (s *FlushService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.cache.MaybeFlush(ctx); err != nil {
				s.logger.Warn(ctx, "factor flush failed, entries stay dirty", logger.Error(err))
			}
		}
	}
}

func (s *FlushService) String() string {
	return "factor-flush"
}

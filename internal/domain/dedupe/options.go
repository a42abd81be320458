package dedupe

// Option configures a deduper created by New.
type Option func(*fifoDeduper)

// WithMaxSize bounds the number of remembered IDs. Zero or negative keeps
// every ID.
func WithMaxSize(n int) Option {
	return func(d *fifoDeduper) {
		d.maxSize = n
	}
}

package window

import "time"

// Option applies a configuration option to the Window.
type Option func(*Window)

// WithPeriod sets how long an item stays in the window after its last battle.
func WithPeriod(period time.Duration) Option {
	return func(w *Window) {
		if period > 0 {
			w.period = period
		}
	}
}

// WithPageSize sets the number of items requested per source page.
func WithPageSize(size int) Option {
	return func(w *Window) {
		if size > 0 {
			w.pageSize = size
		}
	}
}

// WithPullTimeout bounds each page request to the source.
func WithPullTimeout(timeout time.Duration) Option {
	return func(w *Window) {
		if timeout > 0 {
			w.pullTimeout = timeout
		}
	}
}

// WithRealm restricts the window to a single realm.
func WithRealm(realm string) Option {
	return func(w *Window) {
		w.realm = realm
	}
}

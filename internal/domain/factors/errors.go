package factors

import "errors"

var (
	// ErrNotFound is returned by a Store when no vector is persisted.
	ErrNotFound = errors.New("vector not found")
	// ErrCorrupt is returned by a Store when persisted bytes cannot be decoded.
	ErrCorrupt = errors.New("corrupt vector")
	// ErrEmptyObservation is returned for an observation without battles.
	ErrEmptyObservation = errors.New("observation has no battles")
)

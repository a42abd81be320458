package repository

import "errors"

// Sentinel kinds for storage errors.
var (
	ErrNotFound   = errors.New("vehicle model not found")
	ErrInvalidRow = errors.New("invalid stored row")
)

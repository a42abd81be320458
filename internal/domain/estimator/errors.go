package estimator

import "errors"

var (
	// ErrDegenerate is returned when a sample yields a non-finite estimate.
	ErrDegenerate = errors.New("degenerate sample")
	// ErrConfidenceLevel is returned for a confidence level outside (0,1).
	ErrConfidenceLevel = errors.New("confidence level must be in (0,1)")
)

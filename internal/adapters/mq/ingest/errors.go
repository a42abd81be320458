package ingest

import "errors"

// ErrInvalidMessage marks a feed message that can never be processed.
// Such messages are terminated instead of redelivered.
var ErrInvalidMessage = errors.New("invalid train item message")

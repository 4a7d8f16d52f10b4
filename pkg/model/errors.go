package model

import "errors"

var (
	ErrInvalidConfig = errors.New("invalid model config")
	ErrInvalidMetric = errors.New("invalid metric")

	// ErrMissingAnswer is returned when dual mode runs on an example without
	// an answer span.
	ErrMissingAnswer = errors.New("answer span required in dual mode")

	ErrEmptySequence = errors.New("sequence has no valid tokens")
	ErrEmbedSize     = errors.New("embedding width mismatch")
	ErrNoEmbedder    = errors.New("model requires an embedder")
)

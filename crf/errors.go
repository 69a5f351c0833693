package crf

import "errors"

var (
	// ErrInvalidDimensions reports a codebook, parameter or label shape mismatch.
	ErrInvalidDimensions = errors.New("crf: invalid dimensions")
	// ErrUnknownFeature reports a feature symbol or index outside the feature codebook.
	ErrUnknownFeature = errors.New("crf: unknown feature")
	// ErrDegenerateSequence reports an empty sequence or a partition function
	// that is not a finite positive number.
	ErrDegenerateSequence = errors.New("crf: degenerate sequence")
	// ErrEmptyBatch reports a training set that yields no batches.
	ErrEmptyBatch = errors.New("crf: empty batch")
	// ErrInvalidConfig reports an unusable trainer option.
	ErrInvalidConfig = errors.New("crf: invalid config")
)

package memory

import "errors"

var (
	ErrInvalidCategory   = errors.New("invalid memory category")
	ErrInvalidSource     = errors.New("invalid memory source")
	ErrInvalidConfidence = errors.New("confidence must be between 0 and 1")
)

package device

import "errors"

var (
	ErrInvalidAxis     = errors.New("invalid axis")
	ErrOddLength       = errors.New("odd length")
	ErrIndivisible     = errors.New("indivisible resample factor")
	ErrUnknownDim      = errors.New("unknown dimension")
	ErrShapeMismatch   = errors.New("shape mismatch")
	ErrDType           = errors.New("unsupported dtype")
	ErrUnsupportedKind = errors.New("unsupported array kind")
	ErrMixedKinds      = errors.New("mixed array kinds")
	ErrNotIndexable    = errors.New("array is not indexable")
	ErrInvalidOrder    = errors.New("invalid order")

	// Session errors.
	ErrMissingFeed  = errors.New("missing feed for placeholder")
	ErrForeignGraph = errors.New("tensor belongs to another graph")
)

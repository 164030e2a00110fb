package device

// Kind identifies the execution model an Array belongs to.
type Kind int

const (
	// KindEager arrays are materialized in host memory and indexable.
	KindEager Kind = iota
	// KindDeferred arrays are nodes of a Graph; nothing is computed until
	// a Session runs them.
	KindDeferred
)

func (k Kind) String() string {
	switch k {
	case KindEager:
		return "eager"
	case KindDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// DType is the element type of an Array.
type DType int

const (
	Float64 DType = iota
	Complex128
)

func (d DType) String() string {
	switch d {
	case Float64:
		return "float64"
	case Complex128:
		return "complex128"
	default:
		return "invalid"
	}
}

// Array is an n-dimensional value of either kind.
type Array interface {
	// Kind reports which backend owns the value.
	Kind() Kind

	// DType returns the element type.
	DType() DType

	// Shape returns a copy of the dimensions. Deferred arrays may carry
	// UnknownDim entries.
	Shape() Shape
}

// Backend implements the elementary array operations for one Kind.
// Every method returns an Array of the backend's own Kind.
type Backend interface {
	Name() string
	Kind() Kind

	// Concat joins arrays along axis. Non-concatenation axes must agree.
	Concat(arrays []Array, axis int) (Array, error)

	// Sin applies the sine elementwise.
	Sin(x Array) (Array, error)

	// Sum reduces over the given axes, or over every axis when none are
	// given. Reduced axes are removed from the result shape.
	Sum(x Array, axes ...int) (Array, error)

	// Mean is Sum divided by the number of reduced elements.
	Mean(x Array, axes ...int) (Array, error)

	// Reshape reinterprets x with a new shape. A single -1 entry is
	// resolved from the element count.
	Reshape(x Array, shape Shape) (Array, error)

	// RFFT is the real-input forward transform along the last axis.
	// A last axis of length L yields L/2+1 complex coefficients.
	RFFT(x Array) (Array, error)

	// IRFFT inverts RFFT: n coefficients yield 2*(n-1) real samples.
	IRFFT(x Array) (Array, error)

	// MulLastAxis multiplies a complex array by w, broadcast over every
	// leading axis. len(w) must equal the last axis size.
	MulLastAxis(x Array, w []complex128) (Array, error)
}

// Indexer is implemented by backends whose arrays support direct element
// selection.
type Indexer interface {
	// Stride keeps every step-th element along axis, starting at 0.
	Stride(x Array, axis, step int) (Array, error)
}

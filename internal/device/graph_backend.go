package device

import (
	"fmt"
	"sort"
)

// ensure interface compliance
var _ Backend = (*GraphBackend)(nil)

// GraphBackend records operations as graph nodes. It never computes
// values and does not implement Indexer.
type GraphBackend struct{}

func NewGraphBackend() *GraphBackend {
	return &GraphBackend{}
}

func (b *GraphBackend) Name() string {
	return "Graph"
}

func (b *GraphBackend) Kind() Kind {
	return KindDeferred
}

func asGraph(x Array) (*GraphTensor, error) {
	t, ok := x.(*GraphTensor)
	if !ok || t == nil || t.graph == nil {
		return nil, fmt.Errorf("%w: %T is not a graph tensor", ErrUnsupportedKind, x)
	}
	return t, nil
}

func (b *GraphBackend) Concat(arrays []Array, axis int) (Array, error) {
	backendOps.WithLabelValues(b.Name(), "concat").Inc()
	if len(arrays) == 0 {
		return nil, fmt.Errorf("%w: concatenate needs at least one array", ErrShapeMismatch)
	}

	ts := make([]*GraphTensor, len(arrays))
	for i, a := range arrays {
		t, err := asGraph(a)
		if err != nil {
			return nil, err
		}
		ts[i] = t
	}

	first := ts[0]
	ax, err := NormalizeAxis(axis, first.shape)
	if err != nil {
		return nil, err
	}

	out := first.shape.Clone()
	for _, t := range ts[1:] {
		if t.graph != first.graph {
			return nil, fmt.Errorf("%w: %s", ErrForeignGraph, t)
		}
		if t.dtype != first.dtype {
			return nil, fmt.Errorf("%w: cannot concatenate %s with %s", ErrDType, first.dtype, t.dtype)
		}
		if len(t.shape) != len(out) {
			return nil, fmt.Errorf("%w: cannot concatenate %v with %v", ErrShapeMismatch, first.shape, t.shape)
		}
		for d, size := range t.shape {
			switch {
			case d == ax:
				if out[d] == UnknownDim || size == UnknownDim {
					out[d] = UnknownDim
				} else {
					out[d] += size
				}
			case size == UnknownDim:
			case out[d] == UnknownDim:
				out[d] = size
			case out[d] != size:
				return nil, fmt.Errorf("%w: cannot concatenate %v with %v along axis %d",
					ErrShapeMismatch, first.shape, t.shape, ax)
			}
		}
	}

	return first.graph.add(&GraphTensor{
		op:     opConcat,
		inputs: ts,
		dtype:  first.dtype,
		shape:  out,
		axis:   ax,
	}), nil
}

func (b *GraphBackend) Sin(x Array) (Array, error) {
	backendOps.WithLabelValues(b.Name(), "sin").Inc()
	t, err := asGraph(x)
	if err != nil {
		return nil, err
	}
	return t.graph.add(&GraphTensor{op: opSin, inputs: []*GraphTensor{t}, dtype: t.dtype, shape: t.shape.Clone()}), nil
}

func (b *GraphBackend) Sum(x Array, axes ...int) (Array, error) {
	backendOps.WithLabelValues(b.Name(), "sum").Inc()
	return b.reduce(opSum, x, axes)
}

func (b *GraphBackend) Mean(x Array, axes ...int) (Array, error) {
	backendOps.WithLabelValues(b.Name(), "mean").Inc()
	return b.reduce(opMean, x, axes)
}

func (b *GraphBackend) reduce(o op, x Array, axes []int) (Array, error) {
	t, err := asGraph(x)
	if err != nil {
		return nil, err
	}
	selected, err := normalizeAxes(axes, t.shape)
	if err != nil {
		return nil, err
	}

	kept := make(Shape, 0, len(t.shape))
	var normalized []int
	for ax, drop := range selected {
		if drop {
			normalized = append(normalized, ax)
		} else {
			kept = append(kept, t.shape[ax])
		}
	}
	sort.Ints(normalized)

	return t.graph.add(&GraphTensor{
		op:     o,
		inputs: []*GraphTensor{t},
		dtype:  t.dtype,
		shape:  kept,
		axes:   normalized,
	}), nil
}

func (b *GraphBackend) Reshape(x Array, shape Shape) (Array, error) {
	backendOps.WithLabelValues(b.Name(), "reshape").Inc()
	t, err := asGraph(x)
	if err != nil {
		return nil, err
	}

	var out Shape
	if t.shape.FullyKnown() {
		out, err = resolveReshape(shape, t.shape.NumElements())
	} else {
		// The wildcard stays unresolved until the graph runs.
		out, err = checkReshapeTarget(shape)
	}
	if err != nil {
		return nil, err
	}

	return t.graph.add(&GraphTensor{
		op:     opReshape,
		inputs: []*GraphTensor{t},
		dtype:  t.dtype,
		shape:  out,
		target: shape.Clone(),
	}), nil
}

func (b *GraphBackend) RFFT(x Array) (Array, error) {
	backendOps.WithLabelValues(b.Name(), "rfft").Inc()
	t, err := asGraph(x)
	if err != nil {
		return nil, err
	}
	if t.dtype != Float64 {
		return nil, fmt.Errorf("%w: rfft needs real input, got %s", ErrDType, t.dtype)
	}
	if len(t.shape) == 0 || t.shape[len(t.shape)-1] == 0 {
		return nil, fmt.Errorf("%w: rfft needs a non-empty last axis, got %v", ErrShapeMismatch, t.shape)
	}

	out := t.shape.Clone()
	if last := len(out) - 1; out[last] != UnknownDim {
		out[last] = out[last]/2 + 1
	}
	return t.graph.add(&GraphTensor{op: opRFFT, inputs: []*GraphTensor{t}, dtype: Complex128, shape: out}), nil
}

func (b *GraphBackend) IRFFT(x Array) (Array, error) {
	backendOps.WithLabelValues(b.Name(), "irfft").Inc()
	t, err := asGraph(x)
	if err != nil {
		return nil, err
	}
	if t.dtype != Complex128 {
		return nil, fmt.Errorf("%w: irfft needs complex input, got %s", ErrDType, t.dtype)
	}
	if len(t.shape) == 0 || (t.shape.Known(len(t.shape)-1) && t.shape[len(t.shape)-1] < 2) {
		return nil, fmt.Errorf("%w: irfft needs at least 2 coefficients, got shape %v", ErrShapeMismatch, t.shape)
	}

	out := t.shape.Clone()
	if last := len(out) - 1; out[last] != UnknownDim {
		out[last] = 2 * (out[last] - 1)
	}
	return t.graph.add(&GraphTensor{op: opIRFFT, inputs: []*GraphTensor{t}, dtype: Float64, shape: out}), nil
}

func (b *GraphBackend) MulLastAxis(x Array, w []complex128) (Array, error) {
	backendOps.WithLabelValues(b.Name(), "mul_last_axis").Inc()
	t, err := asGraph(x)
	if err != nil {
		return nil, err
	}
	if t.dtype != Complex128 {
		return nil, fmt.Errorf("%w: spectral multiply needs complex input, got %s", ErrDType, t.dtype)
	}
	last := len(t.shape) - 1
	if last < 0 || (t.shape.Known(last) && t.shape[last] != len(w)) {
		return nil, fmt.Errorf("%w: %d weights for shape %v", ErrShapeMismatch, len(w), t.shape)
	}

	out := t.shape.Clone()
	out[last] = len(w)
	weights := make([]complex128, len(w))
	copy(weights, w)
	return t.graph.add(&GraphTensor{
		op:      opMulLastAxis,
		inputs:  []*GraphTensor{t},
		dtype:   Complex128,
		shape:   out,
		weights: weights,
	}), nil
}

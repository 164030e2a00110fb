package device

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/23skdu/longbow-spectra/internal/simd"
)

// ensure interface compliance
var _ Backend = (*CPUBackend)(nil)
var _ Indexer = (*CPUBackend)(nil)
var _ Array = (*CPUTensor)(nil)

type element interface {
	float64 | complex128
}

// CPUBackend evaluates every operation immediately in host memory.
type CPUBackend struct {
	// plans maps a transform length to a *sync.Pool of *fourier.FFT.
	// fourier.FFT keeps scratch space and is not safe for concurrent use.
	plans sync.Map
}

func NewCPUBackend() *CPUBackend {
	return &CPUBackend{}
}

func (b *CPUBackend) Name() string {
	return "CPU"
}

func (b *CPUBackend) Kind() Kind {
	return KindEager
}

// NewTensor creates a float64 tensor. A nil data slice yields zeros;
// otherwise the data is copied and must match the shape.
func (b *CPUBackend) NewTensor(shape Shape, data []float64) (*CPUTensor, error) {
	size, err := checkConcrete(shape)
	if err != nil {
		return nil, err
	}
	t := &CPUTensor{shape: shape.Clone(), dtype: Float64, real: make([]float64, size)}
	if data != nil {
		if len(data) != size {
			return nil, fmt.Errorf("%w: %d values for shape %v", ErrShapeMismatch, len(data), shape)
		}
		copy(t.real, data)
	}
	return t, nil
}

// NewComplexTensor creates a complex128 tensor with the same rules as
// NewTensor.
func (b *CPUBackend) NewComplexTensor(shape Shape, data []complex128) (*CPUTensor, error) {
	size, err := checkConcrete(shape)
	if err != nil {
		return nil, err
	}
	t := &CPUTensor{shape: shape.Clone(), dtype: Complex128, cplx: make([]complex128, size)}
	if data != nil {
		if len(data) != size {
			return nil, fmt.Errorf("%w: %d values for shape %v", ErrShapeMismatch, len(data), shape)
		}
		copy(t.cplx, data)
	}
	return t, nil
}

// checkConcrete returns the element count of a fully known shape.
func checkConcrete(shape Shape) (int, error) {
	if !shape.FullyKnown() {
		return 0, fmt.Errorf("%w: eager shape %v must be fully known", ErrUnknownDim, shape)
	}
	return knownElements(shape)
}

// CPUTensor is an immutable, row-major eager array.
type CPUTensor struct {
	shape Shape
	dtype DType
	real  []float64
	cplx  []complex128
}

func (t *CPUTensor) Kind() Kind {
	return KindEager
}

func (t *CPUTensor) DType() DType {
	return t.dtype
}

func (t *CPUTensor) Shape() Shape {
	return t.shape.Clone()
}

// Len returns the number of elements.
func (t *CPUTensor) Len() int {
	return t.shape.NumElements()
}

// Float64s returns a copy of the data of a float64 tensor, nil otherwise.
func (t *CPUTensor) Float64s() []float64 {
	if t.dtype != Float64 {
		return nil
	}
	out := make([]float64, len(t.real))
	copy(out, t.real)
	return out
}

// Complex128s returns a copy of the data of a complex tensor, nil otherwise.
func (t *CPUTensor) Complex128s() []complex128 {
	if t.dtype != Complex128 {
		return nil
	}
	out := make([]complex128, len(t.cplx))
	copy(out, t.cplx)
	return out
}

// At returns the element at idx. Complex tensors return the real part.
// This is slow and meant for tests and debugging.
func (t *CPUTensor) At(idx ...int) float64 {
	if t.dtype == Complex128 {
		return real(t.cplx[t.offset(idx)])
	}
	return t.real[t.offset(idx)]
}

// ComplexAt returns the element at idx as a complex number.
func (t *CPUTensor) ComplexAt(idx ...int) complex128 {
	if t.dtype == Complex128 {
		return t.cplx[t.offset(idx)]
	}
	return complex(t.real[t.offset(idx)], 0)
}

func (t *CPUTensor) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("At: %d indices for shape %v", len(idx), t.shape))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= t.shape[i] {
			panic(fmt.Sprintf("At: index %d out of range for axis %d of shape %v", v, i, t.shape))
		}
		off = off*t.shape[i] + v
	}
	return off
}

func (t *CPUTensor) String() string {
	return fmt.Sprintf("CPUTensor%v[%s]", t.shape, t.dtype)
}

func asCPU(x Array) (*CPUTensor, error) {
	t, ok := x.(*CPUTensor)
	if !ok || t == nil {
		return nil, fmt.Errorf("%w: %T is not a CPU tensor", ErrUnsupportedKind, x)
	}
	return t, nil
}

func (b *CPUBackend) Concat(arrays []Array, axis int) (Array, error) {
	backendOps.WithLabelValues(b.Name(), "concat").Inc()
	if len(arrays) == 0 {
		return nil, fmt.Errorf("%w: concatenate needs at least one array", ErrShapeMismatch)
	}

	ts := make([]*CPUTensor, len(arrays))
	for i, a := range arrays {
		t, err := asCPU(a)
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

	outShape := first.shape.Clone()
	outShape[ax] = 0
	for _, t := range ts {
		if t.dtype != first.dtype {
			return nil, fmt.Errorf("%w: cannot concatenate %s with %s", ErrDType, first.dtype, t.dtype)
		}
		if len(t.shape) != len(first.shape) {
			return nil, fmt.Errorf("%w: cannot concatenate %v with %v", ErrShapeMismatch, first.shape, t.shape)
		}
		for d := range t.shape {
			if d != ax && t.shape[d] != first.shape[d] {
				return nil, fmt.Errorf("%w: cannot concatenate %v with %v along axis %d",
					ErrShapeMismatch, first.shape, t.shape, ax)
			}
		}
		outShape[ax] += t.shape[ax]
	}

	out := &CPUTensor{shape: outShape, dtype: first.dtype}
	if first.dtype == Float64 {
		srcs := make([][]float64, len(ts))
		for i, t := range ts {
			srcs[i] = t.real
		}
		out.real = concatBlocks(srcs, ts, ax, outShape.NumElements())
	} else {
		srcs := make([][]complex128, len(ts))
		for i, t := range ts {
			srcs[i] = t.cplx
		}
		out.cplx = concatBlocks(srcs, ts, ax, outShape.NumElements())
	}
	return out, nil
}

func concatBlocks[T element](srcs [][]T, ts []*CPUTensor, axis, total int) []T {
	dst := make([]T, 0, total)
	outer, _, _ := ts[0].shape.split(axis)
	for o := 0; o < outer; o++ {
		for i, t := range ts {
			_, n, inner := t.shape.split(axis)
			block := n * inner
			dst = append(dst, srcs[i][o*block:(o+1)*block]...)
		}
	}
	return dst
}

func (b *CPUBackend) Sin(x Array) (Array, error) {
	backendOps.WithLabelValues(b.Name(), "sin").Inc()
	t, err := asCPU(x)
	if err != nil {
		return nil, err
	}
	out := &CPUTensor{shape: t.shape.Clone(), dtype: t.dtype}
	if t.dtype == Float64 {
		out.real = make([]float64, len(t.real))
		for i, v := range t.real {
			out.real[i] = math.Sin(v)
		}
	} else {
		out.cplx = make([]complex128, len(t.cplx))
		for i, v := range t.cplx {
			out.cplx[i] = cmplx.Sin(v)
		}
	}
	return out, nil
}

func (b *CPUBackend) Sum(x Array, axes ...int) (Array, error) {
	backendOps.WithLabelValues(b.Name(), "sum").Inc()
	out, _, err := b.reduce(x, axes)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *CPUBackend) Mean(x Array, axes ...int) (Array, error) {
	backendOps.WithLabelValues(b.Name(), "mean").Inc()
	out, count, err := b.reduce(x, axes)
	if err != nil {
		return nil, err
	}
	// An empty reduced axis yields NaN.
	scale := 1 / float64(count)
	if out.dtype == Float64 {
		simd.VecScale(out.real, scale)
	} else {
		simd.VecScaleComplex(out.cplx, complex(scale, 0))
	}
	return out, nil
}

// reduce sums over the selected axes and returns the number of elements
// folded into each output element.
func (b *CPUBackend) reduce(x Array, axes []int) (*CPUTensor, int, error) {
	t, err := asCPU(x)
	if err != nil {
		return nil, 0, err
	}
	selected, err := normalizeAxes(axes, t.shape)
	if err != nil {
		return nil, 0, err
	}

	shape := t.shape.Clone()
	realData, cplxData := t.real, t.cplx
	count := 1
	// Reduce from the last axis down so earlier axis indices stay valid.
	for ax := len(shape) - 1; ax >= 0; ax-- {
		if !selected[ax] {
			continue
		}
		outer, n, inner := shape.split(ax)
		count *= n
		if t.dtype == Float64 {
			realData = reduceAxis(realData, outer, n, inner, simd.VecAdd)
		} else {
			cplxData = reduceAxis(cplxData, outer, n, inner, simd.VecAddComplex)
		}
		shape = append(shape[:ax:ax], shape[ax+1:]...)
	}

	out := &CPUTensor{shape: shape, dtype: t.dtype}
	if t.dtype == Float64 {
		out.real = ownedCopy(realData, t.real)
	} else {
		out.cplx = ownedCopy(cplxData, t.cplx)
	}
	return out, count, nil
}

func reduceAxis[T element](data []T, outer, n, inner int, add func(dst, src []T)) []T {
	out := make([]T, outer*inner)
	for o := 0; o < outer; o++ {
		dst := out[o*inner : (o+1)*inner]
		for k := 0; k < n; k++ {
			start := (o*n + k) * inner
			add(dst, data[start:start+inner])
		}
	}
	return out
}

// ownedCopy copies data when it still aliases the (immutable) source.
func ownedCopy[T element](data, source []T) []T {
	if len(data) > 0 && len(source) > 0 && &data[0] == &source[0] {
		out := make([]T, len(data))
		copy(out, data)
		return out
	}
	return data
}

func (b *CPUBackend) Reshape(x Array, shape Shape) (Array, error) {
	backendOps.WithLabelValues(b.Name(), "reshape").Inc()
	t, err := asCPU(x)
	if err != nil {
		return nil, err
	}
	resolved, err := resolveReshape(shape, t.Len())
	if err != nil {
		return nil, err
	}
	// Data is immutable, so the result shares the backing slice.
	return &CPUTensor{shape: resolved, dtype: t.dtype, real: t.real, cplx: t.cplx}, nil
}

func (b *CPUBackend) getPlan(n int) *fourier.FFT {
	v, _ := b.plans.LoadOrStore(n, &sync.Pool{})
	if plan, ok := v.(*sync.Pool).Get().(*fourier.FFT); ok {
		fftPlanHits.Inc()
		return plan
	}
	fftPlanMisses.Inc()
	return fourier.NewFFT(n)
}

func (b *CPUBackend) putPlan(plan *fourier.FFT) {
	if v, ok := b.plans.Load(plan.Len()); ok {
		v.(*sync.Pool).Put(plan)
	}
}

func (b *CPUBackend) RFFT(x Array) (Array, error) {
	backendOps.WithLabelValues(b.Name(), "rfft").Inc()
	t, err := asCPU(x)
	if err != nil {
		return nil, err
	}
	if t.dtype != Float64 {
		return nil, fmt.Errorf("%w: rfft needs real input, got %s", ErrDType, t.dtype)
	}
	if len(t.shape) == 0 || t.shape[len(t.shape)-1] == 0 {
		return nil, fmt.Errorf("%w: rfft needs a non-empty last axis, got %v", ErrShapeMismatch, t.shape)
	}

	length := t.shape[len(t.shape)-1]
	bins := length/2 + 1
	rows := t.Len() / length

	outShape := t.shape.Clone()
	outShape[len(outShape)-1] = bins
	out := &CPUTensor{shape: outShape, dtype: Complex128, cplx: make([]complex128, rows*bins)}

	plan := b.getPlan(length)
	defer b.putPlan(plan)
	seq := make([]float64, length)
	for r := 0; r < rows; r++ {
		copy(seq, t.real[r*length:(r+1)*length])
		plan.Coefficients(out.cplx[r*bins:(r+1)*bins], seq)
	}
	return out, nil
}

func (b *CPUBackend) IRFFT(x Array) (Array, error) {
	backendOps.WithLabelValues(b.Name(), "irfft").Inc()
	t, err := asCPU(x)
	if err != nil {
		return nil, err
	}
	if t.dtype != Complex128 {
		return nil, fmt.Errorf("%w: irfft needs complex input, got %s", ErrDType, t.dtype)
	}
	if len(t.shape) == 0 || t.shape[len(t.shape)-1] < 2 {
		return nil, fmt.Errorf("%w: irfft needs at least 2 coefficients, got shape %v", ErrShapeMismatch, t.shape)
	}

	bins := t.shape[len(t.shape)-1]
	length := 2 * (bins - 1)
	rows := t.Len() / bins

	outShape := t.shape.Clone()
	outShape[len(outShape)-1] = length
	out := &CPUTensor{shape: outShape, dtype: Float64, real: make([]float64, rows*length)}

	plan := b.getPlan(length)
	defer b.putPlan(plan)
	coeff := make([]complex128, bins)
	norm := 1 / float64(length)
	for r := 0; r < rows; r++ {
		copy(coeff, t.cplx[r*bins:(r+1)*bins])
		// The DC and Nyquist terms of a real signal are real; any
		// imaginary residue there is discarded.
		coeff[0] = complex(real(coeff[0]), 0)
		coeff[bins-1] = complex(real(coeff[bins-1]), 0)
		dst := out.real[r*length : (r+1)*length]
		plan.Sequence(dst, coeff)
		simd.VecScale(dst, norm)
	}
	return out, nil
}

func (b *CPUBackend) MulLastAxis(x Array, w []complex128) (Array, error) {
	backendOps.WithLabelValues(b.Name(), "mul_last_axis").Inc()
	t, err := asCPU(x)
	if err != nil {
		return nil, err
	}
	if t.dtype != Complex128 {
		return nil, fmt.Errorf("%w: spectral multiply needs complex input, got %s", ErrDType, t.dtype)
	}
	if len(t.shape) == 0 || t.shape[len(t.shape)-1] != len(w) {
		return nil, fmt.Errorf("%w: %d weights for shape %v", ErrShapeMismatch, len(w), t.shape)
	}

	out := &CPUTensor{shape: t.shape.Clone(), dtype: Complex128, cplx: make([]complex128, len(t.cplx))}
	copy(out.cplx, t.cplx)
	n := len(w)
	if n == 0 {
		return out, nil
	}
	for start := 0; start < len(out.cplx); start += n {
		simd.VecMulComplex(out.cplx[start:start+n], w)
	}
	return out, nil
}

func (b *CPUBackend) Stride(x Array, axis, step int) (Array, error) {
	backendOps.WithLabelValues(b.Name(), "stride").Inc()
	t, err := asCPU(x)
	if err != nil {
		return nil, err
	}
	if step < 1 {
		return nil, fmt.Errorf("%w: stride step %d must be positive", ErrShapeMismatch, step)
	}
	ax, err := NormalizeAxis(axis, t.shape)
	if err != nil {
		return nil, err
	}

	outShape := t.shape.Clone()
	outShape[ax] = (t.shape[ax] + step - 1) / step
	out := &CPUTensor{shape: outShape, dtype: t.dtype}
	outer, n, inner := t.shape.split(ax)
	if t.dtype == Float64 {
		out.real = strided(t.real, outer, n, inner, step)
	} else {
		out.cplx = strided(t.cplx, outer, n, inner, step)
	}
	return out, nil
}

func strided[T element](data []T, outer, n, inner, step int) []T {
	out := make([]T, 0, outer*((n+step-1)/step)*inner)
	for o := 0; o < outer; o++ {
		for k := 0; k < n; k += step {
			start := (o*n + k) * inner
			out = append(out, data[start:start+inner]...)
		}
	}
	return out
}

package device

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type foreignArray struct{}

func (foreignArray) Kind() Kind   { return Kind(42) }
func (foreignArray) DType() DType { return Float64 }
func (foreignArray) Shape() Shape { return Shape{1} }

func TestBackendFor(t *testing.T) {
	eager := mustTensor(t, Shape{2}, nil)
	b, err := BackendFor(eager)
	require.NoError(t, err)
	assert.Equal(t, KindEager, b.Kind())

	g := NewGraph()
	p, err := g.Placeholder("x", Float64, Shape{UnknownDim, 4})
	require.NoError(t, err)
	b, err = BackendFor(p)
	require.NoError(t, err)
	assert.Equal(t, KindDeferred, b.Kind())

	_, ok := b.(Indexer)
	assert.False(t, ok, "graph backend must not support indexing")
	_, ok = Backend(Eager()).(Indexer)
	assert.True(t, ok)

	_, err = BackendFor(foreignArray{})
	assert.ErrorIs(t, err, ErrUnsupportedKind)

	_, err = BackendFor(nil)
	assert.ErrorIs(t, err, ErrUnsupportedKind)

	_, err = BackendFor((*CPUTensor)(nil))
	assert.ErrorIs(t, err, ErrUnsupportedKind)
	_, err = BackendFor((*GraphTensor)(nil))
	assert.ErrorIs(t, err, ErrUnsupportedKind)
}

func TestGraph_ConstantNil(t *testing.T) {
	g := NewGraph()
	_, err := g.Constant(nil)
	assert.ErrorIs(t, err, ErrUnsupportedKind)
	assert.Equal(t, 0, g.Len())
}

func TestGraphBackend_ShapeInference(t *testing.T) {
	backend := NewGraphBackend()
	g := NewGraph()
	x, err := g.Placeholder("x", Float64, Shape{UnknownDim, 256})
	require.NoError(t, err)

	t.Run("RFFT and IRFFT", func(t *testing.T) {
		coeffs, err := backend.RFFT(x)
		require.NoError(t, err)
		assert.Equal(t, Shape{UnknownDim, 129}, coeffs.Shape())
		assert.Equal(t, Complex128, coeffs.DType())

		back, err := backend.IRFFT(coeffs)
		require.NoError(t, err)
		assert.Equal(t, Shape{UnknownDim, 256}, back.Shape())
		assert.Equal(t, KindDeferred, back.Kind())
	})

	t.Run("Reshape keeps unknown dims", func(t *testing.T) {
		r, err := backend.Reshape(x, Shape{-1, 64, 4})
		require.NoError(t, err)
		assert.Equal(t, Shape{UnknownDim, 64, 4}, r.Shape())

		m, err := backend.Mean(r, 2)
		require.NoError(t, err)
		assert.Equal(t, Shape{UnknownDim, 64}, m.Shape())
	})

	t.Run("Concat", func(t *testing.T) {
		y, err := g.Placeholder("y", Float64, Shape{3, 256})
		require.NoError(t, err)

		c, err := backend.Concat([]Array{x, y}, 0)
		require.NoError(t, err)
		assert.Equal(t, Shape{UnknownDim, 256}, c.Shape())

		c, err = backend.Concat([]Array{x, y}, 1)
		require.NoError(t, err)
		assert.Equal(t, Shape{3, 512}, c.Shape())

		z, err := g.Placeholder("z", Float64, Shape{3, 128})
		require.NoError(t, err)
		_, err = backend.Concat([]Array{y, z}, 0)
		assert.ErrorIs(t, err, ErrShapeMismatch)

		other, err := NewGraph().Placeholder("o", Float64, Shape{3, 256})
		require.NoError(t, err)
		_, err = backend.Concat([]Array{y, other}, 0)
		assert.ErrorIs(t, err, ErrForeignGraph)
	})

	t.Run("Static errors", func(t *testing.T) {
		_, err := backend.Reshape(mustPlaceholder(t, g, Shape{2, 6}), Shape{5, -1})
		assert.ErrorIs(t, err, ErrShapeMismatch)

		_, err = backend.IRFFT(x)
		assert.ErrorIs(t, err, ErrDType)

		_, err = backend.Sum(x, 5)
		assert.ErrorIs(t, err, ErrInvalidAxis)

		_, err = backend.Sin(mustTensor(t, Shape{1}, nil))
		assert.ErrorIs(t, err, ErrUnsupportedKind)
	})
}

func mustPlaceholder(t *testing.T, g *Graph, shape Shape) *GraphTensor {
	t.Helper()
	p, err := g.Placeholder("p", Float64, shape)
	require.NoError(t, err)
	return p
}

func TestSession_Run(t *testing.T) {
	backend := NewGraphBackend()
	g := NewGraph()
	x := mustPlaceholder(t, g, Shape{UnknownDim, 4})

	coeffs, err := backend.RFFT(x)
	require.NoError(t, err)
	scaled, err := backend.MulLastAxis(coeffs, []complex128{2, 2, 2})
	require.NoError(t, err)
	back, err := backend.IRFFT(scaled)
	require.NoError(t, err)
	total, err := backend.Sum(back.(*GraphTensor))
	require.NoError(t, err)

	nodes := g.Len()
	input := mustTensor(t, Shape{2, 4}, []float64{1, 2, 3, 4, 5, 6, 7, 8})

	sess := NewSession(g)
	out, err := sess.Run(context.Background(), Feeds{x: input}, back.(*GraphTensor), total.(*GraphTensor))
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, Shape{2, 4}, out[0].Shape())
	assert.InDeltaSlice(t, []float64{2, 4, 6, 8, 10, 12, 14, 16}, out[0].Float64s(), 1e-9)
	assert.InDelta(t, 72.0, out[1].At(), 1e-9)

	// Running never adds nodes
	assert.Equal(t, nodes, g.Len())

	t.Run("Missing feed", func(t *testing.T) {
		_, err := sess.Run(context.Background(), nil, back.(*GraphTensor))
		assert.ErrorIs(t, err, ErrMissingFeed)
	})

	t.Run("Feed shape mismatch", func(t *testing.T) {
		bad := mustTensor(t, Shape{2, 6}, nil)
		_, err := sess.Run(context.Background(), Feeds{x: bad}, back.(*GraphTensor))
		assert.ErrorIs(t, err, ErrShapeMismatch)
	})

	t.Run("Foreign fetch", func(t *testing.T) {
		other := mustPlaceholder(t, NewGraph(), Shape{1})
		_, err := sess.Run(context.Background(), nil, other)
		assert.ErrorIs(t, err, ErrForeignGraph)
	})

	t.Run("Cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := sess.Run(ctx, Feeds{x: input}, back.(*GraphTensor))
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("Constant", func(t *testing.T) {
		c, err := g.Constant(mustTensor(t, Shape{2}, []float64{0, 0}))
		require.NoError(t, err)
		s, err := backend.Sin(c)
		require.NoError(t, err)
		out, err := sess.Run(context.Background(), nil, s.(*GraphTensor))
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 0}, out[0].Float64s())
	})
}

func TestGraph_ConcurrentBuild(t *testing.T) {
	backend := NewGraphBackend()
	g := NewGraph()
	x := mustPlaceholder(t, g, Shape{UnknownDim, 8})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, err := backend.Sin(x)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 81, g.Len())
}

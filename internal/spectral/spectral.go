// Package spectral implements Fourier-domain routines on the last axis of
// an array: differentiation of periodic signals and exponential low-pass
// smoothing. Both work on eager and deferred arrays and return a value of
// the input's kind.
package spectral

import (
	"errors"
	"fmt"

	"github.com/23skdu/longbow-spectra/internal/cache"
	"github.com/23skdu/longbow-spectra/internal/device"
	"github.com/23skdu/longbow-spectra/internal/ops"
)

var ErrInvalidParameter = errors.New("invalid spectral parameter")

const (
	weightCacheEntries = 128
	// Weights for longer signals are recomputed on every call.
	maxCachedLength = 1 << 16
)

// weights memoises spectral weight vectors by their parameters.
var weights cache.WeightCache = cache.NewMapCache(weightCacheEntries)

func lookupWeights(key string, length int, compute func() []complex128) []complex128 {
	if length > maxCachedLength {
		return compute()
	}
	return cache.GetOrCompute(weights, key, compute)
}

// evenLastAxis returns the last-axis length of x, which must be known,
// non-zero and even.
func evenLastAxis(x device.Array, routine string) (int, error) {
	shape, err := ops.GetShape(x)
	if err != nil {
		return 0, err
	}
	if shape.Rank() == 0 {
		return 0, fmt.Errorf("%w: %s needs at least one axis", device.ErrShapeMismatch, routine)
	}
	last := shape.Rank() - 1
	if !shape.Known(last) {
		return 0, fmt.Errorf("%w: %s needs a known last axis, got %v", device.ErrUnknownDim, routine, shape)
	}
	length := shape[last]
	if length%2 != 0 {
		return 0, fmt.Errorf("%w: %s only works for even length data", device.ErrOddLength, routine)
	}
	if length == 0 {
		return 0, fmt.Errorf("%w: %s needs a non-empty last axis", device.ErrShapeMismatch, routine)
	}
	return length, nil
}

// applyWeights multiplies the real spectrum of x by w and transforms back.
func applyWeights(x device.Array, w []complex128) (device.Array, error) {
	coeffs, err := ops.RFFT(x)
	if err != nil {
		return nil, err
	}
	coeffs, err = ops.MulLastAxis(coeffs, w)
	if err != nil {
		return nil, err
	}
	return ops.IRFFT(coeffs)
}

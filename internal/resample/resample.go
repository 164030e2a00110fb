// Package resample reduces the resolution of an array along one axis by an
// integer factor.
package resample

import (
	"fmt"

	"github.com/23skdu/longbow-spectra/internal/device"
	"github.com/23skdu/longbow-spectra/internal/ops"
)

// Func reduces x along axis by factor. Axis may be negative.
type Func func(x device.Array, factor, axis int) (device.Array, error)

// checkFactor normalizes axis and returns it together with the axis size,
// which must be known and divisible by factor.
func checkFactor(x device.Array, factor, axis int) (device.Shape, int, error) {
	shape, err := ops.GetShape(x)
	if err != nil {
		return nil, 0, err
	}
	if factor < 1 {
		return nil, 0, fmt.Errorf("%w: resample factor %d must be positive", device.ErrIndivisible, factor)
	}
	ax, err := device.NormalizeAxis(axis, shape)
	if err != nil {
		return nil, 0, err
	}
	if !shape.Known(ax) {
		return nil, 0, fmt.Errorf("%w: resample axis %d of %v", device.ErrUnknownDim, ax, shape)
	}
	if size := shape[ax]; size%factor != 0 {
		return nil, 0, fmt.Errorf("%w: resample factor %d must divide size %d", device.ErrIndivisible, factor, size)
	}
	return shape, ax, nil
}

// Mean averages consecutive blocks of factor elements along axis. An unknown
// size on another axis becomes the reshape wildcard, so at most one such
// axis is supported.
func Mean(x device.Array, factor, axis int) (device.Array, error) {
	shape, ax, err := checkFactor(x, factor, axis)
	if err != nil {
		return nil, err
	}

	target := make(device.Shape, 0, shape.Rank()+1)
	target = append(target, shape[:ax]...)
	target = append(target, shape[ax]/factor, factor)
	target = append(target, shape[ax+1:]...)

	blocks, err := ops.Reshape(x, target)
	if err != nil {
		return nil, err
	}
	return ops.Mean(blocks, ax+1)
}

// Subsample keeps every factor-th element along axis, starting at 0. It
// needs an indexable array; deferred arrays fail with device.ErrNotIndexable.
func Subsample(x device.Array, factor, axis int) (device.Array, error) {
	_, ax, err := checkFactor(x, factor, axis)
	if err != nil {
		return nil, err
	}
	return ops.Stride(x, ax, factor)
}

// Package ops exposes the elementary array operations for both array
// kinds. Each call resolves the owning backend once and returns a value of
// the input's kind.
package ops

import (
	"fmt"

	"github.com/23skdu/longbow-spectra/internal/device"
)

// Concatenate joins arrays along axis. All arrays must share one kind.
func Concatenate(arrays []device.Array, axis int) (device.Array, error) {
	if len(arrays) == 0 {
		return nil, fmt.Errorf("%w: concatenate needs at least one array", device.ErrShapeMismatch)
	}
	b, err := device.BackendFor(arrays[0])
	if err != nil {
		return nil, err
	}
	for _, a := range arrays[1:] {
		if a == nil || a.Kind() != b.Kind() {
			return nil, fmt.Errorf("%w: cannot concatenate %v with %v", device.ErrMixedKinds, b.Kind(), kindOf(a))
		}
	}
	return b.Concat(arrays, axis)
}

func kindOf(a device.Array) string {
	if a == nil {
		return "nil"
	}
	return a.Kind().String()
}

func Sin(x device.Array) (device.Array, error) {
	b, err := device.BackendFor(x)
	if err != nil {
		return nil, err
	}
	return b.Sin(x)
}

// Sum reduces over axes, or over every axis when none are given.
func Sum(x device.Array, axes ...int) (device.Array, error) {
	b, err := device.BackendFor(x)
	if err != nil {
		return nil, err
	}
	return b.Sum(x, axes...)
}

// Mean averages over axes, or over every axis when none are given.
func Mean(x device.Array, axes ...int) (device.Array, error) {
	b, err := device.BackendFor(x)
	if err != nil {
		return nil, err
	}
	return b.Mean(x, axes...)
}

// GetShape returns the shape of x. Deferred arrays may report
// device.UnknownDim for unresolved axes.
func GetShape(x device.Array) (device.Shape, error) {
	if _, err := device.BackendFor(x); err != nil {
		return nil, err
	}
	return x.Shape(), nil
}

func Reshape(x device.Array, shape device.Shape) (device.Array, error) {
	b, err := device.BackendFor(x)
	if err != nil {
		return nil, err
	}
	return b.Reshape(x, shape)
}

func RFFT(x device.Array) (device.Array, error) {
	b, err := device.BackendFor(x)
	if err != nil {
		return nil, err
	}
	return b.RFFT(x)
}

func IRFFT(x device.Array) (device.Array, error) {
	b, err := device.BackendFor(x)
	if err != nil {
		return nil, err
	}
	return b.IRFFT(x)
}

// MulLastAxis multiplies a spectrum by w along its last axis.
func MulLastAxis(x device.Array, w []complex128) (device.Array, error) {
	b, err := device.BackendFor(x)
	if err != nil {
		return nil, err
	}
	return b.MulLastAxis(x, w)
}

// Stride keeps every step-th element along axis. Only backends with the
// device.Indexer capability support it.
func Stride(x device.Array, axis, step int) (device.Array, error) {
	b, err := device.BackendFor(x)
	if err != nil {
		return nil, err
	}
	ix, ok := b.(device.Indexer)
	if !ok {
		return nil, fmt.Errorf("%w: %s backend has no strided selection", device.ErrNotIndexable, b.Name())
	}
	return ix.Stride(x, axis, step)
}

package device

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// UnknownDim marks an axis whose size is not resolved until a graph runs.
// In a Reshape target the same value acts as the wildcard.
const UnknownDim = -1

// Shape is the ordered list of axis sizes.
type Shape []int

// Rank returns the number of axes.
func (s Shape) Rank() int {
	return len(s)
}

// Known reports whether axis i has a concrete size.
func (s Shape) Known(i int) bool {
	return s[i] >= 0
}

// FullyKnown reports whether every axis has a concrete size.
func (s Shape) FullyKnown() bool {
	for _, d := range s {
		if d < 0 {
			return false
		}
	}
	return true
}

// NumElements returns the element count. A scalar has one element.
// The result is meaningless unless FullyKnown.
func (s Shape) NumElements() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// knownElements multiplies the known axis sizes, failing when the
// product does not fit in an int.
func knownElements(s Shape) (int, error) {
	n := 1
	for _, d := range s {
		if d < 0 {
			continue
		}
		if d != 0 && n > math.MaxInt/d {
			return 0, fmt.Errorf("%w: element count of %v overflows", ErrShapeMismatch, s)
		}
		n *= d
	}
	return n, nil
}

// Equal reports whether both shapes have the same rank and sizes.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// String renders the shape as (2, ?, 256).
func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		if d < 0 {
			parts[i] = "?"
		} else {
			parts[i] = strconv.Itoa(d)
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// NormalizeAxis maps a signed axis into [0, ndim). Negative axes count
// from the end.
func NormalizeAxis(axis int, shape Shape) (int, error) {
	ndim := len(shape)
	if axis < -ndim || axis >= ndim {
		return 0, fmt.Errorf("%w: %d for shape %v", ErrInvalidAxis, axis, shape)
	}
	if axis < 0 {
		axis += ndim
	}
	return axis, nil
}

// normalizeAxes resolves a reduction axis list. An empty list selects
// every axis. Duplicates are rejected.
func normalizeAxes(axes []int, shape Shape) ([]bool, error) {
	reduce := make([]bool, len(shape))
	if len(axes) == 0 {
		for i := range reduce {
			reduce[i] = true
		}
		return reduce, nil
	}
	for _, a := range axes {
		ax, err := NormalizeAxis(a, shape)
		if err != nil {
			return nil, err
		}
		if reduce[ax] {
			return nil, fmt.Errorf("%w: duplicate axis %d for shape %v", ErrInvalidAxis, a, shape)
		}
		reduce[ax] = true
	}
	return reduce, nil
}

// split returns the element counts before, at and after axis for a fully
// known shape.
func (s Shape) split(axis int) (outer, n, inner int) {
	outer, inner = 1, 1
	for i := 0; i < axis; i++ {
		outer *= s[i]
	}
	for i := axis + 1; i < len(s); i++ {
		inner *= s[i]
	}
	return outer, s[axis], inner
}

// checkReshapeTarget validates a reshape target: sizes are non-negative
// except for at most one wildcard.
func checkReshapeTarget(target Shape) (Shape, error) {
	wildcards := 0
	for _, d := range target {
		switch {
		case d == UnknownDim:
			wildcards++
		case d < 0:
			return nil, fmt.Errorf("%w: negative size in %v", ErrShapeMismatch, target)
		}
	}
	if wildcards > 1 {
		return nil, fmt.Errorf("%w: more than one wildcard in %v", ErrShapeMismatch, target)
	}
	if _, err := knownElements(target); err != nil {
		return nil, err
	}
	return target.Clone(), nil
}

// resolveReshape validates a reshape target against an element count and
// fills in the wildcard.
func resolveReshape(target Shape, total int) (Shape, error) {
	out, err := checkReshapeTarget(target)
	if err != nil {
		return nil, err
	}
	wildcard := -1
	known := 1
	for i, d := range out {
		if d == UnknownDim {
			wildcard = i
		} else {
			known *= d
		}
	}
	if wildcard >= 0 {
		if known == 0 || total%known != 0 {
			return nil, fmt.Errorf("%w: cannot reshape %d elements into %v", ErrShapeMismatch, total, target)
		}
		out[wildcard] = total / known
		return out, nil
	}
	if known != total {
		return nil, fmt.Errorf("%w: cannot reshape %d elements into %v", ErrShapeMismatch, total, target)
	}
	return out, nil
}

package device

import "fmt"

// backends is fixed at package initialization and never mutated.
var backends = map[Kind]Backend{
	KindEager:    NewCPUBackend(),
	KindDeferred: NewGraphBackend(),
}

// BackendFor returns the backend owning x, chosen by a single Kind check.
// Values of any other kind are rejected rather than treated as eager.
func BackendFor(x Array) (Backend, error) {
	if x == nil || isNilTensor(x) {
		return nil, fmt.Errorf("%w: nil array", ErrUnsupportedKind)
	}
	b, ok := backends[x.Kind()]
	if !ok {
		return nil, fmt.Errorf("%w: %T reports kind %v", ErrUnsupportedKind, x, x.Kind())
	}
	return b, nil
}

// isNilTensor catches typed nil pointers of the package's own kinds,
// which satisfy Array but cannot report a shape.
func isNilTensor(x Array) bool {
	switch t := x.(type) {
	case *CPUTensor:
		return t == nil
	case *GraphTensor:
		return t == nil
	}
	return false
}

// Eager returns the shared eager backend, for constructing inputs.
func Eager() *CPUBackend {
	return backends[KindEager].(*CPUBackend)
}

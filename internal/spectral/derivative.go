package spectral

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-spectra/internal/device"
)

type derivativeConfig struct {
	order  int
	period float64
}

// DerivativeOption configures Derivative.
type DerivativeOption func(*derivativeConfig)

// WithOrder sets the derivative order. Order 0 is the identity.
func WithOrder(n int) DerivativeOption {
	return func(c *derivativeConfig) {
		c.order = n
	}
}

// WithPeriod sets the physical length of the periodic domain.
func WithPeriod(p float64) DerivativeOption {
	return func(c *derivativeConfig) {
		c.period = p
	}
}

// Derivative returns the order-th derivative of the periodic signal x along
// its last axis, computed by Fourier differentiation. The last axis must
// have a known even length. Defaults are order 1 over a period of 2π.
func Derivative(x device.Array, opts ...DerivativeOption) (device.Array, error) {
	cfg := derivativeConfig{order: 1, period: 2 * math.Pi}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.order < 0 {
		return nil, fmt.Errorf("%w: derivative order %d", device.ErrInvalidOrder, cfg.order)
	}
	if !(cfg.period > 0) || math.IsInf(cfg.period, 0) {
		return nil, fmt.Errorf("%w: period %v must be positive and finite", ErrInvalidParameter, cfg.period)
	}

	length, err := evenLastAxis(x, "spectral derivative")
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("derivative/%d/%d/%g", length, cfg.order, cfg.period)
	w := lookupWeights(key, length, func() []complex128 {
		return derivativeWeights(length, cfg.order, cfg.period)
	})
	return applyWeights(x, w)
}

// derivativeWeights returns (c·j)^order for j = 0..length/2 with
// c = 2πi/period.
func derivativeWeights(length, order int, period float64) []complex128 {
	c := complex(0, 2*math.Pi/period)
	w := make([]complex128, length/2+1)
	for j := range w {
		w[j] = powInt(c*complex(float64(j), 0), order)
	}
	return w
}

// powInt raises z to a non-negative integer power; powInt(0, 0) is 1.
func powInt(z complex128, n int) complex128 {
	r := complex(1, 0)
	for n > 0 {
		if n&1 == 1 {
			r *= z
		}
		z *= z
		n >>= 1
	}
	return r
}

package spectral

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-spectra/internal/device"
)

// DefaultAlpha damps the Nyquist coefficient to 1e-15 of its amplitude.
var DefaultAlpha = -math.Log(1e-15)

type smoothingConfig struct {
	alpha float64
	order int
}

// SmoothingOption configures SmoothingFilter.
type SmoothingOption func(*smoothingConfig)

// WithAlpha sets the damping strength at the highest frequency.
func WithAlpha(a float64) SmoothingOption {
	return func(c *smoothingConfig) {
		c.alpha = a
	}
}

// WithFilterOrder sets the filter order p; the roll-off is eta^(2p).
func WithFilterOrder(p int) SmoothingOption {
	return func(c *smoothingConfig) {
		c.order = p
	}
}

// SmoothingFilter applies the exponential low-pass filter
// sigma(eta) = exp(-alpha·eta^(2p)) to the real spectrum of x along its
// last axis, with eta running from 0 at DC to 1 at Nyquist.
func SmoothingFilter(x device.Array, opts ...SmoothingOption) (device.Array, error) {
	cfg := smoothingConfig{alpha: DefaultAlpha, order: 2}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.order < 1 {
		return nil, fmt.Errorf("%w: smoothing filter order %d must be at least 1", device.ErrInvalidOrder, cfg.order)
	}
	if math.IsNaN(cfg.alpha) || math.IsInf(cfg.alpha, 0) {
		return nil, fmt.Errorf("%w: alpha %v must be finite", ErrInvalidParameter, cfg.alpha)
	}

	length, err := evenLastAxis(x, "smoothing filter")
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("smoothing/%d/%g/%d", length, cfg.alpha, cfg.order)
	w := lookupWeights(key, length, func() []complex128 {
		return smoothingWeights(length, cfg.alpha, cfg.order)
	})
	return applyWeights(x, w)
}

func smoothingWeights(length int, alpha float64, order int) []complex128 {
	count := length / 2
	w := make([]complex128, count+1)
	for m := range w {
		eta := float64(m) / float64(count)
		w[m] = complex(math.Exp(-alpha*math.Pow(eta, float64(2*order))), 0)
	}
	return w
}

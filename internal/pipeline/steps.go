package pipeline

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/23skdu/longbow-spectra/internal/device"
	"github.com/23skdu/longbow-spectra/internal/resample"
	"github.com/23skdu/longbow-spectra/internal/spectral"
)

// DerivativeStep differentiates along the last axis.
type DerivativeStep struct {
	Order  int
	Period float64
}

func (s DerivativeStep) Name() string { return "derivative" }

func (s DerivativeStep) Apply(x device.Array) (device.Array, error) {
	return spectral.Derivative(x, spectral.WithOrder(s.Order), spectral.WithPeriod(s.Period))
}

func (s DerivativeStep) String() string {
	return fmt.Sprintf("derivative:order=%d:period=%s", s.Order, formatFloat(s.Period))
}

// SmoothStep applies the exponential smoothing filter along the last axis.
type SmoothStep struct {
	Alpha float64
	Order int
}

func (s SmoothStep) Name() string { return "smooth" }

func (s SmoothStep) Apply(x device.Array) (device.Array, error) {
	return spectral.SmoothingFilter(x, spectral.WithAlpha(s.Alpha), spectral.WithFilterOrder(s.Order))
}

func (s SmoothStep) String() string {
	return fmt.Sprintf("smooth:alpha=%s:order=%d", formatFloat(s.Alpha), s.Order)
}

// ResampleStep reduces resolution along Axis by Factor.
type ResampleStep struct {
	Strategy resample.Strategy
	Factor   int
	Axis     int
}

func (s ResampleStep) Name() string { return "resample" }

func (s ResampleStep) Apply(x device.Array) (device.Array, error) {
	fn := s.Strategy.Func()
	if fn == nil {
		return nil, fmt.Errorf("%w: %v", resample.ErrUnknownStrategy, s.Strategy)
	}
	return fn(x, s.Factor, s.Axis)
}

func (s ResampleStep) String() string {
	return fmt.Sprintf("resample:%s:factor=%d:axis=%d", s.Strategy, s.Factor, s.Axis)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Parse builds a pipeline from its text form: comma-separated steps, each
// a keyword followed by colon-separated key=value parameters.
//
//	derivative[:order=N][:period=P]
//	smooth[:alpha=A][:order=P]
//	resample[:mean|subsample][:factor=F][:axis=A]
//
// An empty string yields the identity pipeline.
func Parse(text string) (*Pipeline, error) {
	p := &Pipeline{}
	if strings.TrimSpace(text) == "" {
		return p, nil
	}
	for _, raw := range strings.Split(text, ",") {
		step, err := parseStep(strings.TrimSpace(raw))
		if err != nil {
			return nil, err
		}
		p.steps = append(p.steps, step)
	}
	return p, nil
}

func parseStep(text string) (Step, error) {
	fields := strings.Split(text, ":")
	name := strings.ToLower(fields[0])
	params := fields[1:]

	switch name {
	case "derivative":
		s := DerivativeStep{Order: 1, Period: 2 * math.Pi}
		err := eachParam(name, params, func(key, value string) error {
			switch key {
			case "order":
				return parseInt(name, key, value, &s.Order)
			case "period":
				return parseFloat(name, key, value, &s.Period)
			}
			return unknownParam(name, key)
		})
		return s, err
	case "smooth":
		s := SmoothStep{Alpha: spectral.DefaultAlpha, Order: 2}
		err := eachParam(name, params, func(key, value string) error {
			switch key {
			case "alpha":
				return parseFloat(name, key, value, &s.Alpha)
			case "order":
				return parseInt(name, key, value, &s.Order)
			}
			return unknownParam(name, key)
		})
		return s, err
	case "resample":
		s := ResampleStep{Strategy: resample.StrategyMean, Factor: 2, Axis: -1}
		if len(params) > 0 && !strings.Contains(params[0], "=") {
			strategy, err := resample.ParseStrategy(params[0])
			if err != nil {
				return nil, err
			}
			s.Strategy = strategy
			params = params[1:]
		}
		err := eachParam(name, params, func(key, value string) error {
			switch key {
			case "factor":
				return parseInt(name, key, value, &s.Factor)
			case "axis":
				return parseInt(name, key, value, &s.Axis)
			}
			return unknownParam(name, key)
		})
		return s, err
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStep, text)
}

func eachParam(step string, params []string, fn func(key, value string) error) error {
	for _, param := range params {
		key, value, ok := strings.Cut(param, "=")
		if !ok {
			return fmt.Errorf("%w: %s: expected key=value, got %q", ErrInvalidParam, step, param)
		}
		if err := fn(strings.ToLower(strings.TrimSpace(key)), strings.TrimSpace(value)); err != nil {
			return err
		}
	}
	return nil
}

func parseInt(step, key, value string, dst *int) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%w: %s %s=%q: %v", ErrInvalidParam, step, key, value, err)
	}
	*dst = v
	return nil
}

func parseFloat(step, key, value string, dst *float64) error {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("%w: %s %s=%q: %v", ErrInvalidParam, step, key, value, err)
	}
	*dst = v
	return nil
}

func unknownParam(step, key string) error {
	return fmt.Errorf("%w: %s has no parameter %q", ErrInvalidParam, step, key)
}

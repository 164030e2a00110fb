// Package pipeline chains spectral and resampling steps described by a
// compact text form such as "smooth,derivative:order=2,resample:mean:factor=4".
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/23skdu/longbow-spectra/internal/device"
)

var (
	ErrUnknownStep  = errors.New("unknown pipeline step")
	ErrInvalidParam = errors.New("invalid pipeline parameter")
)

var tracer = otel.Tracer("spectra-pipeline")

var (
	stepsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spectra_pipeline_steps_total",
		Help: "Total number of pipeline steps applied, by step and array kind",
	}, []string{"step", "kind"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spectra_pipeline_run_duration_seconds",
		Help:    "Time spent running a pipeline end to end",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})
)

// Step is one stage of a pipeline.
type Step interface {
	// Name is the step keyword used in the text form.
	Name() string
	Apply(x device.Array) (device.Array, error)
	// String renders the step in canonical text form.
	String() string
}

// Pipeline applies its steps in order. The zero value is the identity.
type Pipeline struct {
	steps []Step
}

// New builds a pipeline from already constructed steps.
func New(steps ...Step) *Pipeline {
	return &Pipeline{steps: append([]Step(nil), steps...)}
}

// Steps returns a copy of the pipeline's steps.
func (p *Pipeline) Steps() []Step {
	return append([]Step(nil), p.steps...)
}

func (p *Pipeline) Len() int {
	return len(p.steps)
}

func (p *Pipeline) String() string {
	parts := make([]string, len(p.steps))
	for i, s := range p.steps {
		parts[i] = s.String()
	}
	return strings.Join(parts, ",")
}

// Apply runs every step on x. The result has the kind of x; for deferred
// input only graph nodes are added.
func (p *Pipeline) Apply(ctx context.Context, x device.Array) (device.Array, error) {
	_, span := tracer.Start(ctx, "Pipeline.Apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("pipeline", p.String()),
		attribute.Int("steps", len(p.steps)),
	)

	if x == nil {
		return nil, fmt.Errorf("%w: nil array", device.ErrUnsupportedKind)
	}
	kind := x.Kind().String()
	for i, s := range p.steps {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			return nil, err
		}
		out, err := s.Apply(x)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("step %d (%s): %w", i, s.Name(), err)
		}
		stepsApplied.WithLabelValues(s.Name(), kind).Inc()
		x = out
	}
	return x, nil
}

// Run applies the pipeline to an eager input. With deferred set, the steps
// are first built into a graph whose placeholder leaves the batch axis
// unresolved, which is then executed by a device.Session. Both modes
// produce the same values.
func (p *Pipeline) Run(ctx context.Context, x *device.CPUTensor, deferred bool) (*device.CPUTensor, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Run")
	defer span.End()
	span.SetAttributes(attribute.Bool("deferred", deferred))

	start := time.Now()
	mode := "eager"
	if deferred {
		mode = "deferred"
	}
	defer func() {
		runDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}()

	if x == nil {
		return nil, fmt.Errorf("%w: nil input", device.ErrUnsupportedKind)
	}
	if !deferred {
		out, err := p.Apply(ctx, x)
		if err != nil {
			return nil, err
		}
		return out.(*device.CPUTensor), nil
	}

	g := device.NewGraph()
	shape := x.Shape()
	if shape.Rank() > 1 {
		shape[0] = device.UnknownDim
	}
	input, err := g.Placeholder("input", x.DType(), shape)
	if err != nil {
		return nil, err
	}
	out, err := p.Apply(ctx, input)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("pipeline", p.String()).
		Int("nodes", g.Len()).
		Stringer("shape", out.Shape()).
		Msg("Built deferred pipeline")

	results, err := device.NewSession(g).Run(ctx, device.Feeds{input: x}, out.(*device.GraphTensor))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return results[0], nil
}

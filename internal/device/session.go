package device

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("spectra-device")

// Feeds binds placeholders to the eager values they take during a run.
type Feeds map[*GraphTensor]*CPUTensor

// Session executes deferred graphs on the CPU backend.
type Session struct {
	graph *Graph
	cpu   *CPUBackend
}

func NewSession(g *Graph) *Session {
	return &Session{graph: g, cpu: NewCPUBackend()}
}

// Run evaluates fetches and every node they depend on, each exactly once.
// Cancellation of ctx is observed between nodes.
func (s *Session) Run(ctx context.Context, feeds Feeds, fetches ...*GraphTensor) ([]*CPUTensor, error) {
	ctx, span := tracer.Start(ctx, "Session.Run")
	defer span.End()

	start := time.Now()
	defer func() {
		sessionRunDuration.Observe(time.Since(start).Seconds())
	}()

	for _, f := range fetches {
		if f == nil || f.graph != s.graph {
			return nil, fmt.Errorf("%w: fetch %v", ErrForeignGraph, f)
		}
	}

	order := schedule(fetches)
	span.SetAttributes(
		attribute.Int("nodes", len(order)),
		attribute.Int("fetches", len(fetches)),
	)

	values := make(map[int]*CPUTensor, len(order))
	for _, n := range order {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			return nil, err
		}
		v, err := s.eval(n, values, feeds)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("evaluating %s: %w", n, err)
		}
		values[n.id] = v
		sessionNodesEvaluated.Inc()
	}

	out := make([]*CPUTensor, len(fetches))
	for i, f := range fetches {
		out[i] = values[f.id]
	}

	log.Debug().
		Int("nodes", len(order)).
		Int("fetches", len(fetches)).
		Dur("elapsed", time.Since(start)).
		Msg("Session run complete")
	return out, nil
}

// schedule collects the nodes reachable from fetches in creation order.
// Inputs are always created before their consumers, so creation order is a
// valid evaluation order.
func schedule(fetches []*GraphTensor) []*GraphTensor {
	seen := make(map[int]bool)
	var order []*GraphTensor
	stack := append([]*GraphTensor(nil), fetches...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n.id] {
			continue
		}
		seen[n.id] = true
		order = append(order, n)
		stack = append(stack, n.inputs...)
	}
	sort.Slice(order, func(i, j int) bool { return order[i].id < order[j].id })
	return order
}

func (s *Session) eval(n *GraphTensor, values map[int]*CPUTensor, feeds Feeds) (*CPUTensor, error) {
	switch n.op {
	case opPlaceholder:
		v, ok := feeds[n]
		if !ok || v == nil {
			return nil, fmt.Errorf("%w: %q", ErrMissingFeed, n.name)
		}
		if v.dtype != n.dtype {
			return nil, fmt.Errorf("%w: feed for %q is %s, want %s", ErrDType, n.name, v.dtype, n.dtype)
		}
		if !compatible(n.shape, v.shape) {
			return nil, fmt.Errorf("%w: feed for %q has shape %v, want %v", ErrShapeMismatch, n.name, v.shape, n.shape)
		}
		return v, nil
	case opConstant:
		return n.value, nil
	}

	ins := make([]Array, len(n.inputs))
	for i, in := range n.inputs {
		ins[i] = values[in.id]
	}

	var (
		res Array
		err error
	)
	switch n.op {
	case opConcat:
		res, err = s.cpu.Concat(ins, n.axis)
	case opSin:
		res, err = s.cpu.Sin(ins[0])
	case opSum:
		res, err = s.cpu.Sum(ins[0], n.axes...)
	case opMean:
		res, err = s.cpu.Mean(ins[0], n.axes...)
	case opReshape:
		res, err = s.cpu.Reshape(ins[0], n.target)
	case opRFFT:
		res, err = s.cpu.RFFT(ins[0])
	case opIRFFT:
		res, err = s.cpu.IRFFT(ins[0])
	case opMulLastAxis:
		res, err = s.cpu.MulLastAxis(ins[0], n.weights)
	default:
		return nil, fmt.Errorf("unknown op %s", n.op)
	}
	if err != nil {
		return nil, err
	}

	t := res.(*CPUTensor)
	if !compatible(n.shape, t.shape) {
		return nil, fmt.Errorf("%w: produced %v, inferred %v", ErrShapeMismatch, t.shape, n.shape)
	}
	return t, nil
}

// compatible reports whether a concrete shape satisfies a static one.
func compatible(static, actual Shape) bool {
	if len(static) != len(actual) {
		return false
	}
	for i, d := range static {
		if d != UnknownDim && d != actual[i] {
			return false
		}
	}
	return true
}

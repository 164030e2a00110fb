package device

import (
	"fmt"
	"sync"
)

type op int

const (
	opPlaceholder op = iota
	opConstant
	opConcat
	opSin
	opSum
	opMean
	opReshape
	opRFFT
	opIRFFT
	opMulLastAxis
)

var opNames = [...]string{
	opPlaceholder: "placeholder",
	opConstant:    "constant",
	opConcat:      "concat",
	opSin:         "sin",
	opSum:         "sum",
	opMean:        "mean",
	opReshape:     "reshape",
	opRFFT:        "rfft",
	opIRFFT:       "irfft",
	opMulLastAxis: "mul_last_axis",
}

func (o op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Graph is an append-only list of deferred operations. Nodes may be added
// from several goroutines; evaluation is left to a Session.
type Graph struct {
	mu    sync.Mutex
	nodes []*GraphTensor
}

func NewGraph() *Graph {
	return &Graph{}
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes)
}

func (g *Graph) add(n *GraphTensor) *GraphTensor {
	g.mu.Lock()
	defer g.mu.Unlock()
	n.graph = g
	n.id = len(g.nodes)
	g.nodes = append(g.nodes, n)
	graphNodesCreated.Inc()
	return n
}

// Placeholder declares a graph input to be fed when the graph runs.
// Axes may be UnknownDim.
func (g *Graph) Placeholder(name string, dtype DType, shape Shape) (*GraphTensor, error) {
	for _, d := range shape {
		if d < UnknownDim {
			return nil, fmt.Errorf("%w: invalid placeholder shape %v", ErrShapeMismatch, shape)
		}
	}
	if _, err := knownElements(shape); err != nil {
		return nil, err
	}
	if dtype != Float64 && dtype != Complex128 {
		return nil, fmt.Errorf("%w: %s", ErrDType, dtype)
	}
	return g.add(&GraphTensor{op: opPlaceholder, name: name, dtype: dtype, shape: shape.Clone()}), nil
}

// Constant embeds an eager value in the graph.
func (g *Graph) Constant(value *CPUTensor) (*GraphTensor, error) {
	if value == nil {
		return nil, fmt.Errorf("%w: nil constant", ErrUnsupportedKind)
	}
	return g.add(&GraphTensor{op: opConstant, dtype: value.dtype, shape: value.shape.Clone(), value: value}), nil
}

// GraphTensor is the deferred Array kind: a symbolic value whose shape is
// inferred statically and may contain UnknownDim entries.
type GraphTensor struct {
	graph  *Graph
	id     int
	op     op
	name   string
	inputs []*GraphTensor
	dtype  DType
	shape  Shape

	// Per-op attributes.
	axis    int
	axes    []int
	target  Shape
	weights []complex128
	value   *CPUTensor
}

var _ Array = (*GraphTensor)(nil)

func (t *GraphTensor) Kind() Kind {
	return KindDeferred
}

func (t *GraphTensor) DType() DType {
	return t.dtype
}

func (t *GraphTensor) Shape() Shape {
	return t.shape.Clone()
}

// Graph returns the graph the tensor belongs to.
func (t *GraphTensor) Graph() *Graph {
	return t.graph
}

// Op names the operation that produces the tensor.
func (t *GraphTensor) Op() string {
	return t.op.String()
}

func (t *GraphTensor) String() string {
	if t.name != "" {
		return fmt.Sprintf("%s:%s#%d%v", t.name, t.op, t.id, t.shape)
	}
	return fmt.Sprintf("%s#%d%v", t.op, t.id, t.shape)
}

// Package nn holds the graph building blocks shared by the models: named
// parameters, their binding into gorgonia expression graphs, layers and
// losses.
package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Param is a named trainable matrix. Every graph that binds a Param reads
// and updates the same backing tensor.
type Param struct {
	Name  string
	Value *tensor.Dense
}

// NewParam allocates a rows x cols parameter initialised with Glorot
// uniform noise drawn from rng.
func NewParam(name string, rows, cols int, rng *rand.Rand) *Param {
	limit := math.Sqrt(6.0 / float64(rows+cols))
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
	return &Param{
		Name:  name,
		Value: tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(data)),
	}
}

// NewBias allocates a zeroed 1 x cols parameter.
func NewBias(name string, cols int) *Param {
	return &Param{
		Name:  name,
		Value: tensor.New(tensor.WithShape(1, cols), tensor.WithBacking(make([]float64, cols))),
	}
}

// Shape returns the parameter dimensions.
func (p *Param) Shape() []int {
	return []int(p.Value.Shape().Clone())
}

// Data exposes the backing slice.
func (p *Param) Data() []float64 {
	return p.Value.Float64s()
}

// Binding maps parameters onto nodes of a single expression graph.
type Binding struct {
	g     *gorgonia.ExprGraph
	nodes map[*Param]*gorgonia.Node
	order []*gorgonia.Node
}

// Bind creates one node per parameter in g, in the order given.
func Bind(g *gorgonia.ExprGraph, params []*Param) (*Binding, error) {
	b := &Binding{
		g:     g,
		nodes: make(map[*Param]*gorgonia.Node, len(params)),
		order: make([]*gorgonia.Node, 0, len(params)),
	}
	for _, p := range params {
		if _, dup := b.nodes[p]; dup {
			return nil, fmt.Errorf("nn: parameter %s bound twice", p.Name)
		}
		shape := p.Value.Shape()
		if len(shape) != 2 {
			return nil, fmt.Errorf("nn: parameter %s must be a matrix, got shape %v", p.Name, shape)
		}
		n := gorgonia.NewMatrix(g, tensor.Float64,
			gorgonia.WithShape(shape[0], shape[1]),
			gorgonia.WithName(p.Name),
			gorgonia.WithValue(p.Value),
		)
		b.nodes[p] = n
		b.order = append(b.order, n)
	}
	return b, nil
}

// Graph returns the graph the binding lives in.
func (b *Binding) Graph() *gorgonia.ExprGraph { return b.g }

// Node returns the node bound to p. It panics on an unbound parameter,
// which is a programming error in the model definition.
func (b *Binding) Node(p *Param) *gorgonia.Node {
	n, ok := b.nodes[p]
	if !ok {
		panic(fmt.Sprintf("nn: parameter %s is not bound", p.Name))
	}
	return n
}

// Nodes returns the bound nodes in parameter order.
func (b *Binding) Nodes() []*gorgonia.Node { return b.order }

package nn

import (
	"fmt"
	"math/rand"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Linear is a dense affine layer y = xW + b.
type Linear struct {
	W *Param
	B *Param
}

// NewLinear builds a Linear layer mapping in features to out features.
func NewLinear(name string, in, out int, rng *rand.Rand) *Linear {
	return &Linear{
		W: NewParam(name+".weight", in, out, rng),
		B: NewBias(name+".bias", out),
	}
}

// Params lists the layer parameters, weight first.
func (l *Linear) Params() []*Param { return []*Param{l.W, l.B} }

// Forward applies the layer to x of shape [batch, in].
func (l *Linear) Forward(b *Binding, x *gorgonia.Node) (*gorgonia.Node, error) {
	xw, err := gorgonia.Mul(x, b.Node(l.W))
	if err != nil {
		return nil, fmt.Errorf("linear %s: %w", l.W.Name, err)
	}
	return gorgonia.BroadcastAdd(xw, b.Node(l.B), nil, []byte{0})
}

// LSTMCell is a single LSTM step with separate weights per gate.
type LSTMCell struct {
	Hidden int

	input, forget, output, cell *gate
}

type gate struct {
	wx *Param
	wh *Param
	b  *Param
}

func newGate(name string, in, hidden int, rng *rand.Rand) *gate {
	return &gate{
		wx: NewParam(name+".wx", in, hidden, rng),
		wh: NewParam(name+".wh", hidden, hidden, rng),
		b:  NewBias(name+".bias", hidden),
	}
}

func (g *gate) params() []*Param { return []*Param{g.wx, g.wh, g.b} }

func (g *gate) preact(b *Binding, x, h *gorgonia.Node) (*gorgonia.Node, error) {
	xw, err := gorgonia.Mul(x, b.Node(g.wx))
	if err != nil {
		return nil, err
	}
	hw, err := gorgonia.Mul(h, b.Node(g.wh))
	if err != nil {
		return nil, err
	}
	sum, err := gorgonia.Add(xw, hw)
	if err != nil {
		return nil, err
	}
	return gorgonia.BroadcastAdd(sum, b.Node(g.b), nil, []byte{0})
}

// NewLSTMCell builds a cell reading in features into a hidden state of
// the given width.
func NewLSTMCell(name string, in, hidden int, rng *rand.Rand) *LSTMCell {
	c := &LSTMCell{
		Hidden: hidden,
		input:  newGate(name+".input", in, hidden, rng),
		forget: newGate(name+".forget", in, hidden, rng),
		output: newGate(name+".output", in, hidden, rng),
		cell:   newGate(name+".cell", in, hidden, rng),
	}
	// Start with the forget gate open.
	for i := range c.forget.b.Data() {
		c.forget.b.Data()[i] = 1
	}
	return c
}

// Params lists the cell parameters in a stable order.
func (c *LSTMCell) Params() []*Param {
	out := make([]*Param, 0, 12)
	for _, g := range []*gate{c.input, c.forget, c.output, c.cell} {
		out = append(out, g.params()...)
	}
	return out
}

// ZeroState returns zeroed hidden and cell nodes for a batch.
func (c *LSTMCell) ZeroState(b *Binding, batch int, prefix string) (h, cell *gorgonia.Node) {
	h = gorgonia.NewMatrix(b.Graph(), tensor.Float64,
		gorgonia.WithShape(batch, c.Hidden),
		gorgonia.WithName(prefix+".h0"),
		gorgonia.WithInit(gorgonia.Zeroes()),
	)
	cell = gorgonia.NewMatrix(b.Graph(), tensor.Float64,
		gorgonia.WithShape(batch, c.Hidden),
		gorgonia.WithName(prefix+".c0"),
		gorgonia.WithInit(gorgonia.Zeroes()),
	)
	return h, cell
}

// Step advances the cell by one input frame x given the previous state.
func (c *LSTMCell) Step(b *Binding, x, h, cell *gorgonia.Node) (*gorgonia.Node, *gorgonia.Node, error) {
	ip, err := c.input.preact(b, x, h)
	if err != nil {
		return nil, nil, fmt.Errorf("lstm input gate: %w", err)
	}
	fp, err := c.forget.preact(b, x, h)
	if err != nil {
		return nil, nil, fmt.Errorf("lstm forget gate: %w", err)
	}
	op, err := c.output.preact(b, x, h)
	if err != nil {
		return nil, nil, fmt.Errorf("lstm output gate: %w", err)
	}
	cp, err := c.cell.preact(b, x, h)
	if err != nil {
		return nil, nil, fmt.Errorf("lstm cell gate: %w", err)
	}

	i := gorgonia.Must(gorgonia.Sigmoid(ip))
	f := gorgonia.Must(gorgonia.Sigmoid(fp))
	o := gorgonia.Must(gorgonia.Sigmoid(op))
	g := gorgonia.Must(gorgonia.Tanh(cp))

	keep := gorgonia.Must(gorgonia.HadamardProd(f, cell))
	write := gorgonia.Must(gorgonia.HadamardProd(i, g))
	nextCell := gorgonia.Must(gorgonia.Add(keep, write))
	nextH := gorgonia.Must(gorgonia.HadamardProd(o, gorgonia.Must(gorgonia.Tanh(nextCell))))
	return nextH, nextCell, nil
}

package trainer

import (
	"fmt"
	"strings"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"chromaframe/internal/nn"
)

// forwardFunc builds the model output for a list of input nodes.
type forwardFunc func(b *nn.Binding, xs []*gorgonia.Node) (*gorgonia.Node, error)

// programKey identifies a compiled graph. Graphs have static shapes, so
// each distinct batch shape gets its own program.
type programKey struct {
	family string
	train  bool
	shapes string
}

// program is one compiled expression graph bound to the model parameters.
// Every program shares the parameter tensors, so an optimizer step taken
// through one is visible to all.
type program struct {
	vm     gorgonia.VM
	inputs []*gorgonia.Node
	target *gorgonia.Node
	loss   *gorgonia.Node
	params []*gorgonia.Node
	solver gorgonia.Solver
}

func shapeKey(inputs []*tensor.Dense, target *tensor.Dense) string {
	parts := make([]string, 0, len(inputs)+1)
	for _, in := range inputs {
		parts = append(parts, fmt.Sprint(in.Shape()))
	}
	parts = append(parts, fmt.Sprint(target.Shape()))
	return strings.Join(parts, "|")
}

// programFor returns the cached program for the given shapes, compiling it
// on first use.
func (t *Trainer) programFor(family string, train bool, inputs []*tensor.Dense, target *tensor.Dense, forward forwardFunc) (*program, error) {
	key := programKey{family: family, train: train, shapes: shapeKey(inputs, target)}
	if p, ok := t.programs[key]; ok {
		return p, nil
	}
	p, err := t.compile(train, inputs, target, forward)
	if err != nil {
		return nil, fmt.Errorf("compile %s graph %s: %w", family, key.shapes, err)
	}
	t.programs[key] = p
	return p, nil
}

func (t *Trainer) compile(train bool, inputs []*tensor.Dense, target *tensor.Dense, forward forwardFunc) (*program, error) {
	g := gorgonia.NewGraph()
	b, err := nn.Bind(g, t.model.Params())
	if err != nil {
		return nil, err
	}

	xs := make([]*gorgonia.Node, len(inputs))
	for i, in := range inputs {
		xs[i] = gorgonia.NewTensor(g, tensor.Float64, in.Dims(),
			gorgonia.WithShape(in.Shape()...),
			gorgonia.WithName(fmt.Sprintf("input.%d", i)),
		)
	}
	y := gorgonia.NewTensor(g, tensor.Float64, target.Dims(),
		gorgonia.WithShape(target.Shape()...),
		gorgonia.WithName("target"),
	)

	out, err := forward(b, xs)
	if err != nil {
		return nil, err
	}
	if !out.Shape().Eq(y.Shape()) {
		return nil, fmt.Errorf("output shape %v does not match target shape %v", out.Shape(), y.Shape())
	}
	loss, err := t.loss(out, y)
	if err != nil {
		return nil, fmt.Errorf("loss: %w", err)
	}

	p := &program{inputs: xs, target: y, loss: loss, params: b.Nodes()}
	opts := t.machineOpts()
	if train {
		if _, err := gorgonia.Grad(loss, p.params...); err != nil {
			return nil, fmt.Errorf("backward: %w", err)
		}
		opts = append(opts, gorgonia.BindDualValues(p.params...))
		p.solver = t.solver
	}
	p.vm = gorgonia.NewTapeMachine(g, opts...)
	return p, nil
}

// run executes the graph on one batch and returns the loss. Training
// programs also apply an optimizer step, which leaves the gradients zeroed
// for the next batch.
func (p *program) run(inputs []*tensor.Dense, target *tensor.Dense) (float64, error) {
	defer p.vm.Reset()

	for i, x := range p.inputs {
		if err := gorgonia.Let(x, inputs[i]); err != nil {
			return 0, fmt.Errorf("bind input %d: %w", i, err)
		}
	}
	if err := gorgonia.Let(p.target, target); err != nil {
		return 0, fmt.Errorf("bind target: %w", err)
	}
	if err := p.vm.RunAll(); err != nil {
		return 0, fmt.Errorf("forward: %w", err)
	}
	loss, err := nn.Scalar(p.loss.Value())
	if err != nil {
		return 0, err
	}
	if p.solver != nil {
		if err := p.solver.Step(gorgonia.NodesToValueGrads(p.params)); err != nil {
			return 0, fmt.Errorf("optimizer step: %w", err)
		}
	}
	return loss, nil
}

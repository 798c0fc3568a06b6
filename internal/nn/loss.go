package nn

import (
	"fmt"
	"sort"
	"strings"

	"gorgonia.org/gorgonia"
)

// LossFunc reduces a model output and its target to a scalar node.
type LossFunc func(output, target *gorgonia.Node) (*gorgonia.Node, error)

// MSE is the mean squared error over every element.
func MSE(output, target *gorgonia.Node) (*gorgonia.Node, error) {
	diff, err := gorgonia.Sub(output, target)
	if err != nil {
		return nil, fmt.Errorf("mse: %w", err)
	}
	sq, err := gorgonia.Square(diff)
	if err != nil {
		return nil, fmt.Errorf("mse: %w", err)
	}
	return gorgonia.Mean(sq)
}

// L1 is the mean absolute error over every element.
func L1(output, target *gorgonia.Node) (*gorgonia.Node, error) {
	diff, err := gorgonia.Sub(output, target)
	if err != nil {
		return nil, fmt.Errorf("l1: %w", err)
	}
	abs, err := gorgonia.Abs(diff)
	if err != nil {
		return nil, fmt.Errorf("l1: %w", err)
	}
	return gorgonia.Mean(abs)
}

var losses = map[string]LossFunc{
	"mse": MSE,
	"l1":  L1,
}

// LossByName looks up a loss by its config name.
func LossByName(name string) (LossFunc, error) {
	fn, ok := losses[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown loss %q (want one of %s)", name, strings.Join(LossNames(), ", "))
	}
	return fn, nil
}

// LossNames lists the registered losses.
func LossNames() []string {
	names := make([]string, 0, len(losses))
	for name := range losses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Scalar reads a float64 out of a reduced loss value.
func Scalar(v gorgonia.Value) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("nn: loss has no value")
	}
	switch d := v.Data().(type) {
	case float64:
		return d, nil
	case []float64:
		if len(d) == 1 {
			return d[0], nil
		}
		return 0, fmt.Errorf("nn: loss is not scalar (%d elements)", len(d))
	default:
		return 0, fmt.Errorf("nn: unexpected loss type %T", d)
	}
}

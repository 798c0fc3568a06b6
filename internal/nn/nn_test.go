package nn

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func evalLoss(t *testing.T, fn LossFunc, out, target []float64) float64 {
	t.Helper()
	g := gorgonia.NewGraph()
	o := gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(1, len(out)), gorgonia.WithName("out"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(1, len(out)), tensor.WithBacking(out))))
	y := gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(1, len(target)), gorgonia.WithName("target"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(1, len(target)), tensor.WithBacking(target))))
	loss, err := fn(o, y)
	require.NoError(t, err)

	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	require.NoError(t, vm.RunAll())
	v, err := Scalar(loss.Value())
	require.NoError(t, err)
	return v
}

func TestLosses(t *testing.T) {
	require.InDelta(t, 2.5, evalLoss(t, MSE, []float64{1, 2}, []float64{0, 0}), 1e-9)
	require.InDelta(t, 1.5, evalLoss(t, L1, []float64{1, -2}, []float64{0, 0}), 1e-9)
}

func TestLossByName(t *testing.T) {
	fn, err := LossByName(" MSE ")
	require.NoError(t, err)
	require.NotNil(t, fn)

	_, err = LossByName("hinge")
	require.ErrorContains(t, err, "unknown loss")
	require.Equal(t, []string{"l1", "mse"}, LossNames())
}

func TestBindSharesBacking(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	lin := NewLinear("enc", 3, 2, rng)

	g1, g2 := gorgonia.NewGraph(), gorgonia.NewGraph()
	b1, err := Bind(g1, lin.Params())
	require.NoError(t, err)
	b2, err := Bind(g2, lin.Params())
	require.NoError(t, err)

	lin.W.Data()[0] = 42
	require.Equal(t, 42.0, b1.Node(lin.W).Value().Data().([]float64)[0])
	require.Equal(t, 42.0, b2.Node(lin.W).Value().Data().([]float64)[0])
	require.Len(t, b1.Nodes(), 2)
}

func TestBindRejectsDuplicates(t *testing.T) {
	p := NewBias("b", 4)
	_, err := Bind(gorgonia.NewGraph(), []*Param{p, p})
	require.ErrorContains(t, err, "bound twice")
}

func TestLinearForwardShape(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	lin := NewLinear("l", 4, 5, rng)
	g := gorgonia.NewGraph()
	b, err := Bind(g, lin.Params())
	require.NoError(t, err)

	x := gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(2, 4), gorgonia.WithName("x"),
		gorgonia.WithInit(gorgonia.Ones()))
	y, err := lin.Forward(b, x)
	require.NoError(t, err)
	require.Equal(t, tensor.Shape{2, 5}, y.Shape())
}

func TestLSTMCellStep(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	cell := NewLSTMCell("enc", 3, 4, rng)
	require.Len(t, cell.Params(), 12)

	g := gorgonia.NewGraph()
	b, err := Bind(g, cell.Params())
	require.NoError(t, err)
	x := gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(2, 3), gorgonia.WithName("x"),
		gorgonia.WithInit(gorgonia.Ones()))
	h0, c0 := cell.ZeroState(b, 2, "enc")
	h, c, err := cell.Step(b, x, h0, c0)
	require.NoError(t, err)

	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	require.NoError(t, vm.RunAll())
	require.Equal(t, tensor.Shape{2, 4}, h.Shape())
	require.Equal(t, tensor.Shape{2, 4}, c.Shape())
	for _, v := range h.Value().Data().([]float64) {
		require.True(t, v > -1 && v < 1, "hidden state %f out of tanh range", v)
	}
}

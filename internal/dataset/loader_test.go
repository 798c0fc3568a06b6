package dataset

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func rows(n, width int) *tensor.Dense {
	data := make([]float64, n*width)
	for i := 0; i < n; i++ {
		for j := 0; j < width; j++ {
			data[i*width+j] = float64(i)
		}
	}
	return tensor.New(tensor.WithShape(n, width), tensor.WithBacking(data))
}

func drain(t *testing.T, l Loader, epoch int) []Batch {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	batches, errs := l.Stream(ctx, epoch)
	var out []Batch
	for batches != nil || errs != nil {
		select {
		case b, ok := <-batches:
			if !ok {
				batches = nil
				continue
			}
			out = append(out, b)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			require.NoError(t, err)
		}
	}
	return out
}

func firstColumn(b Batch) []float64 {
	width := b.Inputs.Shape()[1]
	data := b.Inputs.Float64s()
	out := make([]float64, 0, b.Size())
	for i := 0; i < b.Size(); i++ {
		out = append(out, data[i*width])
	}
	return out
}

func TestTensorsKeepsPartialBatch(t *testing.T) {
	l, err := NewTensors(rows(5, 3), rows(5, 2), Options{BatchSize: 2})
	require.NoError(t, err)
	require.Equal(t, 3, l.Len())
	require.Equal(t, 5, l.Samples())

	batches := drain(t, l, 0)
	require.Len(t, batches, 3)
	require.Equal(t, []int{2, 2, 1}, []int{batches[0].Size(), batches[1].Size(), batches[2].Size()})
	require.Equal(t, []float64{4}, firstColumn(batches[2]))
	require.Equal(t, tensor.Shape{1, 2}, batches[2].Targets.Shape())
}

func TestTensorsShuffleIsSeededPerEpoch(t *testing.T) {
	l, err := NewTensors(rows(16, 1), rows(16, 1), Options{BatchSize: 16, Shuffle: true, Seed: 3})
	require.NoError(t, err)

	a := firstColumn(drain(t, l, 0)[0])
	b := firstColumn(drain(t, l, 0)[0])
	c := firstColumn(drain(t, l, 1)[0])
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("same epoch produced different orders:\n%s", diff)
	}
	require.NotEqual(t, a, c)
	require.ElementsMatch(t, a, c)
}

func TestTensorsTargetsFollowInputs(t *testing.T) {
	l, err := NewTensors(rows(8, 2), rows(8, 4), Options{BatchSize: 3, Shuffle: true, Seed: 11})
	require.NoError(t, err)
	for _, b := range drain(t, l, 2) {
		targets := b.Targets.Float64s()
		for i, v := range firstColumn(b) {
			require.Equal(t, v, targets[i*4])
		}
	}
}

func TestNewTensorsValidation(t *testing.T) {
	_, err := NewTensors(rows(3, 1), rows(4, 1), Options{})
	require.ErrorContains(t, err, "3 inputs but 4 targets")

	_, err = NewTensors(nil, rows(1, 1), Options{})
	require.Error(t, err)

	vec := tensor.New(tensor.WithShape(3), tensor.WithBacking([]float64{1, 2, 3}))
	_, err = NewTensors(vec, vec, Options{})
	require.ErrorContains(t, err, "batch axis")
}

func TestStreamStopsOnCancel(t *testing.T) {
	l, err := NewTensors(rows(10, 1), rows(10, 1), Options{BatchSize: 1})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	batches, errs := l.Stream(ctx, 0)
	<-batches
	cancel()
	for range batches {
	}
	var got error
	for err := range errs {
		got = err
	}
	require.ErrorIs(t, got, context.Canceled)
}

func TestSplit(t *testing.T) {
	seq := tensor.New(tensor.WithShape(2, 3, 2), tensor.WithBacking([]float64{
		0, 1, 2, 3, 4, 5,
		6, 7, 8, 9, 10, 11,
	}))
	frames, err := Split(seq)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	require.Equal(t, []float64{0, 1, 6, 7}, frames[0].Float64s())
	require.Equal(t, []float64{4, 5, 10, 11}, frames[2].Float64s())

	_, err = Split(rows(2, 2))
	require.Error(t, err)
}

func TestSyntheticShapes(t *testing.T) {
	in, out := Colorization(4, 3, 5, 1)
	require.Equal(t, tensor.Shape{4, 15}, in.Shape())
	require.Equal(t, tensor.Shape{4, 45}, out.Shape())
	for _, v := range append(in.Float64s(), out.Float64s()...) {
		require.True(t, v >= 0 && v <= 1)
	}

	seq, tgt := Motion(3, 4, 2, 10, 1)
	require.Equal(t, tensor.Shape{3, 4, 10}, seq.Shape())
	require.Equal(t, tensor.Shape{3, 20}, tgt.Shape())
}

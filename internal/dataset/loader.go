// Package dataset feeds batches of input/target tensors to the trainer.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"gorgonia.org/tensor"
)

// Batch is a minibatch of inputs and their targets. The leading axis of
// both tensors is the batch axis.
type Batch struct {
	Inputs  *tensor.Dense
	Targets *tensor.Dense
}

// Size returns the number of samples in the batch.
func (b Batch) Size() int {
	if b.Inputs == nil {
		return 0
	}
	return b.Inputs.Shape()[0]
}

// Loader produces the batches of one pass over a dataset.
type Loader interface {
	// Len is the number of batches delivered per epoch.
	Len() int
	// Stream delivers the batches of the given epoch. Both channels are
	// closed when the epoch is exhausted or ctx is done.
	Stream(ctx context.Context, epoch int) (<-chan Batch, <-chan error)
}

// Options configures an in-memory loader.
type Options struct {
	BatchSize int
	Shuffle   bool
	Seed      int64
}

// Tensors is an in-memory Loader over a pair of sample-major tensors. The
// final partial batch is kept.
type Tensors struct {
	inputs  *tensor.Dense
	targets *tensor.Dense
	n       int
	opts    Options
}

// NewTensors checks that inputs and targets hold the same number of samples.
func NewTensors(inputs, targets *tensor.Dense, opts Options) (*Tensors, error) {
	if inputs == nil || targets == nil {
		return nil, errors.New("dataset: inputs and targets are required")
	}
	if inputs.Dims() < 2 || targets.Dims() < 2 {
		return nil, fmt.Errorf("dataset: tensors need a batch axis (inputs %v, targets %v)", inputs.Shape(), targets.Shape())
	}
	n := inputs.Shape()[0]
	if targets.Shape()[0] != n {
		return nil, fmt.Errorf("dataset: %d inputs but %d targets", n, targets.Shape()[0])
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	return &Tensors{inputs: inputs, targets: targets, n: n, opts: opts}, nil
}

// Samples returns the number of samples.
func (l *Tensors) Samples() int { return l.n }

func (l *Tensors) Len() int {
	return (l.n + l.opts.BatchSize - 1) / l.opts.BatchSize
}

func (l *Tensors) Stream(ctx context.Context, epoch int) (<-chan Batch, <-chan error) {
	out := make(chan Batch, 1)
	errCh := make(chan error, 1)

	order := make([]int, l.n)
	for i := range order {
		order[i] = i
	}
	if l.opts.Shuffle {
		rng := rand.New(rand.NewSource(l.opts.Seed + int64(epoch)))
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	go func() {
		defer close(out)
		defer close(errCh)

		for start := 0; start < l.n; start += l.opts.BatchSize {
			if err := ctx.Err(); err != nil {
				errCh <- err
				return
			}
			end := start + l.opts.BatchSize
			if end > l.n {
				end = l.n
			}
			batch := Batch{
				Inputs:  gather(l.inputs, order[start:end]),
				Targets: gather(l.targets, order[start:end]),
			}
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- batch:
			}
		}
	}()

	return out, errCh
}

// gather copies the selected samples of src into a new tensor.
func gather(src *tensor.Dense, rows []int) *tensor.Dense {
	shape := src.Shape().Clone()
	stride := 1
	for _, d := range shape[1:] {
		stride *= d
	}
	data := src.Float64s()
	buf := make([]float64, len(rows)*stride)
	for i, r := range rows {
		copy(buf[i*stride:(i+1)*stride], data[r*stride:(r+1)*stride])
	}
	shape[0] = len(rows)
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(buf))
}

// Split breaks a [batch, steps, features] sequence into one
// [batch, features] tensor per step.
func Split(seq *tensor.Dense) ([]*tensor.Dense, error) {
	shape := seq.Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("dataset: sequence must be [batch steps features], got %v", shape)
	}
	batch, steps, features := shape[0], shape[1], shape[2]
	data := seq.Float64s()
	frames := make([]*tensor.Dense, steps)
	for s := 0; s < steps; s++ {
		buf := make([]float64, batch*features)
		for b := 0; b < batch; b++ {
			off := (b*steps + s) * features
			copy(buf[b*features:(b+1)*features], data[off:off+features])
		}
		frames[s] = tensor.New(tensor.WithShape(batch, features), tensor.WithBacking(buf))
	}
	return frames, nil
}

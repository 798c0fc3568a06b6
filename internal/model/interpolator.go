package model

import (
	"errors"
	"fmt"
	"math/rand"

	"gorgonia.org/gorgonia"

	"chromaframe/internal/nn"
)

// FrameLSTM is a sequence-to-sequence interpolator. An LSTM encoder reads
// the context frames; the same cell then rolls forward n steps, feeding
// each predicted frame back in as the next input.
type FrameLSTM struct {
	frameSize int

	cell *nn.LSTMCell
	head *nn.Linear
}

// FrameLSTMOptions sizes the interpolator.
type FrameLSTMOptions struct {
	FrameSize int
	Hidden    int
	Seed      int64
}

// NewFrameLSTM constructs the model with seeded initialization.
func NewFrameLSTM(opts FrameLSTMOptions) *FrameLSTM {
	if opts.FrameSize <= 0 {
		opts.FrameSize = 16
	}
	if opts.Hidden <= 0 {
		opts.Hidden = 32
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	return &FrameLSTM{
		frameSize: opts.FrameSize,
		cell:      nn.NewLSTMCell("lstm", opts.FrameSize, opts.Hidden, rng),
		head:      nn.NewLinear("head", opts.Hidden, opts.FrameSize, rng),
	}
}

// Kind reports the interpolator family.
func (m *FrameLSTM) Kind() Kind { return KindInterpolator }

// FrameSize is the per-frame feature width.
func (m *FrameLSTM) FrameSize() int { return m.frameSize }

// Params lists the cell parameters then the output head.
func (m *FrameLSTM) Params() []*nn.Param {
	return append(m.cell.Params(), m.head.Params()...)
}

// Forward reads the keyframe sequence and predicts n frames.
func (m *FrameLSTM) Forward(b *nn.Binding, seq []*gorgonia.Node, n int) (*gorgonia.Node, error) {
	if len(seq) == 0 {
		return nil, errors.New("frame lstm: empty sequence")
	}
	if n <= 0 {
		return nil, fmt.Errorf("frame lstm: n must be > 0 (got %d)", n)
	}
	batch := seq[0].Shape()[0]
	for i, x := range seq {
		if got := x.Shape(); len(got) != 2 || got[0] != batch || got[1] != m.frameSize {
			return nil, fmt.Errorf("frame lstm: frame %d shape %v, want [%d %d]", i, got, batch, m.frameSize)
		}
	}

	h, c := m.cell.ZeroState(b, batch, "lstm")
	var err error
	for i, x := range seq {
		if h, c, err = m.cell.Step(b, x, h, c); err != nil {
			return nil, fmt.Errorf("frame lstm encode %d: %w", i, err)
		}
	}

	prev := seq[len(seq)-1]
	frames := make([]*gorgonia.Node, 0, n)
	for i := 0; i < n; i++ {
		if h, c, err = m.cell.Step(b, prev, h, c); err != nil {
			return nil, fmt.Errorf("frame lstm decode %d: %w", i, err)
		}
		z, err := m.head.Forward(b, h)
		if err != nil {
			return nil, fmt.Errorf("frame lstm head %d: %w", i, err)
		}
		frame, err := gorgonia.Sigmoid(z)
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
		prev = frame
	}
	if len(frames) == 1 {
		return frames[0], nil
	}
	return gorgonia.Concat(1, frames...)
}

package model

import (
	"fmt"
	"math/rand"

	"gorgonia.org/gorgonia"

	"chromaframe/internal/nn"
)

// Colorizer is a dense autoencoder from a grayscale image to its RGB
// reconstruction. Inputs are [batch, H*W], outputs [batch, 3*H*W] in (0, 1).
type Colorizer struct {
	height, width int

	enc1, enc2 *nn.Linear
	dec1, dec2 *nn.Linear
}

// ColorizerOptions sizes the autoencoder.
type ColorizerOptions struct {
	Height int
	Width  int
	Hidden int
	Latent int
	Seed   int64
}

// NewColorizer constructs the model with seeded initialization.
func NewColorizer(opts ColorizerOptions) *Colorizer {
	if opts.Height <= 0 {
		opts.Height = 8
	}
	if opts.Width <= 0 {
		opts.Width = 8
	}
	if opts.Hidden <= 0 {
		opts.Hidden = 64
	}
	if opts.Latent <= 0 {
		opts.Latent = 16
	}
	pixels := opts.Height * opts.Width
	rng := rand.New(rand.NewSource(opts.Seed))
	return &Colorizer{
		height: opts.Height,
		width:  opts.Width,
		enc1:   nn.NewLinear("encoder.0", pixels, opts.Hidden, rng),
		enc2:   nn.NewLinear("encoder.1", opts.Hidden, opts.Latent, rng),
		dec1:   nn.NewLinear("decoder.0", opts.Latent, opts.Hidden, rng),
		dec2:   nn.NewLinear("decoder.1", opts.Hidden, 3*pixels, rng),
	}
}

// Kind reports the autoencoder family.
func (m *Colorizer) Kind() Kind { return KindAutoencoder }

// ImageSize returns the image height and width the model was built for.
func (m *Colorizer) ImageSize() (height, width int) { return m.height, m.width }

// InputSize is the flattened grayscale width.
func (m *Colorizer) InputSize() int { return m.height * m.width }

// OutputSize is the flattened RGB width.
func (m *Colorizer) OutputSize() int { return 3 * m.height * m.width }

// Params lists the encoder then decoder parameters.
func (m *Colorizer) Params() []*nn.Param {
	var out []*nn.Param
	for _, l := range []*nn.Linear{m.enc1, m.enc2, m.dec1, m.dec2} {
		out = append(out, l.Params()...)
	}
	return out
}

// Forward maps a [batch, H*W] grayscale node to [batch, 3*H*W] colors.
func (m *Colorizer) Forward(b *nn.Binding, x *gorgonia.Node) (*gorgonia.Node, error) {
	if got := x.Shape(); len(got) != 2 || got[1] != m.InputSize() {
		return nil, fmt.Errorf("colorizer: input shape %v, want [batch %d]", got, m.InputSize())
	}
	h := x
	for i, l := range []*nn.Linear{m.enc1, m.enc2, m.dec1} {
		z, err := l.Forward(b, h)
		if err != nil {
			return nil, fmt.Errorf("colorizer layer %d: %w", i, err)
		}
		if h, err = gorgonia.Rectify(z); err != nil {
			return nil, fmt.Errorf("colorizer layer %d: %w", i, err)
		}
	}
	z, err := m.dec2.Forward(b, h)
	if err != nil {
		return nil, fmt.Errorf("colorizer output: %w", err)
	}
	return gorgonia.Sigmoid(z)
}

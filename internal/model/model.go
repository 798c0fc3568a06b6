// Package model defines the model families the trainer drives and a small
// reference implementation of each.
package model

import (
	"fmt"

	"gorgonia.org/gorgonia"

	"chromaframe/internal/nn"
)

// Kind names a model family.
type Kind string

const (
	KindAutoencoder  Kind = "autoencoder"
	KindInterpolator Kind = "interpolator"
)

// ParseKind validates a model family name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindAutoencoder, KindInterpolator:
		return k, nil
	default:
		return "", fmt.Errorf("unknown model kind %q", s)
	}
}

// Model is anything with an ordered set of named parameters.
type Model interface {
	Kind() Kind
	Params() []*nn.Param
}

// Autoencoder maps a batch of flattened images to reconstructed images.
type Autoencoder interface {
	Model
	Forward(b *nn.Binding, x *gorgonia.Node) (*gorgonia.Node, error)
}

// Interpolator consumes a sequence of frames and produces n new frames,
// concatenated along the feature axis.
type Interpolator interface {
	Model
	Forward(b *nn.Binding, seq []*gorgonia.Node, n int) (*gorgonia.Node, error)
}

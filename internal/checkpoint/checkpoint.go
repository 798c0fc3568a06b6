// Package checkpoint persists model state dicts.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"chromaframe/internal/nn"
)

// ErrMismatch reports a state dict that does not fit the target model.
var ErrMismatch = errors.New("checkpoint: state does not match model")

// Tensor is one named parameter in a state dict.
type Tensor struct {
	Name  string    `msgpack:"name"`
	Shape []int     `msgpack:"shape"`
	Data  []float64 `msgpack:"data"`
}

// State is the persisted form of a model.
type State struct {
	Kind    string   `msgpack:"kind"`
	Epoch   int      `msgpack:"epoch"`
	ValLoss float64  `msgpack:"val_loss"`
	Params  []Tensor `msgpack:"params"`
}

// Capture copies the current parameter values into a State.
func Capture(kind string, params []*nn.Param) State {
	st := State{Kind: kind, Params: make([]Tensor, 0, len(params))}
	for _, p := range params {
		data := make([]float64, len(p.Data()))
		copy(data, p.Data())
		st.Params = append(st.Params, Tensor{Name: p.Name, Shape: p.Shape(), Data: data})
	}
	return st
}

// Apply writes st into params in place. Names, order and shapes must match.
func Apply(st State, params []*nn.Param) error {
	if len(st.Params) != len(params) {
		return fmt.Errorf("%w: %d tensors, model has %d", ErrMismatch, len(st.Params), len(params))
	}
	for i, p := range params {
		t := st.Params[i]
		if t.Name != p.Name {
			return fmt.Errorf("%w: tensor %d is %q, want %q", ErrMismatch, i, t.Name, p.Name)
		}
		if !sameShape(t.Shape, p.Shape()) || len(t.Data) != len(p.Data()) {
			return fmt.Errorf("%w: %s has shape %v, want %v", ErrMismatch, p.Name, t.Shape, p.Shape())
		}
	}
	for i, p := range params {
		copy(p.Data(), st.Params[i].Data)
	}
	return nil
}

// Save writes st to path. The file is replaced atomically.
func Save(path string, st State) error {
	payload, err := msgpack.Marshal(&st)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// Load reads a State from path.
func Load(path string) (State, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return State{}, fmt.Errorf("read checkpoint: %w", err)
	}
	var st State
	if err := msgpack.Unmarshal(payload, &st); err != nil {
		return State{}, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return st, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

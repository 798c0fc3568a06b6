// Package trainer runs the epoch loop shared by every model family:
// optimise on the training batches, score the validation batches, and keep
// the checkpoint of the best validation loss on disk.
package trainer

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"gorgonia.org/gorgonia"

	"chromaframe/internal/checkpoint"
	"chromaframe/internal/device"
	"chromaframe/internal/model"
	"chromaframe/internal/nn"
)

// DefaultLearningRate is the Adam step size used unless overridden.
const DefaultLearningRate = 0.001

var (
	// ErrEmptyLoader is returned when the validation loader yields no batches.
	ErrEmptyLoader = errors.New("trainer: validation loader is empty")
	// ErrWrongModel is returned when a routine is called on a model of the
	// other family.
	ErrWrongModel = errors.New("trainer: model does not support this routine")
)

// Trainer couples a model with its loss, optimizer and save path.
type Trainer struct {
	model    model.Model
	loss     nn.LossFunc
	savePath string

	device   device.Device
	lr       float64
	solver   gorgonia.Solver
	logger   *slog.Logger
	logEvery int

	programs map[programKey]*program

	// Best checkpoint so far and the number of the next epoch to run.
	// LoadModel seeds both so a resumed run continues the same record.
	bestEpoch int
	bestLoss  float64
	nextEpoch int
}

// Option customises a Trainer.
type Option func(*settings)

type settings struct {
	lr       float64
	device   string
	logger   *slog.Logger
	logEvery int
}

// WithLearningRate overrides the Adam learning rate.
func WithLearningRate(lr float64) Option {
	return func(s *settings) { s.lr = lr }
}

// WithDevice requests a device ("auto", "cpu" or "cuda").
func WithDevice(name string) Option {
	return func(s *settings) { s.device = name }
}

// WithLogger sets the logger used for progress lines.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithLogEvery logs running training metrics every n optimizer steps.
// Zero disables step logging; epoch summaries are always logged.
func WithLogEvery(n int) Option {
	return func(s *settings) { s.logEvery = n }
}

// New builds a Trainer for m. The device is resolved up front and an Adam
// optimizer is created over the model parameters.
func New(m model.Model, loss nn.LossFunc, savePath string, opts ...Option) (*Trainer, error) {
	if m == nil {
		return nil, errors.New("trainer: model is required")
	}
	if loss == nil {
		return nil, errors.New("trainer: loss function is required")
	}
	if strings.TrimSpace(savePath) == "" {
		return nil, errors.New("trainer: save path is required")
	}
	s := settings{lr: DefaultLearningRate, device: "auto"}
	for _, opt := range opts {
		opt(&s)
	}
	if s.lr <= 0 {
		return nil, fmt.Errorf("trainer: learning rate must be > 0 (got %g)", s.lr)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	dev, err := device.Resolve(s.device)
	if err != nil {
		return nil, err
	}

	return &Trainer{
		model:     m,
		loss:      loss,
		savePath:  savePath,
		device:    dev,
		lr:        s.lr,
		solver:    gorgonia.NewAdamSolver(gorgonia.WithLearnRate(s.lr)),
		logger:    s.logger.With("model", string(m.Kind())),
		logEvery:  s.logEvery,
		programs:  make(map[programKey]*program),
		bestEpoch: -1,
		bestLoss:  math.Inf(1),
	}, nil
}

// Model returns the wrapped model.
func (t *Trainer) Model() model.Model { return t.model }

// Device returns the resolved device.
func (t *Trainer) Device() device.Device { return t.device }

// SavePath returns where the best checkpoint is written.
func (t *Trainer) SavePath() string { return t.savePath }

// SaveModel writes the current parameters to the save path.
func (t *Trainer) SaveModel() error {
	st := checkpoint.Capture(string(t.model.Kind()), t.model.Params())
	st.Epoch = t.bestEpoch
	st.ValLoss = t.bestLoss
	if err := checkpoint.Save(t.savePath, st); err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	return nil
}

// LoadModel restores parameters from the save path and returns the
// checkpoint it read. The checkpoint's validation loss becomes the score
// later epochs must beat, and epoch numbering resumes after its epoch.
func (t *Trainer) LoadModel() (checkpoint.State, error) {
	st, err := checkpoint.Load(t.savePath)
	if err != nil {
		return checkpoint.State{}, err
	}
	if st.Kind != string(t.model.Kind()) {
		return checkpoint.State{}, fmt.Errorf("%w: checkpoint holds %q, model is %q", checkpoint.ErrMismatch, st.Kind, t.model.Kind())
	}
	if err := checkpoint.Apply(st, t.model.Params()); err != nil {
		return checkpoint.State{}, err
	}
	t.bestEpoch, t.bestLoss = st.Epoch, st.ValLoss
	t.nextEpoch = st.Epoch + 1
	return st, nil
}

// Close releases the compiled graphs.
func (t *Trainer) Close() error {
	var errs []error
	for key, p := range t.programs {
		if err := p.vm.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(t.programs, key)
	}
	return errors.Join(errs...)
}

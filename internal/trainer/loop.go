package trainer

import (
	"context"
	"fmt"
	"math"
	"time"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"chromaframe/internal/dataset"
	"chromaframe/internal/metrics"
	"chromaframe/internal/model"
	"chromaframe/internal/nn"
)

// EpochStats summarises one epoch.
type EpochStats struct {
	Epoch     int
	TrainLoss float64
	ValLoss   float64
	Saved     bool
	Duration  time.Duration
}

// Result reports the outcome of a training run. BestEpoch is -1 and
// BestLoss +Inf when no checkpoint exists. After LoadModel they start from
// the restored checkpoint.
type Result struct {
	BestLoss  float64
	BestEpoch int
	History   []EpochStats
}

// stepper runs single batches through a model family.
type stepper interface {
	trainStep(b dataset.Batch) (float64, error)
	evalStep(b dataset.Batch) (float64, error)
}

// TrainAutoencoder fits an autoencoder: each batch is (input, target) and
// the forward pass is model(input).
func (t *Trainer) TrainAutoencoder(ctx context.Context, epochs int, train, val dataset.Loader) (Result, error) {
	s, err := t.autoencoderSteps()
	if err != nil {
		return newResult(), err
	}
	return t.fit(ctx, epochs, train, val, s)
}

// TrainInterpolator fits a sequence model: each batch is (sequence,
// target) and the forward pass is model(sequence, nInterpolate).
func (t *Trainer) TrainInterpolator(ctx context.Context, epochs, nInterpolate int, train, val dataset.Loader) (Result, error) {
	s, err := t.interpolatorSteps(nInterpolate)
	if err != nil {
		return newResult(), err
	}
	return t.fit(ctx, epochs, train, val, s)
}

// EvaluateAutoencoder returns the mean validation loss of an autoencoder
// without touching its parameters.
func (t *Trainer) EvaluateAutoencoder(ctx context.Context, val dataset.Loader) (float64, error) {
	s, err := t.autoencoderSteps()
	if err != nil {
		return 0, err
	}
	return t.validate(ctx, 0, val, s)
}

// EvaluateInterpolator is EvaluateAutoencoder for sequence models.
func (t *Trainer) EvaluateInterpolator(ctx context.Context, nInterpolate int, val dataset.Loader) (float64, error) {
	s, err := t.interpolatorSteps(nInterpolate)
	if err != nil {
		return 0, err
	}
	return t.validate(ctx, 0, val, s)
}

func newResult() Result {
	return Result{BestLoss: math.Inf(1), BestEpoch: -1}
}

func (t *Trainer) fit(ctx context.Context, epochs int, train, val dataset.Loader, s stepper) (Result, error) {
	res := Result{BestLoss: t.bestLoss, BestEpoch: t.bestEpoch}
	if epochs < 0 {
		return res, fmt.Errorf("trainer: epochs must be >= 0 (got %d)", epochs)
	}
	if epochs > 0 && val.Len() == 0 {
		return res, ErrEmptyLoader
	}
	first := t.nextEpoch
	t.logger.Info("training",
		"epochs", epochs,
		"first_epoch", first,
		"best_val_loss", res.BestLoss,
		"device", t.device.String(),
		"learning_rate", t.lr,
		"train_batches", train.Len(),
		"val_batches", val.Len(),
	)

	var window metrics.Window
	step := 0
	for epoch := first; epoch < first+epochs; epoch++ {
		t.nextEpoch = epoch + 1
		start := time.Now()
		var epochWindow metrics.Window

		err := consume(ctx, train, epoch, func(b dataset.Batch, wait time.Duration) error {
			computeStart := time.Now()
			loss, err := s.trainStep(b)
			if err != nil {
				return fmt.Errorf("epoch %d step %d: %w", epoch, step, err)
			}
			compute := time.Since(computeStart)
			window.Record(b.Size(), wait, compute, loss)
			epochWindow.Record(b.Size(), wait, compute, loss)
			step++

			if t.logEvery > 0 && window.Steps() >= t.logEvery {
				snap := window.Snapshot()
				t.logger.Info("step",
					"step", step,
					"window_steps", snap.Steps,
					"samples_per_sec", snap.SamplesPerSec,
					"data_ms", snap.AvgDataMS,
					"compute_ms", snap.AvgComputeMS,
					"loss", snap.LastLoss,
				)
			}
			return nil
		})
		if err != nil {
			return res, err
		}

		valLoss, err := t.validate(ctx, epoch, val, s)
		if err != nil {
			return res, err
		}

		stats := EpochStats{
			Epoch:     epoch,
			TrainLoss: epochWindow.Snapshot().MeanLoss,
			ValLoss:   valLoss,
		}
		if valLoss < res.BestLoss {
			res.BestLoss = valLoss
			res.BestEpoch = epoch
			t.bestLoss, t.bestEpoch = valLoss, epoch
			if err := t.SaveModel(); err != nil {
				return res, err
			}
			stats.Saved = true
		}
		stats.Duration = time.Since(start)
		res.History = append(res.History, stats)

		t.logger.Info("epoch",
			"epoch", epoch,
			"train_loss", stats.TrainLoss,
			"val_loss", valLoss,
			"saved", stats.Saved,
			"duration", stats.Duration.Round(time.Millisecond),
		)
	}
	return res, nil
}

// validate returns the validation loss averaged over batches.
func (t *Trainer) validate(ctx context.Context, epoch int, val dataset.Loader, s stepper) (float64, error) {
	total := 0.0
	batches := 0
	err := consume(ctx, val, epoch, func(b dataset.Batch, _ time.Duration) error {
		loss, err := s.evalStep(b)
		if err != nil {
			return fmt.Errorf("validation batch %d: %w", batches, err)
		}
		total += loss
		batches++
		return nil
	})
	if err != nil {
		return 0, err
	}
	if batches == 0 {
		return 0, ErrEmptyLoader
	}
	return total / float64(batches), nil
}

// consume streams one epoch of l into fn, passing how long each batch was
// waited for.
func consume(parent context.Context, l dataset.Loader, epoch int, fn func(dataset.Batch, time.Duration) error) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	batches, errs := l.Stream(ctx, epoch)
	for batches != nil || errs != nil {
		wait := time.Now()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return err
			}
		case b, ok := <-batches:
			if !ok {
				batches = nil
				continue
			}
			// A batch may already be buffered when the context is cancelled.
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(b, time.Since(wait)); err != nil {
				return err
			}
		}
	}
	return ctx.Err()
}

type autoencoderSteps struct {
	t     *Trainer
	model model.Autoencoder
}

func (t *Trainer) autoencoderSteps() (*autoencoderSteps, error) {
	ae, ok := t.model.(model.Autoencoder)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an autoencoder", ErrWrongModel, t.model.Kind())
	}
	return &autoencoderSteps{t: t, model: ae}, nil
}

func (s *autoencoderSteps) forward(b *nn.Binding, xs []*gorgonia.Node) (*gorgonia.Node, error) {
	return s.model.Forward(b, xs[0])
}

func (s *autoencoderSteps) run(train bool, b dataset.Batch) (float64, error) {
	inputs := []*tensor.Dense{b.Inputs}
	p, err := s.t.programFor("autoencoder", train, inputs, b.Targets, s.forward)
	if err != nil {
		return 0, err
	}
	return p.run(inputs, b.Targets)
}

func (s *autoencoderSteps) trainStep(b dataset.Batch) (float64, error) { return s.run(true, b) }
func (s *autoencoderSteps) evalStep(b dataset.Batch) (float64, error)  { return s.run(false, b) }

type interpolatorSteps struct {
	t     *Trainer
	model model.Interpolator
	n     int
}

func (t *Trainer) interpolatorSteps(n int) (*interpolatorSteps, error) {
	ip, ok := t.model.(model.Interpolator)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an interpolator", ErrWrongModel, t.model.Kind())
	}
	if n <= 0 {
		return nil, fmt.Errorf("trainer: interpolate frames must be > 0 (got %d)", n)
	}
	return &interpolatorSteps{t: t, model: ip, n: n}, nil
}

func (s *interpolatorSteps) forward(b *nn.Binding, xs []*gorgonia.Node) (*gorgonia.Node, error) {
	return s.model.Forward(b, xs, s.n)
}

func (s *interpolatorSteps) run(train bool, b dataset.Batch) (float64, error) {
	frames, err := dataset.Split(b.Inputs)
	if err != nil {
		return 0, err
	}
	family := fmt.Sprintf("interpolator/%d", s.n)
	p, err := s.t.programFor(family, train, frames, b.Targets, s.forward)
	if err != nil {
		return 0, err
	}
	return p.run(frames, b.Targets)
}

func (s *interpolatorSteps) trainStep(b dataset.Batch) (float64, error) { return s.run(true, b) }
func (s *interpolatorSteps) evalStep(b dataset.Batch) (float64, error)  { return s.run(false, b) }

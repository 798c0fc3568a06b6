package trainer

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"chromaframe/internal/checkpoint"
	"chromaframe/internal/dataset"
	"chromaframe/internal/device"
	"chromaframe/internal/model"
	"chromaframe/internal/nn"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubModel struct {
	params []*nn.Param
}

func (m *stubModel) Kind() model.Kind     { return model.KindAutoencoder }
func (m *stubModel) Params() []*nn.Param { return m.params }

func newStub() *stubModel {
	return &stubModel{params: []*nn.Param{nn.NewBias("w", 1)}}
}

// scripted reports a fixed validation loss per epoch. The train loader
// must hold a single batch so that each train step marks a new epoch.
type scripted struct {
	model  *stubModel
	val    []float64
	epochs int
}

func (s *scripted) trainStep(dataset.Batch) (float64, error) {
	s.model.params[0].Data()[0] = float64(s.epochs)
	s.epochs++
	return 1, nil
}

func (s *scripted) evalStep(dataset.Batch) (float64, error) {
	return s.val[s.epochs-1], nil
}

func column(values ...float64) *tensor.Dense {
	return tensor.New(tensor.WithShape(len(values), 1), tensor.WithBacking(values))
}

func loader(t *testing.T, batchSize int, values ...float64) *dataset.Tensors {
	t.Helper()
	targets := make([]float64, len(values))
	l, err := dataset.NewTensors(column(values...), column(targets...), dataset.Options{BatchSize: batchSize})
	require.NoError(t, err)
	return l
}

func newTrainer(t *testing.T, m model.Model, opts ...Option) *Trainer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "best.ckpt")
	tr, err := New(m, nn.MSE, path, append([]Option{WithLogger(quiet), WithDevice("cpu")}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestFitSavesOnStrictImprovementOnly(t *testing.T) {
	m := newStub()
	tr := newTrainer(t, m)
	s := &scripted{model: m, val: []float64{3, 2, 2, 5, 1, math.NaN(), 1}}

	res, err := tr.fit(context.Background(), len(s.val), loader(t, 1, 0), loader(t, 1, 0), s)
	require.NoError(t, err)
	require.Equal(t, 1.0, res.BestLoss)
	require.Equal(t, 4, res.BestEpoch)
	require.Len(t, res.History, 7)

	var saved []int
	for _, h := range res.History {
		if h.Saved {
			saved = append(saved, h.Epoch)
		}
	}
	require.Equal(t, []int{0, 1, 4}, saved)

	st, err := checkpoint.Load(tr.SavePath())
	require.NoError(t, err)
	require.Equal(t, 4, st.Epoch)
	require.Equal(t, 1.0, st.ValLoss)
	require.Equal(t, []float64{4}, st.Params[0].Data)
}

func TestFitNaNNeverSaves(t *testing.T) {
	m := newStub()
	tr := newTrainer(t, m)
	s := &scripted{model: m, val: []float64{math.NaN(), math.NaN()}}

	res, err := tr.fit(context.Background(), 2, loader(t, 1, 0), loader(t, 1, 0), s)
	require.NoError(t, err)
	require.Equal(t, -1, res.BestEpoch)
	require.True(t, math.IsInf(res.BestLoss, 1))
	_, err = os.Stat(tr.SavePath())
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestFitZeroEpochs(t *testing.T) {
	m := newStub()
	tr := newTrainer(t, m)
	res, err := tr.fit(context.Background(), 0, loader(t, 1, 0), loader(t, 1, 0), &scripted{model: m})
	require.NoError(t, err)
	require.Empty(t, res.History)
	require.Equal(t, -1, res.BestEpoch)
	_, err = os.Stat(tr.SavePath())
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = tr.fit(context.Background(), -1, loader(t, 1, 0), loader(t, 1, 0), &scripted{model: m})
	require.Error(t, err)
}

type firstValue struct{}

func (firstValue) trainStep(dataset.Batch) (float64, error) { return 0, nil }
func (firstValue) evalStep(b dataset.Batch) (float64, error) {
	return b.Inputs.Float64s()[0], nil
}

func TestValidationAveragesPerBatch(t *testing.T) {
	tr := newTrainer(t, newStub())

	loss, err := tr.validate(context.Background(), 0, loader(t, 1, 1, 2, 6), firstValue{})
	require.NoError(t, err)
	require.InDelta(t, 3.0, loss, 1e-12)

	loss, err = tr.validate(context.Background(), 0, loader(t, 2, 1, 2, 6), firstValue{})
	require.NoError(t, err)
	require.InDelta(t, 3.5, loss, 1e-12)
}

type emptyLoader struct{}

func (emptyLoader) Len() int { return 0 }

func (emptyLoader) Stream(context.Context, int) (<-chan dataset.Batch, <-chan error) {
	batches, errs := make(chan dataset.Batch), make(chan error)
	close(batches)
	close(errs)
	return batches, errs
}

func TestEmptyValidationLoader(t *testing.T) {
	tr := newTrainer(t, newStub())
	var empty emptyLoader

	_, err := tr.fit(context.Background(), 1, loader(t, 1, 0), empty, firstValue{})
	require.ErrorIs(t, err, ErrEmptyLoader)

	_, err = tr.validate(context.Background(), 0, empty, firstValue{})
	require.ErrorIs(t, err, ErrEmptyLoader)
}

func TestFitStopsOnCancel(t *testing.T) {
	tr := newTrainer(t, newStub())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tr.fit(ctx, 3, loader(t, 1, 0, 0, 0), loader(t, 1, 0), firstValue{})
	require.ErrorIs(t, err, context.Canceled)
}

// cancelling cancels the run on its nth train step.
type cancelling struct {
	cancel context.CancelFunc
	after  int
	trains int
	evals  int
}

func (c *cancelling) trainStep(dataset.Batch) (float64, error) {
	c.trains++
	if c.trains == c.after {
		c.cancel()
	}
	return 1, nil
}

func (c *cancelling) evalStep(dataset.Batch) (float64, error) {
	c.evals++
	return 1, nil
}

func TestFitStopsBetweenBatchesOnCancel(t *testing.T) {
	tests := []struct {
		name        string
		after       int
		wantEvals   int
		wantHistory int
		wantSaved   bool
	}{
		{name: "first epoch", after: 1, wantEvals: 0, wantHistory: 0, wantSaved: false},
		{name: "second epoch", after: 3, wantEvals: 1, wantHistory: 1, wantSaved: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTrainer(t, newStub())
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			s := &cancelling{cancel: cancel, after: tt.after}

			// Two train batches per epoch.
			res, err := tr.fit(ctx, 5, loader(t, 1, 0, 0), loader(t, 1, 0), s)
			require.ErrorIs(t, err, context.Canceled)
			require.Equal(t, tt.after, s.trains)
			require.Equal(t, tt.wantEvals, s.evals)
			require.Len(t, res.History, tt.wantHistory)

			st, err := checkpoint.Load(tr.SavePath())
			if !tt.wantSaved {
				require.ErrorIs(t, err, os.ErrNotExist)
				return
			}
			require.NoError(t, err)
			require.Equal(t, 0, st.Epoch)
		})
	}
}

func TestResumeKeepsBestCheckpoint(t *testing.T) {
	ctx := context.Background()
	m := newStub()
	tr := newTrainer(t, m)
	_, err := tr.fit(ctx, 2, loader(t, 1, 0), loader(t, 1, 0), &scripted{model: m, val: []float64{3, 1}})
	require.NoError(t, err)

	resumedModel := newStub()
	resumed, err := New(resumedModel, nn.MSE, tr.SavePath(), WithLogger(quiet), WithDevice("cpu"))
	require.NoError(t, err)
	t.Cleanup(func() { resumed.Close() })
	st, err := resumed.LoadModel()
	require.NoError(t, err)
	require.Equal(t, 1, st.Epoch)
	require.Equal(t, []float64{1}, resumedModel.params[0].Data())

	// A worse epoch after resuming leaves the checkpoint alone.
	res, err := resumed.fit(ctx, 1, loader(t, 1, 0), loader(t, 1, 0), &scripted{model: resumedModel, val: []float64{2}})
	require.NoError(t, err)
	require.Len(t, res.History, 1)
	require.Equal(t, 2, res.History[0].Epoch)
	require.False(t, res.History[0].Saved)
	require.Equal(t, 1, res.BestEpoch)
	require.Equal(t, 1.0, res.BestLoss)

	st, err = checkpoint.Load(tr.SavePath())
	require.NoError(t, err)
	require.Equal(t, 1, st.Epoch)
	require.Equal(t, 1.0, st.ValLoss)
	require.Equal(t, []float64{1}, st.Params[0].Data)

	// Beating the restored loss still saves, numbered after the last epoch.
	res, err = resumed.fit(ctx, 1, loader(t, 1, 0), loader(t, 1, 0), &scripted{model: resumedModel, val: []float64{0.5}})
	require.NoError(t, err)
	require.Equal(t, 3, res.History[0].Epoch)
	require.True(t, res.History[0].Saved)
	require.Equal(t, 3, res.BestEpoch)

	st, err = checkpoint.Load(tr.SavePath())
	require.NoError(t, err)
	require.Equal(t, 3, st.Epoch)
	require.Equal(t, 0.5, st.ValLoss)
	require.Equal(t, []float64{0}, st.Params[0].Data)
}

func TestCPUTrainerRunsWithoutDevicePlacement(t *testing.T) {
	tr := newTrainer(t, newStub())
	require.Equal(t, device.CPU, tr.Device().Type)
	require.Empty(t, tr.machineOpts())
}

func TestNewValidation(t *testing.T) {
	m := newStub()
	_, err := New(nil, nn.MSE, "x")
	require.Error(t, err)
	_, err = New(m, nil, "x")
	require.Error(t, err)
	_, err = New(m, nn.MSE, " ")
	require.Error(t, err)
	_, err = New(m, nn.MSE, "x", WithLearningRate(-1))
	require.Error(t, err)
	_, err = New(m, nn.MSE, "x", WithDevice("tpu"))
	require.Error(t, err)

	tr, err := New(m, nn.MSE, "x", WithLogger(quiet))
	require.NoError(t, err)
	require.Equal(t, DefaultLearningRate, tr.lr)
	require.Same(t, m, tr.Model())
}

func TestWrongFamily(t *testing.T) {
	tr := newTrainer(t, newStub())
	_, err := tr.TrainAutoencoder(context.Background(), 1, loader(t, 1, 0), loader(t, 1, 0))
	require.ErrorIs(t, err, ErrWrongModel)
	_, err = tr.TrainInterpolator(context.Background(), 1, 2, loader(t, 1, 0), loader(t, 1, 0))
	require.ErrorIs(t, err, ErrWrongModel)
}

func TestLoadModelRejectsOtherKind(t *testing.T) {
	tr := newTrainer(t, newStub())
	require.NoError(t, tr.SaveModel())

	lstm := model.NewFrameLSTM(model.FrameLSTMOptions{FrameSize: 2, Hidden: 2})
	other, err := New(lstm, nn.MSE, tr.SavePath(), WithLogger(quiet))
	require.NoError(t, err)
	_, err = other.LoadModel()
	require.ErrorIs(t, err, checkpoint.ErrMismatch)
}

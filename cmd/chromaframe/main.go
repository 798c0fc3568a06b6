package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"chromaframe/internal/config"
	"chromaframe/internal/dataset"
	"chromaframe/internal/model"
	"chromaframe/internal/nn"
	"chromaframe/internal/trainer"
)

func main() {
	cfgPath := flag.String("config", "configs/demo.hcl", "Path to HCL config")
	modelKind := flag.String("model", "", "Model family: autoencoder or interpolator")
	epochs := flag.Int("epochs", 0, "Number of epochs")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	lr := flag.Float64("lr", 0, "Adam learning rate")
	loss := flag.String("loss", "", "Loss function (mse, l1)")
	dev := flag.String("device", "", "Device: auto, cpu or cuda")
	savePath := flag.String("save", "", "Checkpoint path for the best model")
	seed := flag.Int64("seed", 0, "PRNG seed")
	logEvery := flag.Int("log-every", 0, "Log every N optimizer steps")
	resume := flag.Bool("resume", false, "Start from the checkpoint at the save path")
	evaluate := flag.Bool("evaluate", false, "Only score the saved checkpoint on the validation set")
	verbose := flag.Bool("v", false, "Debug logging")

	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fatal("failed to load config", err)
	}

	cfg.ApplyOverrides(config.Overrides{
		Model:        *modelKind,
		Epochs:       *epochs,
		BatchSize:    *batchSize,
		LearningRate: *lr,
		Loss:         *loss,
		Device:       *dev,
		SavePath:     *savePath,
		Seed:         *seed,
		LogEvery:     *logEvery,
		Resume:       *resume,
	})

	if err := cfg.Validate(); err != nil {
		fatal("invalid config", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *evaluate, logger); err != nil {
		fatal("training failed", err)
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}

func run(ctx context.Context, cfg *config.Config, evaluateOnly bool, logger *slog.Logger) error {
	kind, err := model.ParseKind(cfg.Model)
	if err != nil {
		return err
	}
	lossFn, err := nn.LossByName(cfg.Loss)
	if err != nil {
		return err
	}

	var (
		m         model.Model
		train     *dataset.Tensors
		val       *dataset.Tensors
		nInterp   = cfg.Interpolator.InterpolateFrames
		trainOpts = dataset.Options{BatchSize: cfg.BatchSize, Shuffle: true, Seed: cfg.Seed}
		valOpts   = dataset.Options{BatchSize: cfg.BatchSize}
	)
	switch kind {
	case model.KindAutoencoder:
		ac := cfg.Autoencoder
		ae := model.NewColorizer(model.ColorizerOptions{
			Height: ac.Height,
			Width:  ac.Width,
			Hidden: ac.Hidden,
			Latent: ac.Latent,
			Seed:   cfg.Seed,
		})
		h, w := ae.ImageSize()
		in, out := dataset.Colorization(cfg.Data.TrainSamples, h, w, cfg.Seed+1)
		if train, err = dataset.NewTensors(in, out, trainOpts); err != nil {
			return err
		}
		in, out = dataset.Colorization(cfg.Data.ValSamples, h, w, cfg.Seed+2)
		if val, err = dataset.NewTensors(in, out, valOpts); err != nil {
			return err
		}
		m = ae
	case model.KindInterpolator:
		ic := cfg.Interpolator
		ip := model.NewFrameLSTM(model.FrameLSTMOptions{
			FrameSize: ic.FrameSize,
			Hidden:    ic.Hidden,
			Seed:      cfg.Seed,
		})
		size := ip.FrameSize()
		seq, tgt := dataset.Motion(cfg.Data.TrainSamples, ic.ContextFrames, nInterp, size, cfg.Seed+1)
		if train, err = dataset.NewTensors(seq, tgt, trainOpts); err != nil {
			return err
		}
		seq, tgt = dataset.Motion(cfg.Data.ValSamples, ic.ContextFrames, nInterp, size, cfg.Seed+2)
		if val, err = dataset.NewTensors(seq, tgt, valOpts); err != nil {
			return err
		}
		m = ip
	}

	tr, err := trainer.New(m, lossFn, cfg.SavePath,
		trainer.WithLearningRate(cfg.LearningRate),
		trainer.WithDevice(cfg.Device),
		trainer.WithLogger(logger),
		trainer.WithLogEvery(cfg.LogEvery),
	)
	if err != nil {
		return err
	}
	defer tr.Close()
	dev := tr.Device()
	logger.Info("device", "type", string(dev.Type), "name", dev.Name)

	if cfg.Resume || evaluateOnly {
		st, err := tr.LoadModel()
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		logger.Info("restored checkpoint", "path", cfg.SavePath, "epoch", st.Epoch, "val_loss", st.ValLoss)
	}

	if evaluateOnly {
		var loss float64
		if kind == model.KindAutoencoder {
			loss, err = tr.EvaluateAutoencoder(ctx, val)
		} else {
			loss, err = tr.EvaluateInterpolator(ctx, nInterp, val)
		}
		if err != nil {
			return err
		}
		logger.Info("evaluation", "val_loss", loss, "val_samples", val.Samples())
		return nil
	}

	var res trainer.Result
	if kind == model.KindAutoencoder {
		res, err = tr.TrainAutoencoder(ctx, cfg.Epochs, train, val)
	} else {
		res, err = tr.TrainInterpolator(ctx, cfg.Epochs, nInterp, train, val)
	}
	if err != nil {
		return err
	}
	logger.Info("done", "best_epoch", res.BestEpoch, "best_val_loss", res.BestLoss, "checkpoint", cfg.SavePath)
	return nil
}

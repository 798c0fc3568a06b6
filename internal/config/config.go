package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"chromaframe/internal/model"
	"chromaframe/internal/nn"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	Model        string  `hcl:"model,optional"`
	Epochs       int     `hcl:"epochs,optional"`
	BatchSize    int     `hcl:"batch_size,optional"`
	LearningRate float64 `hcl:"learning_rate,optional"`
	Loss         string  `hcl:"loss,optional"`
	Device       string  `hcl:"device,optional"`
	SavePath     string  `hcl:"save_path,optional"`
	Seed         int64   `hcl:"seed,optional"`
	LogEvery     int     `hcl:"log_every,optional"`
	Resume       bool    `hcl:"resume,optional"`

	Data         *Data         `hcl:"data,block"`
	Autoencoder  *Autoencoder  `hcl:"autoencoder,block"`
	Interpolator *Interpolator `hcl:"interpolator,block"`
}

// Data sizes the synthetic train and validation sets.
type Data struct {
	TrainSamples int `hcl:"train_samples,optional"`
	ValSamples   int `hcl:"val_samples,optional"`
}

// Autoencoder sizes the colorization model.
type Autoencoder struct {
	Height int `hcl:"height,optional"`
	Width  int `hcl:"width,optional"`
	Hidden int `hcl:"hidden,optional"`
	Latent int `hcl:"latent,optional"`
}

// Interpolator sizes the frame model.
type Interpolator struct {
	FrameSize         int `hcl:"frame_size,optional"`
	Hidden            int `hcl:"hidden,optional"`
	ContextFrames     int `hcl:"context_frames,optional"`
	InterpolateFrames int `hcl:"interpolate_frames,optional"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	Model        string
	Epochs       int
	BatchSize    int
	LearningRate float64
	Loss         string
	Device       string
	SavePath     string
	Seed         int64
	LogEvery     int
	Resume       bool
}

// Load reads and validates a Config from an HCL (or HCL-JSON) file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := hclsimple.DecodeFile(path, nil, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Model != "" {
		c.Model = o.Model
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.Loss != "" {
		c.Loss = o.Loss
	}
	if o.Device != "" {
		c.Device = o.Device
	}
	if o.SavePath != "" {
		c.SavePath = o.SavePath
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.Resume {
		c.Resume = true
	}
}

// Validate verifies the config is runnable and fills in defaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if _, err := model.ParseKind(c.Model); err != nil {
		return err
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if strings.TrimSpace(c.SavePath) == "" {
		return errors.New("save_path must be set")
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.BatchSize == 0 {
		c.BatchSize = 16
	}
	if c.LearningRate < 0 {
		return fmt.Errorf("learning_rate must be > 0 (got %g)", c.LearningRate)
	}
	if c.LearningRate == 0 {
		c.LearningRate = 0.001
	}
	if c.Loss == "" {
		c.Loss = "mse"
	}
	if _, err := nn.LossByName(c.Loss); err != nil {
		return err
	}
	if c.Device == "" {
		c.Device = "auto"
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 50
	}

	if c.Data == nil {
		c.Data = &Data{}
	}
	if c.Data.TrainSamples <= 0 {
		c.Data.TrainSamples = 256
	}
	if c.Data.ValSamples <= 0 {
		c.Data.ValSamples = 64
	}
	if c.Autoencoder == nil {
		c.Autoencoder = &Autoencoder{}
	}
	if c.Interpolator == nil {
		c.Interpolator = &Interpolator{}
	}
	ip := c.Interpolator
	if ip.ContextFrames <= 0 {
		ip.ContextFrames = 4
	}
	if ip.InterpolateFrames <= 0 {
		ip.InterpolateFrames = 2
	}
	return nil
}

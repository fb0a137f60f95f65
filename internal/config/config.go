package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"penultimate/internal/device"
	"penultimate/internal/model"
)

// Normalization modes for dataset loaders.
const (
	// NormalizeTrainset normalizes every dataset with the model's training-set statistics.
	NormalizeTrainset = "trainset"
	// NormalizeNone leaves pixels in [0, 1].
	NormalizeNone = "none"
)

const (
	defaultOutDir    = "products"
	defaultLogEvery  = 50
	defaultEvalTrain = "trainset"
	defaultEvalTest  = "ind_testset"
)

// Dataset names one shard root. Products are saved under Name.
type Dataset struct {
	Name string `yaml:"name" toml:"name"`
	Root string `yaml:"root" toml:"root"`
}

// Config captures the runtime knobs for an extraction run.
type Config struct {
	Model         string    `yaml:"model" toml:"model"`
	Trainset      string    `yaml:"trainset" toml:"trainset"`
	Gram          bool      `yaml:"gram" toml:"gram"`
	ModelsDir     string    `yaml:"models_dir" toml:"models_dir"`
	OutDir        string    `yaml:"out_dir" toml:"out_dir"`
	Device        string    `yaml:"device" toml:"device"`
	GPUAdapter    string    `yaml:"gpu_adapter" toml:"gpu_adapter"`
	DevRun        bool      `yaml:"dev_run" toml:"dev_run"`
	Evaluate      bool      `yaml:"evaluate" toml:"evaluate"`
	EvalTrain     string    `yaml:"eval_train" toml:"eval_train"`
	EvalTest      string    `yaml:"eval_test" toml:"eval_test"`
	BatchSize     int       `yaml:"batch_size" toml:"batch_size"`
	LogEvery      int       `yaml:"log_every" toml:"log_every"`
	LogFile       string    `yaml:"log_file" toml:"log_file"`
	Normalization string    `yaml:"normalization" toml:"normalization"`
	Datasets      []Dataset `yaml:"datasets" toml:"datasets"`
}

// Overrides captures CLI supplied values. Booleans can only switch a
// setting on.
type Overrides struct {
	Model     string
	Trainset  string
	Gram      bool
	ModelsDir string
	OutDir    string
	Device    string
	DevRun    bool
	Evaluate  bool
	BatchSize int
	LogEvery  int
}

// Load reads and validates a Config. Files ending in .toml are parsed as
// TOML, everything else as YAML. Unknown keys are rejected in both formats.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}

	cfg := &Config{}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = parseTOML(data, cfg)
	} else {
		err = parseYAML(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func parseTOML(data []byte, cfg *Config) error {
	meta, err := toml.Decode(string(data), cfg)
	if err != nil {
		return err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown key %s", undecoded[0])
	}
	return nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Model != "" {
		c.Model = o.Model
	}
	if o.Trainset != "" {
		c.Trainset = o.Trainset
	}
	if o.Gram {
		c.Gram = true
	}
	if o.ModelsDir != "" {
		c.ModelsDir = o.ModelsDir
	}
	if o.OutDir != "" {
		c.OutDir = o.OutDir
	}
	if o.Device != "" {
		c.Device = o.Device
	}
	if o.DevRun {
		c.DevRun = true
	}
	if o.Evaluate {
		c.Evaluate = true
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
}

// Validate verifies the config is runnable and fills defaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Model == "" {
		return errors.New("model must be set")
	}
	if c.Trainset == "" {
		return errors.New("trainset must be set")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if _, err := device.Parse(c.Device); err != nil {
		return err
	}
	switch c.Normalization {
	case "":
		c.Normalization = NormalizeTrainset
	case NormalizeTrainset, NormalizeNone:
	default:
		return fmt.Errorf("normalization must be %q or %q (got %q)", NormalizeTrainset, NormalizeNone, c.Normalization)
	}
	if len(c.Datasets) == 0 {
		return errors.New("at least one dataset must be listed")
	}
	seen := make(map[string]bool, len(c.Datasets))
	for i, d := range c.Datasets {
		if d.Name == "" || d.Root == "" {
			return fmt.Errorf("datasets[%d]: name and root are required", i)
		}
		if seen[d.Name] {
			return fmt.Errorf("datasets[%d]: duplicate name %s", i, d.Name)
		}
		seen[d.Name] = true
	}
	if c.Evaluate {
		if c.EvalTrain == "" {
			c.EvalTrain = defaultEvalTrain
		}
		if c.EvalTest == "" {
			c.EvalTest = defaultEvalTest
		}
		for _, name := range []string{c.EvalTrain, c.EvalTest} {
			if !seen[name] {
				return fmt.Errorf("evaluation dataset %s is not listed under datasets", name)
			}
		}
	}
	if c.ModelsDir == "" {
		c.ModelsDir = model.DefaultModelsDir
	}
	if c.OutDir == "" {
		c.OutDir = defaultOutDir
	}
	if c.LogEvery <= 0 {
		c.LogEvery = defaultLogEvery
	}
	return nil
}

// DeviceConfig resolves the device settings. Call after Validate.
func (c *Config) DeviceConfig() device.Config {
	kind, _ := device.Parse(c.Device)
	return device.Config{Kind: kind, Adapter: c.GPUAdapter}
}

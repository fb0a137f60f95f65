package model

import (
	"fmt"
	"log"
	"path/filepath"

	"penultimate/internal/device"
)

// DefaultModelsDir is where checkpoints live relative to the working directory.
const DefaultModelsDir = "../models"

// CheckpointExt is the file extension of every checkpoint.
const CheckpointExt = ".safetensors"

// Registry resolves (architecture, training set, variant) to loaded pipelines.
type Registry struct {
	ModelsDir string
	Device    device.Config
}

// NewRegistry returns a registry reading checkpoints from dir.
func NewRegistry(dir string, dev device.Config) *Registry {
	if dir == "" {
		dir = DefaultModelsDir
	}
	return &Registry{ModelsDir: dir, Device: dev}
}

// Pair is one supported architecture/training-set combination.
type Pair struct {
	Architecture string
	Trainset     string
}

// Supported lists every combination Get accepts, sorted.
func (r *Registry) Supported() []Pair {
	var pairs []Pair
	for _, name := range Architectures() {
		a := architectures[name]
		for _, ds := range a.Datasets() {
			pairs = append(pairs, Pair{Architecture: name, Trainset: ds})
		}
	}
	return pairs
}

// resolve validates the request without touching the filesystem.
func (r *Registry) resolve(name, trainset string, gram bool) (Architecture, int, Variant, error) {
	a, err := Lookup(name)
	if err != nil {
		return Architecture{}, 0, "", err
	}
	classes, err := a.Classes(trainset)
	if err != nil {
		return Architecture{}, 0, "", err
	}
	variant := Plain
	if gram {
		if !a.HasGram {
			return Architecture{}, 0, "", &UnsupportedError{Architecture: name, Variant: Gram}
		}
		variant = Gram
	}
	return a, classes, variant, nil
}

// CheckpointPath returns the checkpoint file for a supported combination.
func (r *Registry) CheckpointPath(name, trainset string) (string, error) {
	a, _, _, err := r.resolve(name, trainset, false)
	if err != nil {
		return "", err
	}
	return filepath.Join(r.ModelsDir, a.checkpoints[trainset]+CheckpointExt), nil
}

// Get builds the requested network, loads its checkpoint, and places it on
// the configured device. Unsupported requests fail before any I/O.
func (r *Registry) Get(name, trainset string, gram bool) (*Pipeline, error) {
	a, classes, variant, err := r.resolve(name, trainset, gram)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(r.ModelsDir, a.checkpoints[trainset]+CheckpointExt)
	state, err := LoadCheckpoint(path)
	if err != nil {
		return nil, err
	}
	p, err := newPipeline(a, trainset, classes, variant, state, r.Device)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	p.mount()
	log.Printf("model=%s family=%s trainset=%s variant=%s params=%d device=%s",
		a.Name, a.Family, trainset, variant, p.ParamCount(), p.Device())
	return p, nil
}

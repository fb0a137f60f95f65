// Package products persists extracted feature datasets: one safetensors file
// with the concatenated tensors and one YAML manifest per dataset name.
package products

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/openfluke/loom/nn"
	"gopkg.in/yaml.v3"

	"penultimate/internal/features"
	"penultimate/internal/tensor"
)

// Tensor names inside a products file.
const (
	FeaturesKey = "features"
	LabelsKey   = "labels"
	OutputsKey  = "outputs"
	ProbsKey    = "probs"
)

// GramKey names the Gram tensor of one recorded layer, shaped [N, C, C].
func GramKey(layer int) string {
	return fmt.Sprintf("gram.%d", layer)
}

// Manifest describes one saved dataset.
type Manifest struct {
	RunID      string           `yaml:"run_id"`
	Dataset    string           `yaml:"dataset"`
	CreatedAt  time.Time        `yaml:"created_at"`
	Examples   int              `yaml:"examples"`
	BatchSizes []int            `yaml:"batch_sizes"`
	GramLayers int              `yaml:"gram_layers,omitempty"`
	Shapes     map[string][]int `yaml:"shapes"`
	File       string           `yaml:"file"`
}

// Saver writes datasets that belong to the same run under one run id.
type Saver struct {
	RunID uuid.UUID
	Now   func() time.Time
}

// NewSaver starts a run with a fresh id.
func NewSaver() *Saver {
	return &Saver{RunID: uuid.New(), Now: time.Now}
}

// Save writes ds to outDir as <name>.safetensors and <name>.manifest.yaml.
func (s *Saver) Save(ds *features.Dataset, outDir, name string) error {
	if ds.Len() == 0 {
		return fmt.Errorf("products: %s has no records", name)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("products: create %s: %w", outDir, err)
	}

	parts := map[string][]tensor.Tensor{
		FeaturesKey: ds.Features(),
		LabelsKey:   ds.Labels(),
		OutputsKey:  ds.Outputs(),
		ProbsKey:    ds.Probs(),
	}
	for layer := 0; layer < ds.GramLayers(); layer++ {
		parts[GramKey(layer)] = ds.Gram(layer)
	}
	tensors := make(map[string]nn.TensorWithShape, len(parts))
	shapes := make(map[string][]int, len(parts))
	for key, seq := range parts {
		joined, err := tensor.Concat(seq)
		if err != nil {
			return fmt.Errorf("products: %s %s: %w", name, key, err)
		}
		tensors[key] = joined.ToLoom()
		shapes[key] = joined.Shape
	}

	file := name + ".safetensors"
	path := filepath.Join(outDir, file)
	if err := nn.SaveSafetensors(path, tensors); err != nil {
		return fmt.Errorf("products: write %s: %w", path, err)
	}

	batchSizes := make([]int, ds.Len())
	for i, f := range ds.Features() {
		batchSizes[i] = f.Len()
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	manifest := Manifest{
		RunID:      s.RunID.String(),
		Dataset:    name,
		CreatedAt:  now().UTC(),
		Examples:   ds.Examples(),
		BatchSizes: batchSizes,
		GramLayers: ds.GramLayers(),
		Shapes:     shapes,
		File:       file,
	}
	raw, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("products: encode manifest: %w", err)
	}
	if err := os.WriteFile(manifestPath(outDir, name), raw, 0o644); err != nil {
		return fmt.Errorf("products: write manifest: %w", err)
	}

	var size uint64
	if fi, err := os.Stat(path); err == nil {
		size = uint64(fi.Size())
	}
	log.Printf("saved dataset=%s examples=%d size=%s path=%s", name, manifest.Examples, humanize.Bytes(size), path)
	return nil
}

func manifestPath(outDir, name string) string {
	return filepath.Join(outDir, name+".manifest.yaml")
}

// Products is a dataset read back from disk.
type Products struct {
	Manifest Manifest
	Features tensor.Tensor
	Labels   tensor.Tensor
	Outputs  tensor.Tensor
	Probs    tensor.Tensor
	// Gram holds one tensor per recorded layer; nil for plain runs.
	Gram     []tensor.Tensor
}

// Load reads the dataset saved under name in outDir.
func Load(outDir, name string) (*Products, error) {
	raw, err := os.ReadFile(manifestPath(outDir, name))
	if err != nil {
		return nil, fmt.Errorf("products: read manifest: %w", err)
	}
	var p Products
	if err := yaml.Unmarshal(raw, &p.Manifest); err != nil {
		return nil, fmt.Errorf("products: decode manifest: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(outDir, p.Manifest.File))
	if err != nil {
		return nil, fmt.Errorf("products: read tensors: %w", err)
	}
	entries, err := nn.LoadSafetensorsWithShapes(data)
	if err != nil {
		return nil, fmt.Errorf("products: decode tensors: %w", err)
	}
	dsts := map[string]*tensor.Tensor{
		FeaturesKey: &p.Features,
		LabelsKey:   &p.Labels,
		OutputsKey:  &p.Outputs,
		ProbsKey:    &p.Probs,
	}
	if p.Manifest.GramLayers > 0 {
		p.Gram = make([]tensor.Tensor, p.Manifest.GramLayers)
		for layer := range p.Gram {
			dsts[GramKey(layer)] = &p.Gram[layer]
		}
	}
	for key, dst := range dsts {
		entry, ok := entries[key]
		if !ok {
			return nil, fmt.Errorf("products: %s missing tensor %s", name, key)
		}
		t, err := tensor.FromLoom(entry)
		if err != nil {
			return nil, fmt.Errorf("products: %s %s: %w", name, key, err)
		}
		*dst = t
	}
	return &p, nil
}

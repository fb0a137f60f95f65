// Package features holds the in-memory result of one extraction sweep.
package features

import (
	"fmt"

	"penultimate/internal/tensor"
)

// Transform post-processes feature rows on access.
type Transform func(tensor.Tensor) tensor.Tensor

// IdentityTransform returns its input unchanged.
func IdentityTransform(t tensor.Tensor) tensor.Tensor { return t }

// Record is one batch worth of extraction products. All four tensors share
// the batch dimension.
type Record struct {
	Features tensor.Tensor
	Labels   tensor.Tensor
	Outputs  tensor.Tensor
	Probs    tensor.Tensor
	// Gram holds one [batch, C, C] tensor per recorded layer; nil when the
	// model records none.
	Gram     []tensor.Tensor
}

// Dataset is an ordered sequence of records stored as four parallel slices,
// plus optional Gram matrices. It is not modified after New returns.
type Dataset struct {
	features  []tensor.Tensor
	labels    []tensor.Tensor
	outputs   []tensor.Tensor
	probs     []tensor.Tensor
	grams     [][]tensor.Tensor
	transform Transform
}

// New assembles a dataset, checking that the slices are parallel and that each
// record's tensors agree on batch size. A nil transform means identity.
func New(features, labels, outputs, probs []tensor.Tensor, transform Transform) (*Dataset, error) {
	return NewWithGrams(features, labels, outputs, probs, nil, transform)
}

// NewWithGrams is New plus per-record Gram matrices. grams is nil or holds
// one entry per record, every entry covering the same layers with the
// record's batch size.
func NewWithGrams(features, labels, outputs, probs []tensor.Tensor, grams [][]tensor.Tensor, transform Transform) (*Dataset, error) {
	n := len(features)
	if len(labels) != n || len(outputs) != n || len(probs) != n {
		return nil, fmt.Errorf("features: sequences differ in length: %d/%d/%d/%d",
			n, len(labels), len(outputs), len(probs))
	}
	for i := 0; i < n; i++ {
		b := features[i].Len()
		if labels[i].Len() != b || outputs[i].Len() != b || probs[i].Len() != b {
			return nil, fmt.Errorf("features: record %d batch sizes differ: %d/%d/%d/%d",
				i, b, labels[i].Len(), outputs[i].Len(), probs[i].Len())
		}
	}
	if grams != nil {
		if len(grams) != n {
			return nil, fmt.Errorf("features: %d gram records for %d records", len(grams), n)
		}
		for i, g := range grams {
			if len(g) != len(grams[0]) {
				return nil, fmt.Errorf("features: record %d has %d gram layers, want %d", i, len(g), len(grams[0]))
			}
			for layer, t := range g {
				if t.Len() != features[i].Len() {
					return nil, fmt.Errorf("features: record %d gram %d has batch %d, want %d",
						i, layer, t.Len(), features[i].Len())
				}
			}
		}
	}
	if transform == nil {
		transform = IdentityTransform
	}
	return &Dataset{
		features:  append([]tensor.Tensor(nil), features...),
		labels:    append([]tensor.Tensor(nil), labels...),
		outputs:   append([]tensor.Tensor(nil), outputs...),
		probs:     append([]tensor.Tensor(nil), probs...),
		grams:     copyGrams(grams),
		transform: transform,
	}, nil
}

func copyGrams(grams [][]tensor.Tensor) [][]tensor.Tensor {
	if grams == nil {
		return nil
	}
	out := make([][]tensor.Tensor, len(grams))
	for i, g := range grams {
		out[i] = append([]tensor.Tensor(nil), g...)
	}
	return out
}

// Len is the number of records (batches).
func (d *Dataset) Len() int { return len(d.features) }

// Examples is the total number of rows across records.
func (d *Dataset) Examples() int {
	total := 0
	for _, f := range d.features {
		total += f.Len()
	}
	return total
}

// At returns record i with the transform applied to its features.
func (d *Dataset) At(i int) Record {
	rec := Record{
		Features: d.transform(d.features[i]),
		Labels:   d.labels[i],
		Outputs:  d.outputs[i],
		Probs:    d.probs[i],
	}
	if d.grams != nil {
		rec.Gram = append([]tensor.Tensor(nil), d.grams[i]...)
	}
	return rec
}

// The sequence accessors return copies of the record slices; the tensors
// themselves are shared and must not be written to.

// Features returns the raw feature sequence.
func (d *Dataset) Features() []tensor.Tensor { return append([]tensor.Tensor(nil), d.features...) }

// Labels returns the label sequence.
func (d *Dataset) Labels() []tensor.Tensor { return append([]tensor.Tensor(nil), d.labels...) }

// Outputs returns the raw-output sequence.
func (d *Dataset) Outputs() []tensor.Tensor { return append([]tensor.Tensor(nil), d.outputs...) }

// Probs returns the probability sequence.
func (d *Dataset) Probs() []tensor.Tensor { return append([]tensor.Tensor(nil), d.probs...) }

// GramLayers is the number of Gram layers per record, 0 when none were recorded.
func (d *Dataset) GramLayers() int {
	if len(d.grams) == 0 {
		return 0
	}
	return len(d.grams[0])
}

// Gram returns the per-record Gram matrices of one layer.
func (d *Dataset) Gram(layer int) []tensor.Tensor {
	out := make([]tensor.Tensor, len(d.grams))
	for i, g := range d.grams {
		out[i] = g[layer]
	}
	return out
}

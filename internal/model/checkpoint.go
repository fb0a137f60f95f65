package model

import (
	"fmt"
	"math"
	"math/rand"
	"os"

	"github.com/openfluke/loom/nn"

	"penultimate/internal/tensor"
)

// State is a named set of parameter tensors, keyed like
// "features.0.weight" and "output.bias".
type State map[string]tensor.Tensor

func featureKey(i int, part string) string {
	return fmt.Sprintf("features.%d.%s", i, part)
}

const (
	outputWeightKey = "output.weight"
	outputBiasKey   = "output.bias"
)

// InitialState fabricates a deterministic parameter set for a, sized for a
// classes-way head. Used for smoke runs and fixtures.
func InitialState(a Architecture, classes int, seed int64) (State, error) {
	geoms, err := a.plan()
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed))
	state := make(State, 2*len(geoms)+2)
	for i, g := range geoms {
		fanIn := g.inC * g.Kernel * g.Kernel
		state[featureKey(i, "weight")] = uniform(rng, math.Sqrt(6.0/float64(fanIn)), g.Filters, g.inC, g.Kernel, g.Kernel)
		state[featureKey(i, "bias")] = tensor.Zeros(g.Filters)
	}
	state[outputWeightKey] = uniform(rng, math.Sqrt(6.0/float64(a.FeatureDim+classes)), classes, a.FeatureDim)
	state[outputBiasKey] = tensor.Zeros(classes)
	return state, nil
}

func uniform(rng *rand.Rand, limit float64, shape ...int) tensor.Tensor {
	t := tensor.Zeros(shape...)
	for i := range t.Data {
		t.Data[i] = float32((rng.Float64()*2 - 1) * limit)
	}
	return t
}

// SaveCheckpoint writes state to path in safetensors format.
func SaveCheckpoint(path string, state State) error {
	out := make(map[string]nn.TensorWithShape, len(state))
	for name, t := range state {
		out[name] = t.ToLoom()
	}
	if err := nn.SaveSafetensors(path, out); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", path, err)
	}
	return nil
}

// LoadCheckpoint reads a safetensors checkpoint from path.
func LoadCheckpoint(path string) (State, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	entries, err := nn.LoadSafetensorsWithShapes(raw)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	state := make(State, len(entries))
	for name, entry := range entries {
		t, err := tensor.FromLoom(entry)
		if err != nil {
			return nil, fmt.Errorf("decode checkpoint %s: %s: %w", path, name, err)
		}
		state[name] = t
	}
	return state, nil
}

// take returns the named tensor after checking its shape.
func (s State) take(name string, shape ...int) ([]float32, error) {
	t, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("checkpoint: missing tensor %s", name)
	}
	if len(t.Shape) != len(shape) {
		return nil, fmt.Errorf("checkpoint: %s has shape %v, want %v", name, t.Shape, shape)
	}
	for i := range shape {
		if t.Shape[i] != shape[i] {
			return nil, fmt.Errorf("checkpoint: %s has shape %v, want %v", name, t.Shape, shape)
		}
	}
	return t.Data, nil
}

package model

import (
	"fmt"
	"log"

	"github.com/openfluke/loom/nn"

	"penultimate/internal/device"
	"penultimate/internal/tensor"
)

// Variant distinguishes the plain network from its Gram-recording twin.
type Variant string

const (
	Plain Variant = "plain"
	Gram  Variant = "gram"
)

// linear is loom's identity activation.
const linear = nn.ActivationType(-1)

// Pipeline is a loom-backed classifier: one single-layer network per feature
// convolution, then a dense head. It runs forward passes only.
type Pipeline struct {
	arch     Architecture
	trainset string
	classes  int
	variant  Variant
	dev      device.Config

	geoms  []layerGeom
	stages []*nn.Network
	head   *nn.Network

	mounted bool
	cpuOnly bool

	last tensor.Tensor
	gram []tensor.Tensor
}

func newPipeline(a Architecture, trainset string, classes int, variant Variant, state State, dev device.Config) (*Pipeline, error) {
	geoms, err := a.plan()
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		arch:     a,
		trainset: trainset,
		classes:  classes,
		variant:  variant,
		dev:      dev,
		geoms:    geoms,
		cpuOnly:  !dev.WantsAccelerator(),
	}
	for i, g := range geoms {
		cfg := nn.InitConv2DLayer(g.inH, g.inW, g.inC, g.Kernel, g.Stride, g.Padding, g.Filters, nn.ActivationScaledReLU)
		weight, err := state.take(featureKey(i, "weight"), g.Filters, g.inC, g.Kernel, g.Kernel)
		if err != nil {
			return nil, err
		}
		bias, err := state.take(featureKey(i, "bias"), g.Filters)
		if err != nil {
			return nil, err
		}
		if err := fill(&cfg, weight, bias); err != nil {
			return nil, fmt.Errorf("%s: %w", featureKey(i, "weight"), err)
		}
		p.stages = append(p.stages, singleLayer(g.inSize(), cfg))
	}

	cfg := nn.InitDenseLayer(a.FeatureDim, classes, linear)
	weight, err := state.take(outputWeightKey, classes, a.FeatureDim)
	if err != nil {
		return nil, err
	}
	bias, err := state.take(outputBiasKey, classes)
	if err != nil {
		return nil, err
	}
	if err := fill(&cfg, weight, bias); err != nil {
		return nil, fmt.Errorf("%s: %w", outputWeightKey, err)
	}
	p.head = singleLayer(a.FeatureDim, cfg)
	return p, nil
}

func singleLayer(inputSize int, cfg nn.LayerConfig) *nn.Network {
	net := nn.NewNetwork(inputSize, 1, 1, 1)
	net.BatchSize = 1
	net.SetLayer(0, 0, 0, cfg)
	return net
}

func fill(cfg *nn.LayerConfig, weight, bias []float32) error {
	if len(cfg.Kernel) != len(weight) || len(cfg.Bias) != len(bias) {
		return fmt.Errorf("layer holds %d+%d parameters, checkpoint has %d+%d",
			len(cfg.Kernel), len(cfg.Bias), len(weight), len(bias))
	}
	copy(cfg.Kernel, weight)
	copy(cfg.Bias, bias)
	return nil
}

// Architecture returns the declared architecture.
func (p *Pipeline) Architecture() Architecture { return p.arch }

// Trainset returns the training set the weights were fit on.
func (p *Pipeline) Trainset() string { return p.trainset }

// Classes returns the width of the head.
func (p *Pipeline) Classes() int { return p.classes }

// Variant returns Plain or Gram.
func (p *Pipeline) Variant() Variant { return p.variant }

// ParamCount counts the loaded weights and biases.
func (p *Pipeline) ParamCount() int {
	return paramCount(p.geoms, p.arch.FeatureDim, p.classes)
}

// Device reports where forward passes currently run.
func (p *Pipeline) Device() device.Kind {
	if p.mounted {
		return device.GPU
	}
	return device.CPU
}

// Features runs the feature stage and returns [batch, FeatureDim]. The Gram
// variant also records per-layer Gram matrices for the batch.
func (p *Pipeline) Features(batch tensor.Tensor) (tensor.Tensor, error) {
	if batch.RowSize() != p.arch.InputSize() {
		return tensor.Tensor{}, fmt.Errorf("model: %s expects %d values per image, got %d",
			p.arch.Name, p.arch.InputSize(), batch.RowSize())
	}
	p.mount()

	n := batch.Len()
	feats := make([]float32, 0, n*p.arch.FeatureDim)
	var grams [][]float32
	if p.variant == Gram {
		grams = make([][]float32, len(p.geoms)-1)
		for i := range grams {
			c := p.geoms[i].outC
			grams[i] = make([]float32, 0, n*c*c)
		}
	}
	for row := 0; row < n; row++ {
		x := append([]float32(nil), batch.Row(row)...)
		for i, net := range p.stages {
			y, err := forward(net, x, p.geoms[i].outSize())
			if err != nil {
				return tensor.Tensor{}, fmt.Errorf("model: %s layer %d: %w", p.arch.Name, i, err)
			}
			if grams != nil && i < len(grams) {
				g := p.geoms[i]
				grams[i] = append(grams[i], gramMatrix(y, g.outC, g.outH*g.outW)...)
			}
			x = y
		}
		feats = append(feats, x...)
	}
	if grams != nil {
		p.gram = make([]tensor.Tensor, len(grams))
		for i, g := range grams {
			c := p.geoms[i].outC
			p.gram[i] = tensor.New(g, n, c, c)
		}
	}
	return tensor.New(feats, n, p.arch.FeatureDim), nil
}

// Head maps [batch, FeatureDim] features to [batch, classes] scores.
func (p *Pipeline) Head(features tensor.Tensor) (tensor.Tensor, error) {
	if features.RowSize() != p.arch.FeatureDim {
		return tensor.Tensor{}, fmt.Errorf("model: head expects %d features, got %d", p.arch.FeatureDim, features.RowSize())
	}
	p.mount()
	n := features.Len()
	out := make([]float32, 0, n*p.classes)
	for row := 0; row < n; row++ {
		y, err := forward(p.head, append([]float32(nil), features.Row(row)...), p.classes)
		if err != nil {
			return tensor.Tensor{}, fmt.Errorf("model: %s head: %w", p.arch.Name, err)
		}
		out = append(out, y...)
	}
	return tensor.New(out, n, p.classes), nil
}

// Classify runs both stages, caching a detached copy of the features.
func (p *Pipeline) Classify(batch tensor.Tensor) (tensor.Tensor, error) {
	feats, err := p.Features(batch)
	if err != nil {
		return tensor.Tensor{}, err
	}
	p.last = feats.Clone()
	return p.Head(feats)
}

// LastFeatures returns the features cached by the last Classify call.
func (p *Pipeline) LastFeatures() tensor.Tensor {
	return p.last
}

// LastGram returns per-layer Gram matrices [batch, C, C] from the last
// feature pass. Nil for the plain variant.
func (p *Pipeline) LastGram() []tensor.Tensor {
	return p.gram
}

// Release drops accelerator copies of the weights. The next forward pass
// mounts them again.
func (p *Pipeline) Release() {
	if !p.mounted {
		return
	}
	for _, net := range p.networks() {
		net.ReleaseGPUWeights()
		net.GPU = false
	}
	p.mounted = false
}

func (p *Pipeline) networks() []*nn.Network {
	return append(append([]*nn.Network(nil), p.stages...), p.head)
}

// mount moves weights to the accelerator when configured. A failed mount
// pins the pipeline to the CPU for the rest of its life.
func (p *Pipeline) mount() {
	if p.mounted || p.cpuOnly {
		return
	}
	p.dev.Apply()
	nets := p.networks()
	for i, net := range nets {
		net.GPU = true
		if err := net.WeightsToGPU(); err != nil {
			log.Printf("model=%s accelerator unavailable, using cpu: %v", p.arch.Name, err)
			for _, done := range nets[:i] {
				done.ReleaseGPUWeights()
				done.GPU = false
			}
			net.GPU = false
			p.cpuOnly = true
			return
		}
	}
	p.mounted = true
}

func forward(net *nn.Network, x []float32, want int) ([]float32, error) {
	y, _ := net.ForwardCPU(x)
	if len(y) != want {
		return nil, fmt.Errorf("forward produced %d values, want %d", len(y), want)
	}
	return append([]float32(nil), y...), nil
}

// gramMatrix computes the channel Gram matrix of a CHW activation, averaged
// over spatial positions.
func gramMatrix(act []float32, channels, positions int) []float32 {
	out := make([]float32, channels*channels)
	scale := 1 / float32(positions)
	for a := 0; a < channels; a++ {
		ra := act[a*positions : (a+1)*positions]
		for b := a; b < channels; b++ {
			rb := act[b*positions : (b+1)*positions]
			var sum float32
			for k := range ra {
				sum += ra[k] * rb[k]
			}
			sum *= scale
			out[a*channels+b] = sum
			out[b*channels+a] = sum
		}
	}
	return out
}

package model

import (
	"fmt"
	"sort"
)

// Input geometry shared by every supported training set (32x32 RGB).
const (
	InputChannels = 3
	InputSide     = 32
)

// ConvSpec is one strided convolution of a feature stage.
type ConvSpec struct {
	Filters int
	Kernel  int
	Stride  int
	Padding int
}

// Architecture declares a network family's hyperparameters and the compact
// loom rendition built from them. The feature stage is Stages followed by a
// valid convolution that collapses the remaining spatial extent into
// FeatureDim channels; the head is a dense layer to the class count.
type Architecture struct {
	Name       string
	Family     string
	Depth      int
	Width      int
	Stages     []ConvSpec
	FeatureDim int
	HasGram    bool

	// checkpoints maps a supported training set to its checkpoint stem.
	checkpoints map[string]string
}

var datasetClasses = map[string]int{
	"cifar10":  10,
	"cifar100": 100,
	"svhn":     10,
}

var architectures = map[string]Architecture{
	"densenet": {
		Name:       "densenet",
		Family:     "DenseNet-BC",
		Depth:      100,
		Width:      12,
		Stages:     downsampling(24, 48, 96),
		FeatureDim: 342,
		HasGram:    true,
		checkpoints: map[string]string{
			"cifar10":  "densenet_cifar10",
			"cifar100": "densenet_cifar100",
			"svhn":     "densenet_svhn",
		},
	},
	"wideresnet": {
		Name:       "wideresnet",
		Family:     "WideResNet",
		Depth:      28,
		Width:      10,
		Stages:     downsampling(16, 32, 64),
		FeatureDim: 640,
		checkpoints: map[string]string{
			"cifar10":  "wideresnet10",
			"cifar100": "wideresnet100",
		},
	},
	"resnet": {
		Name:       "resnet",
		Family:     "ResNet-34",
		Depth:      34,
		Width:      1,
		Stages:     downsampling(32, 64, 128),
		FeatureDim: 512,
		HasGram:    true,
		checkpoints: map[string]string{
			"cifar10":  "resnet_cifar10",
			"cifar100": "resnet_cifar100",
			"svhn":     "resnet_svhn",
		},
	},
}

func downsampling(filters ...int) []ConvSpec {
	specs := make([]ConvSpec, len(filters))
	for i, f := range filters {
		specs[i] = ConvSpec{Filters: f, Kernel: 3, Stride: 2, Padding: 1}
	}
	return specs
}

// Lookup returns the architecture registered under name.
func Lookup(name string) (Architecture, error) {
	a, ok := architectures[name]
	if !ok {
		return Architecture{}, &UnsupportedError{Architecture: name}
	}
	return a, nil
}

// Architectures lists registered architecture names in sorted order.
func Architectures() []string {
	names := make([]string, 0, len(architectures))
	for name := range architectures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Datasets lists the training sets this architecture has checkpoints for.
func (a Architecture) Datasets() []string {
	names := make([]string, 0, len(a.checkpoints))
	for name := range a.checkpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Classes returns the class count for trainset, or an unsupported error.
func (a Architecture) Classes(trainset string) (int, error) {
	if _, ok := a.checkpoints[trainset]; !ok {
		return 0, &UnsupportedError{Architecture: a.Name, Dataset: trainset}
	}
	return datasetClasses[trainset], nil
}

// InputSize is the flattened CHW length of one image.
func (a Architecture) InputSize() int {
	return InputChannels * InputSide * InputSide
}

// layerGeom is a ConvSpec with its input and output extents resolved.
type layerGeom struct {
	ConvSpec
	inC, inH, inW    int
	outC, outH, outW int
}

func (g layerGeom) inSize() int  { return g.inC * g.inH * g.inW }
func (g layerGeom) outSize() int { return g.outC * g.outH * g.outW }

func (g layerGeom) params() int {
	return g.Filters*g.inC*g.Kernel*g.Kernel + g.Filters
}

// plan resolves the feature stage, ending in the collapsing convolution.
func (a Architecture) plan() ([]layerGeom, error) {
	c, h, w := InputChannels, InputSide, InputSide
	geoms := make([]layerGeom, 0, len(a.Stages)+1)
	specs := append(append([]ConvSpec(nil), a.Stages...), ConvSpec{})
	for i, spec := range specs {
		if i == len(specs)-1 {
			if h != w {
				return nil, fmt.Errorf("model: %s collapses a non-square %dx%d map", a.Name, h, w)
			}
			spec = ConvSpec{Filters: a.FeatureDim, Kernel: h, Stride: 1}
		}
		outH := (h+2*spec.Padding-spec.Kernel)/spec.Stride + 1
		outW := (w+2*spec.Padding-spec.Kernel)/spec.Stride + 1
		if outH <= 0 || outW <= 0 {
			return nil, fmt.Errorf("model: %s layer %d shrinks %dx%d to nothing", a.Name, i, h, w)
		}
		geoms = append(geoms, layerGeom{
			ConvSpec: spec,
			inC:      c, inH: h, inW: w,
			outC: spec.Filters, outH: outH, outW: outW,
		})
		c, h, w = spec.Filters, outH, outW
	}
	return geoms, nil
}

// ParamCount is the number of weights and biases for a classes-way head.
func (a Architecture) ParamCount(classes int) (int, error) {
	geoms, err := a.plan()
	if err != nil {
		return 0, err
	}
	return paramCount(geoms, a.FeatureDim, classes), nil
}

func paramCount(geoms []layerGeom, featureDim, classes int) int {
	total := 0
	for _, g := range geoms {
		total += g.params()
	}
	return total + featureDim*classes + classes
}

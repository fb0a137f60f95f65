package model

import "penultimate/internal/tensor"

// Classifier is a network in inference mode that also exposes the flattened
// penultimate activations of its most recent Classify call.
type Classifier interface {
	// Classify returns raw class scores shaped [batch, classes].
	Classify(batch tensor.Tensor) (tensor.Tensor, error)
	// LastFeatures returns the features cached by the last Classify call. The
	// slot is overwritten on every call; read it before classifying again.
	LastFeatures() tensor.Tensor
}

// Staged is a network split into a feature stage and a classification head.
type Staged interface {
	Features(batch tensor.Tensor) (tensor.Tensor, error)
	Head(features tensor.Tensor) (tensor.Tensor, error)
}

// Releaser frees accelerator memory held by a model between sweeps.
type Releaser interface {
	Release()
}

// GramRecorder is implemented by classifiers that record per-layer channel
// Gram matrices, each shaped [batch, C, C], during the last forward pass.
type GramRecorder interface {
	LastGram() []tensor.Tensor
}

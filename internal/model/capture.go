package model

import "penultimate/internal/tensor"

type capturing struct {
	staged Staged
	last   tensor.Tensor
}

// WithFeatureCapture turns any two-stage network into a Classifier. Each
// Classify flattens the feature-stage output, keeps a detached copy, and then
// runs the head on the same values.
func WithFeatureCapture(s Staged) Classifier {
	return &capturing{staged: s}
}

func (c *capturing) Classify(batch tensor.Tensor) (tensor.Tensor, error) {
	feats, err := c.staged.Features(batch)
	if err != nil {
		return tensor.Tensor{}, err
	}
	flat := feats.Flatten()
	c.last = flat.Clone()
	return c.staged.Head(flat)
}

func (c *capturing) LastFeatures() tensor.Tensor {
	return c.last
}

func (c *capturing) Release() {
	if r, ok := c.staged.(Releaser); ok {
		r.Release()
	}
}

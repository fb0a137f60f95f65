// Package dataset provides restartable, finite loaders of labeled image
// batches. Loaders are consumed read-only by the extraction runners.
package dataset

import (
	"errors"
	"fmt"
	"io"

	"penultimate/internal/tensor"
)

// Batch is one minibatch: images shaped [n, C, H, W] and n labels.
type Batch struct {
	Images tensor.Tensor
	Labels []int
}

// Iterator yields batches until it returns io.EOF.
type Iterator interface {
	Next() (Batch, error)
	Close() error
}

// Loader is a finite labeled dataset. Every Batches call starts over from
// the first example.
type Loader interface {
	// Len is the number of examples, not batches.
	Len() int
	Batches() Iterator
}

// SliceLoader serves batches from an in-memory tensor.
type SliceLoader struct {
	images    tensor.Tensor
	labels    []int
	batchSize int
}

// NewSliceLoader splits images/labels into batches of batchSize; the last
// batch may be short.
func NewSliceLoader(images tensor.Tensor, labels []int, batchSize int) (*SliceLoader, error) {
	if images.Len() != len(labels) {
		return nil, fmt.Errorf("dataset: %d images but %d labels", images.Len(), len(labels))
	}
	if batchSize <= 0 {
		return nil, errors.New("dataset: batch size must be > 0")
	}
	return &SliceLoader{images: images, labels: labels, batchSize: batchSize}, nil
}

func (l *SliceLoader) Len() int { return len(l.labels) }

func (l *SliceLoader) Batches() Iterator {
	return &sliceIter{l: l}
}

type sliceIter struct {
	l   *SliceLoader
	pos int
}

func (it *sliceIter) Next() (Batch, error) {
	total := len(it.l.labels)
	if it.pos >= total {
		return Batch{}, io.EOF
	}
	end := it.pos + it.l.batchSize
	if end > total {
		end = total
	}
	size := it.l.images.RowSize()
	shape := append([]int{end - it.pos}, it.l.images.Shape[1:]...)
	batch := Batch{
		Images: tensor.New(it.l.images.Data[it.pos*size:end*size], shape...),
		Labels: it.l.labels[it.pos:end],
	}
	it.pos = end
	return batch, nil
}

func (it *sliceIter) Close() error { return nil }

package dataset

import (
	"errors"
	"fmt"
	"io"

	"penultimate/internal/tensor"
)

// ShardOptions configures a ShardLoader.
type ShardOptions struct {
	BatchSize     int
	Side          int
	Normalization Normalization
	PendingCap    int
}

// ShardLoader reads labeled images from WebDataset shards in lexical shard
// order. It counts its examples once, at construction.
type ShardLoader struct {
	shards []string
	opts   ShardOptions
	count  int
}

// NewShardLoader discovers the shards under root and counts their samples.
func NewShardLoader(root string, opts ShardOptions) (*ShardLoader, error) {
	if opts.BatchSize <= 0 {
		return nil, errors.New("dataset: batch size must be > 0")
	}
	if opts.Side <= 0 {
		opts.Side = 32
	}
	if opts.Normalization == (Normalization{}) {
		opts.Normalization = Identity
	}
	shards, err := DiscoverShards(root)
	if err != nil {
		return nil, err
	}
	l := &ShardLoader{shards: shards, opts: opts}

	r := newShardReader(shards, opts.PendingCap)
	defer r.Close()
	for {
		_, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", root, err)
		}
		l.count++
	}
	return l, nil
}

func (l *ShardLoader) Len() int { return l.count }

// Shards returns the shard paths in read order.
func (l *ShardLoader) Shards() []string {
	return append([]string(nil), l.shards...)
}

func (l *ShardLoader) Batches() Iterator {
	return &shardIter{
		r:    newShardReader(l.shards, l.opts.PendingCap),
		opts: l.opts,
	}
}

type shardIter struct {
	r    *shardReader
	opts ShardOptions
}

func (it *shardIter) Next() (Batch, error) {
	side := it.opts.Side
	images := make([]float32, 0, it.opts.BatchSize*3*side*side)
	labels := make([]int, 0, it.opts.BatchSize)
	for len(labels) < it.opts.BatchSize {
		sample, err := it.r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Batch{}, err
		}
		pixels, err := decodeImage(sample.Image, side, it.opts.Normalization)
		if err != nil {
			return Batch{}, fmt.Errorf("decode %s: %w", sample.Key, err)
		}
		images = append(images, pixels...)
		labels = append(labels, sample.Label)
	}
	if len(labels) == 0 {
		return Batch{}, io.EOF
	}
	return Batch{
		Images: tensor.New(images, len(labels), 3, side, side),
		Labels: labels,
	}, nil
}

func (it *shardIter) Close() error {
	return it.r.Close()
}

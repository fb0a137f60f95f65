package dataset

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, it Iterator) []Batch {
	t.Helper()
	defer it.Close()
	var batches []Batch
	for {
		b, err := it.Next()
		if errors.Is(err, io.EOF) {
			return batches
		}
		require.NoError(t, err)
		batches = append(batches, b)
	}
}

func TestShardLoaderBatchesAcrossShards(t *testing.T) {
	root := t.TempDir()
	label := 0
	for s := 0; s < 2; s++ {
		var pairs []filePair
		for i := 0; i < 3; i++ {
			pairs = append(pairs, filePair{
				key:      fmt.Sprintf("%02d%02d", s, i),
				imageExt: ".png",
				image:    pngBytes(t, 8, uint8(40*label)),
				label:    label,
			})
			label++
		}
		writeShard(t, filepath.Join(root, fmt.Sprintf("shard-%06d.tar", s)), pairs)
	}

	norm, err := NormalizationFor("cifar10")
	require.NoError(t, err)
	l, err := NewShardLoader(root, ShardOptions{BatchSize: 4, Side: 8, Normalization: norm})
	require.NoError(t, err)
	assert.Equal(t, 6, l.Len())
	assert.Len(t, l.Shards(), 2)

	batches := drain(t, l.Batches())
	require.Len(t, batches, 2)
	assert.Equal(t, []int{0, 1, 2, 3}, batches[0].Labels)
	assert.Equal(t, []int{4, 5}, batches[1].Labels)
	assert.Equal(t, []int{4, 3, 8, 8}, batches[0].Images.Shape)
	assert.Equal(t, []int{2, 3, 8, 8}, batches[1].Images.Shape)

	again := drain(t, l.Batches())
	require.Len(t, again, 2)
	assert.Equal(t, batches[0].Images.Data, again[0].Images.Data, "loaders restart from the first example")
}

func TestShardLoaderUndecodableImage(t *testing.T) {
	root := t.TempDir()
	writeShard(t, filepath.Join(root, "shard-000000.tar"), []filePair{
		{key: "bad", imageExt: ".png", image: []byte("not a png"), label: 1},
	})
	l, err := NewShardLoader(root, ShardOptions{BatchSize: 2})
	require.NoError(t, err)

	it := l.Batches()
	defer it.Close()
	_, err = it.Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode bad")
}

func TestShardLoaderRejectsBadOptions(t *testing.T) {
	_, err := NewShardLoader(t.TempDir(), ShardOptions{})
	assert.Error(t, err)

	_, err = NewShardLoader(t.TempDir(), ShardOptions{BatchSize: 1})
	assert.ErrorIs(t, err, ErrNoShards)
}

func TestDecodeImageNormalizes(t *testing.T) {
	pixels, err := decodeImage(pngBytes(t, 16, 255), 4, Identity)
	require.NoError(t, err)
	require.Len(t, pixels, 3*4*4)
	for _, v := range pixels[:16] {
		assert.InDelta(t, 1.0, v, 1e-6, "red plane is saturated")
	}
	for _, v := range pixels {
		assert.True(t, v >= 0 && v <= 1, "pixel out of range: %f", v)
	}

	norm := Normalization{Mean: [3]float32{0.5, 0.5, 0.5}, Std: [3]float32{0.5, 0.5, 0.5}}
	centered, err := decodeImage(pngBytes(t, 4, 255), 4, norm)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, centered[0], 1e-6)
	assert.InDelta(t, -1.0, centered[2*16], 1e-6, "blue plane is empty")

	_, err = NormalizationFor("imagenet")
	assert.Error(t, err)
}

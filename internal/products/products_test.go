package products

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"penultimate/internal/features"
	"penultimate/internal/tensor"
)

func sampleDataset(t *testing.T) *features.Dataset {
	t.Helper()
	ds, err := features.New(
		[]tensor.Tensor{tensor.New([]float32{1, 2, 3, 4}, 2, 2), tensor.New([]float32{5, 6}, 1, 2)},
		[]tensor.Tensor{tensor.FromLabels([]int{0, 1}), tensor.FromLabels([]int{2})},
		[]tensor.Tensor{tensor.New([]float32{1, 0, 0, 0, 1, 0}, 2, 3), tensor.New([]float32{0, 0, 1}, 1, 3)},
		[]tensor.Tensor{tensor.New([]float32{.5, .25, .25, .25, .5, .25}, 2, 3), tensor.New([]float32{.25, .25, .5}, 1, 3)},
		nil,
	)
	require.NoError(t, err)
	return ds
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	saver := &Saver{RunID: uuid.MustParse("7c0b5f0e-3d2a-4b8e-9a51-0f3c2d1e4b6a"), Now: func() time.Time { return created }}

	require.NoError(t, saver.Save(sampleDataset(t), dir, "ood_testset_1"))

	p, err := Load(dir, "ood_testset_1")
	require.NoError(t, err)
	assert.Equal(t, "7c0b5f0e-3d2a-4b8e-9a51-0f3c2d1e4b6a", p.Manifest.RunID)
	assert.Equal(t, "ood_testset_1", p.Manifest.Dataset)
	assert.True(t, created.Equal(p.Manifest.CreatedAt))
	assert.Equal(t, 3, p.Manifest.Examples)
	assert.Equal(t, []int{2, 1}, p.Manifest.BatchSizes)
	assert.Equal(t, []int{3, 2}, p.Manifest.Shapes[FeaturesKey])

	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, p.Features.Data)
	assert.Equal(t, []int{0, 1, 2}, p.Labels.Labels())
	assert.Equal(t, []int{3, 3}, p.Outputs.Shape)
	assert.Equal(t, []int{3, 3}, p.Probs.Shape)
}

func TestSaveRejectsEmptyDataset(t *testing.T) {
	ds, err := features.New(nil, nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Error(t, NewSaver().Save(ds, t.TempDir(), "trainset"))
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(t.TempDir(), "nope")
	assert.Error(t, err)
}

func TestSaversShareRunID(t *testing.T) {
	dir := t.TempDir()
	saver := NewSaver()
	require.NoError(t, saver.Save(sampleDataset(t), dir, "trainset"))
	require.NoError(t, saver.Save(sampleDataset(t), dir, "ind_testset"))

	a, err := Load(dir, "trainset")
	require.NoError(t, err)
	b, err := Load(dir, "ind_testset")
	require.NoError(t, err)
	assert.Equal(t, a.Manifest.RunID, b.Manifest.RunID)
	assert.NotEqual(t, uuid.Nil.String(), a.Manifest.RunID)
}

func TestSaveLoadGrams(t *testing.T) {
	dir := t.TempDir()
	ds, err := features.NewWithGrams(
		[]tensor.Tensor{tensor.New([]float32{1, 2, 3, 4}, 2, 2), tensor.New([]float32{5, 6}, 1, 2)},
		[]tensor.Tensor{tensor.FromLabels([]int{0, 1}), tensor.FromLabels([]int{2})},
		[]tensor.Tensor{tensor.Zeros(2, 3), tensor.Zeros(1, 3)},
		[]tensor.Tensor{tensor.Zeros(2, 3), tensor.Zeros(1, 3)},
		[][]tensor.Tensor{
			{tensor.New([]float32{1, 0, 0, 1, 2, 0, 0, 2}, 2, 2, 2)},
			{tensor.New([]float32{3, 0, 0, 3}, 1, 2, 2)},
		},
		nil,
	)
	require.NoError(t, err)
	require.NoError(t, NewSaver().Save(ds, dir, "ind_testset"))

	p, err := Load(dir, "ind_testset")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Manifest.GramLayers)
	require.Len(t, p.Gram, 1)
	assert.Equal(t, []int{3, 2, 2}, p.Gram[0].Shape)
	assert.Equal(t, []float32{1, 0, 0, 1, 2, 0, 0, 2, 3, 0, 0, 3}, p.Gram[0].Data)
	assert.Equal(t, []int{3, 2, 2}, p.Manifest.Shapes[GramKey(0)])
}

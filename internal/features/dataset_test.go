package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"penultimate/internal/tensor"
)

func record(n int) (tensor.Tensor, tensor.Tensor, tensor.Tensor, tensor.Tensor) {
	return tensor.Zeros(n, 4), tensor.FromLabels(make([]int, n)), tensor.Zeros(n, 3), tensor.Zeros(n, 3)
}

func TestNewParallelSequences(t *testing.T) {
	f1, l1, o1, p1 := record(2)
	f2, l2, o2, p2 := record(1)
	ds, err := New(
		[]tensor.Tensor{f1, f2},
		[]tensor.Tensor{l1, l2},
		[]tensor.Tensor{o1, o2},
		[]tensor.Tensor{p1, p2},
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Len())
	assert.Equal(t, 3, ds.Examples())
	assert.Equal(t, f2.Shape, ds.At(1).Features.Shape)
}

func TestNewRejectsMismatch(t *testing.T) {
	f, l, o, p := record(2)
	_, err := New([]tensor.Tensor{f}, []tensor.Tensor{l}, []tensor.Tensor{o}, nil, nil)
	assert.Error(t, err)

	_, err = New([]tensor.Tensor{f}, []tensor.Tensor{tensor.FromLabels([]int{1})}, []tensor.Tensor{o}, []tensor.Tensor{p}, nil)
	assert.Error(t, err)
}

func TestTransformAppliedOnAccess(t *testing.T) {
	f, l, o, p := record(1)
	scale := func(t tensor.Tensor) tensor.Tensor {
		out := t.Clone()
		for i := range out.Data {
			out.Data[i] = 1
		}
		return out
	}
	ds, err := New([]tensor.Tensor{f}, []tensor.Tensor{l}, []tensor.Tensor{o}, []tensor.Tensor{p}, scale)
	require.NoError(t, err)
	assert.Equal(t, float32(1), ds.At(0).Features.Data[0])
	assert.Equal(t, float32(0), ds.Features()[0].Data[0], "stored features stay untouched")
}

func TestAccessorsReturnCopies(t *testing.T) {
	f, l, o, p := record(2)
	outputs := []tensor.Tensor{o}
	ds, err := New([]tensor.Tensor{f}, []tensor.Tensor{l}, outputs, []tensor.Tensor{p}, nil)
	require.NoError(t, err)
	outputs[0] = tensor.Zeros(5, 3)

	feats := ds.Features()
	feats[0] = tensor.Zeros(7, 4)
	_ = append(ds.Labels(), tensor.FromLabels([]int{1}))
	probs := ds.Probs()
	probs[0] = tensor.Tensor{}

	assert.Equal(t, 2, ds.Features()[0].Len())
	assert.Len(t, ds.Labels(), 1)
	assert.Equal(t, 2, ds.Probs()[0].Len())
	assert.Equal(t, 2, ds.Outputs()[0].Len())
}

func TestNewWithGrams(t *testing.T) {
	f1, l1, o1, p1 := record(2)
	f2, l2, o2, p2 := record(1)
	grams := [][]tensor.Tensor{
		{tensor.Zeros(2, 3, 3), tensor.Zeros(2, 5, 5)},
		{tensor.Zeros(1, 3, 3), tensor.Zeros(1, 5, 5)},
	}
	ds, err := NewWithGrams(
		[]tensor.Tensor{f1, f2}, []tensor.Tensor{l1, l2}, []tensor.Tensor{o1, o2}, []tensor.Tensor{p1, p2},
		grams, nil,
	)
	require.NoError(t, err)
	assert.Equal(t, 2, ds.GramLayers())
	layer1 := ds.Gram(1)
	require.Len(t, layer1, 2)
	assert.Equal(t, []int{1, 5, 5}, layer1[1].Shape)
	assert.Len(t, ds.At(0).Gram, 2)

	plain, err := New([]tensor.Tensor{f1}, []tensor.Tensor{l1}, []tensor.Tensor{o1}, []tensor.Tensor{p1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, plain.GramLayers())
	assert.Nil(t, plain.At(0).Gram)
}

func TestNewWithGramsRejectsMismatch(t *testing.T) {
	f, l, o, p := record(2)
	seqs := func() ([]tensor.Tensor, []tensor.Tensor, []tensor.Tensor, []tensor.Tensor) {
		return []tensor.Tensor{f}, []tensor.Tensor{l}, []tensor.Tensor{o}, []tensor.Tensor{p}
	}
	cases := map[string][][]tensor.Tensor{
		"record count": {{tensor.Zeros(2, 3, 3)}, {tensor.Zeros(2, 3, 3)}},
		"batch size":   {{tensor.Zeros(3, 3, 3)}},
	}
	for name, grams := range cases {
		t.Run(name, func(t *testing.T) {
			a, b, c, d := seqs()
			_, err := NewWithGrams(a, b, c, d, grams, nil)
			assert.Error(t, err)
		})
	}
}

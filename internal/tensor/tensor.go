// Package tensor holds the shaped float32 values passed between loaders,
// classifiers, and the persistence layer. The first dimension is always the
// batch dimension.
package tensor

import (
	"fmt"
	"math"

	"github.com/openfluke/loom/nn"
)

// Tensor is a row-major float32 array with an explicit shape.
type Tensor struct {
	Shape []int
	Data  []float32
}

// New wraps data with shape. It panics when the element count disagrees.
func New(data []float32, shape ...int) Tensor {
	if numel(shape) != len(data) {
		panic(fmt.Sprintf("tensor: shape %v holds %d elements, got %d", shape, numel(shape), len(data)))
	}
	return Tensor{Shape: append([]int(nil), shape...), Data: data}
}

// Zeros allocates a zero tensor.
func Zeros(shape ...int) Tensor {
	return New(make([]float32, numel(shape)), shape...)
}

// FromLabels converts integer labels into a [len(labels)] tensor.
func FromLabels(labels []int) Tensor {
	data := make([]float32, len(labels))
	for i, l := range labels {
		data[i] = float32(l)
	}
	return New(data, len(labels))
}

// Labels converts a rank-1 label tensor back to ints.
func (t Tensor) Labels() []int {
	out := make([]int, len(t.Data))
	for i, v := range t.Data {
		out[i] = int(v)
	}
	return out
}

// Empty reports whether the tensor holds no elements.
func (t Tensor) Empty() bool {
	return len(t.Shape) == 0 || len(t.Data) == 0
}

// Len returns the batch dimension.
func (t Tensor) Len() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[0]
}

// RowSize returns the number of elements per batch entry.
func (t Tensor) RowSize() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return numel(t.Shape[1:])
}

// Row returns a view of the i-th batch entry.
func (t Tensor) Row(i int) []float32 {
	size := t.RowSize()
	return t.Data[i*size : (i+1)*size]
}

// Clone returns a deep copy, detached from the receiver's storage.
func (t Tensor) Clone() Tensor {
	return Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float32(nil), t.Data...),
	}
}

// Flatten reshapes the tensor to [batch, features].
func (t Tensor) Flatten() Tensor {
	if len(t.Shape) <= 2 {
		return t
	}
	return Tensor{Shape: []int{t.Len(), t.RowSize()}, Data: t.Data}
}

// Softmax applies a numerically stable softmax over the last dimension.
func Softmax(t Tensor) Tensor {
	out := t.Clone()
	if len(t.Shape) == 0 {
		return out
	}
	width := t.Shape[len(t.Shape)-1]
	if width == 0 {
		return out
	}
	for start := 0; start < len(out.Data); start += width {
		softmaxInPlace(out.Data[start : start+width])
	}
	return out
}

func softmaxInPlace(logits []float32) {
	maxLogit := logits[0]
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}
	sum := 0.0
	for i, v := range logits {
		e := math.Exp(float64(v - maxLogit))
		logits[i] = float32(e)
		sum += e
	}
	inv := 1.0 / sum
	for i := range logits {
		logits[i] = float32(float64(logits[i]) * inv)
	}
}

// Argmax returns the index of the largest value; ties resolve to the first.
func Argmax(row []float32) int {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return best
}

// Concat joins tensors along the batch dimension. Trailing dimensions must agree.
func Concat(ts []Tensor) (Tensor, error) {
	if len(ts) == 0 {
		return Tensor{}, nil
	}
	tail := ts[0].Shape[1:]
	rows := 0
	size := 0
	for i, t := range ts {
		if !sameShape(t.Shape[1:], tail) {
			return Tensor{}, fmt.Errorf("tensor: concat part %d has shape %v, want [*%v]", i, t.Shape, tail)
		}
		rows += t.Len()
		size += len(t.Data)
	}
	data := make([]float32, 0, size)
	for _, t := range ts {
		data = append(data, t.Data...)
	}
	shape := append([]int{rows}, tail...)
	return New(data, shape...), nil
}

// ToLoom converts the tensor into loom's safetensors representation.
func (t Tensor) ToLoom() nn.TensorWithShape {
	return nn.TensorWithShape{
		Values: t.Data,
		Shape:  append([]int(nil), t.Shape...),
		DType:  "F32",
	}
}

// FromLoom converts a loom safetensors entry into a Tensor.
func FromLoom(ts nn.TensorWithShape) (Tensor, error) {
	if numel(ts.Shape) != len(ts.Values) {
		return Tensor{}, fmt.Errorf("tensor: loom shape %v holds %d elements, got %d", ts.Shape, numel(ts.Shape), len(ts.Values))
	}
	return Tensor{Shape: append([]int(nil), ts.Shape...), Data: ts.Values}, nil
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

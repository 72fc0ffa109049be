package tensor

import "fmt"

// Tensor represents a multi-dimensional float32 array in row-major order
type Tensor struct {
	Data  []float32
	Shape []int
}

// NewTensor creates a new zero-filled tensor with given shape
func NewTensor(shape ...int) *Tensor {
	return &Tensor{
		Data:  make([]float32, NumElements(shape)),
		Shape: shape,
	}
}

// FromData creates a tensor wrapping the given data slice
func FromData(data []float32, shape ...int) *Tensor {
	if len(data) != NumElements(shape) {
		panic(fmt.Sprintf("data length %d does not match shape %v", len(data), shape))
	}
	return &Tensor{Data: data, Shape: shape}
}

// NumElements returns the element count implied by a shape
func NumElements(shape []int) int {
	n := 1
	for _, dim := range shape {
		n *= dim
	}
	return n
}

// Size returns total number of elements
func (t *Tensor) Size() int {
	return NumElements(t.Shape)
}

// At returns element at given indices
func (t *Tensor) At(indices ...int) float32 {
	return t.Data[t.flatIndex(indices)]
}

// Set sets element at given indices
func (t *Tensor) Set(val float32, indices ...int) {
	t.Data[t.flatIndex(indices)] = val
}

func (t *Tensor) flatIndex(indices []int) int {
	if len(indices) != len(t.Shape) {
		panic(fmt.Sprintf("wrong number of indices: got %d, want %d", len(indices), len(t.Shape)))
	}
	idx := 0
	stride := 1
	for i := len(indices) - 1; i >= 0; i-- {
		idx += indices[i] * stride
		stride *= t.Shape[i]
	}
	return idx
}

// Clone returns a deep copy of the tensor
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	shape := make([]int, len(t.Shape))
	copy(shape, t.Shape)
	return &Tensor{Data: data, Shape: shape}
}

// SameShape reports whether two shapes are identical
func SameShape(a, b []int) bool {
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

// Stack2 stacks two equal-shape tensors on a new leading axis of size 2
func Stack2(a, b *Tensor) (*Tensor, error) {
	if !SameShape(a.Shape, b.Shape) {
		return nil, fmt.Errorf("cannot stack tensors with shapes %v and %v", a.Shape, b.Shape)
	}
	shape := append([]int{2}, a.Shape...)
	out := NewTensor(shape...)
	copy(out.Data[:len(a.Data)], a.Data)
	copy(out.Data[len(a.Data):], b.Data)
	return out, nil
}

// SplitLeading2 splits a tensor whose leading axis has size 2 into two halves
func SplitLeading2(t *Tensor) (*Tensor, *Tensor, error) {
	if len(t.Shape) < 1 || t.Shape[0] != 2 {
		return nil, nil, fmt.Errorf("leading axis must have size 2, got shape %v", t.Shape)
	}
	inner := t.Shape[1:]
	n := NumElements(inner)
	a := NewTensor(inner...)
	b := NewTensor(inner...)
	copy(a.Data, t.Data[:n])
	copy(b.Data, t.Data[n:])
	return a, b, nil
}

// Int64 represents a two-dimensional int64 matrix in row-major order
type Int64 struct {
	Data  []int64
	Shape []int
}

// NewInt64 creates a new zero-filled int64 matrix with given shape
func NewInt64(shape ...int) *Int64 {
	return &Int64{
		Data:  make([]int64, NumElements(shape)),
		Shape: shape,
	}
}

// At returns element at given indices
func (t *Int64) At(indices ...int) int64 {
	return t.Data[t.flatIndex(indices)]
}

// Set sets element at given indices
func (t *Int64) Set(val int64, indices ...int) {
	t.Data[t.flatIndex(indices)] = val
}

func (t *Int64) flatIndex(indices []int) int {
	if len(indices) != len(t.Shape) {
		panic(fmt.Sprintf("wrong number of indices: got %d, want %d", len(indices), len(t.Shape)))
	}
	idx := 0
	stride := 1
	for i := len(indices) - 1; i >= 0; i-- {
		idx += indices[i] * stride
		stride *= t.Shape[i]
	}
	return idx
}

// Clone returns a deep copy of the matrix
func (t *Int64) Clone() *Int64 {
	data := make([]int64, len(t.Data))
	copy(data, t.Data)
	shape := make([]int, len(t.Shape))
	copy(shape, t.Shape)
	return &Int64{Data: data, Shape: shape}
}

package gpt2

import (
	"fmt"

	"gpt2-onnx-go/tensor"
)

// OutputBuffers owns the pre-allocated flat output buffers for one
// parity or benchmark session. Each buffer is sized to the largest
// shape requested so far for its name and is reinterpreted through a
// logical shape at read time instead of being reallocated per trial.
//
// Buffers are owned by a single session and mutated in place by
// bound-buffer runs; they must not be shared between concurrent trials.
type OutputBuffers struct {
	bufs map[string][]float32
}

// NewOutputBuffers allocates a flat buffer for every named shape
func NewOutputBuffers(shapes OutputShapes) *OutputBuffers {
	b := &OutputBuffers{bufs: make(map[string][]float32, len(shapes))}
	for name, shape := range shapes {
		b.bufs[name] = make([]float32, tensor.NumElements(shape))
	}
	return b
}

// EnsureCapacity grows any buffer whose element count is smaller than
// the given shape requires. Buffers never shrink: an over-provisioned
// buffer is left untouched and reinterpreted at read time.
func (b *OutputBuffers) EnsureCapacity(shapes OutputShapes) {
	for name, shape := range shapes {
		buf, ok := b.bufs[name]
		if !ok {
			panic(fmt.Sprintf("no output buffer for %q", name))
		}
		if n := tensor.NumElements(shape); n > len(buf) {
			b.bufs[name] = make([]float32, n)
		}
	}
}

// Len returns the element capacity of a named buffer
func (b *OutputBuffers) Len(name string) int {
	return len(b.bufs[name])
}

// Slice returns the live prefix of a named buffer for binding. The
// engine writes results through it in place.
func (b *OutputBuffers) Slice(name string, n int) []float32 {
	buf, ok := b.bufs[name]
	if !ok {
		panic(fmt.Sprintf("no output buffer for %q", name))
	}
	if n > len(buf) {
		panic(fmt.Sprintf("output buffer %q too small: need %d elements, have %d", name, n, len(buf)))
	}
	return buf[:n]
}

// ReadBack copies the first prod(shape) elements of each named buffer
// into a fresh tensor with that shape, in the given name order. The
// copies are detached from the live buffers, which may be overwritten
// by the next trial.
func (b *OutputBuffers) ReadBack(names []string, shapes OutputShapes) []*tensor.Tensor {
	outs := make([]*tensor.Tensor, 0, len(names))
	for _, name := range names {
		shape, ok := shapes[name]
		if !ok {
			panic(fmt.Sprintf("no output shape for %q", name))
		}
		n := tensor.NumElements(shape)
		data := make([]float32, n)
		copy(data, b.Slice(name, n))
		outs = append(outs, tensor.FromData(data, shape...))
	}
	return outs
}

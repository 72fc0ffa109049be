package gpt2

import (
	"fmt"
	"time"

	"gpt2-onnx-go/tensor"
)

// LayerKV is one layer's cache delta as the reference engine returns
// it: separate key and value tensors of identical shape
type LayerKV struct {
	Key   *tensor.Tensor
	Value *tensor.Tensor
}

// ReferenceModel is the reference-engine contract: a forward pass over
// one input batch returning the primary output tensor and one key/value
// pair per layer. Implementations always receive fp32 inputs.
type ReferenceModel interface {
	Forward(inputs *Inputs) (*tensor.Tensor, []LayerKV, error)
}

// GraphRunner is the portable-graph-engine contract. Run executes in
// value-passing mode, allocating fresh output tensors. RunBound writes
// results through the session-owned OutputBuffers instead; the buffers
// must already be sized for the given shapes. Both return the mean
// wall-clock latency in milliseconds over totalRuns repeated calls of
// the same prepared request, or 0 when totalRuns is 0.
type GraphRunner interface {
	// OutputNames returns the graph's output names in declared order
	OutputNames() []string

	// Run executes the batch in value-passing mode
	Run(inputs *Inputs, totalRuns int) ([]*tensor.Tensor, float64, error)

	// RunBound executes the batch in bound-buffer mode
	RunBound(inputs *Inputs, buffers *OutputBuffers, shapes OutputShapes, totalRuns int) ([]*tensor.Tensor, float64, error)

	// Close cleans up resources
	Close() error
}

// StackPresents stacks each layer's key and value on a new leading
// axis of size 2 (key first), matching the graph engine's
// single-tensor-per-layer present convention. The two engines disagree
// on whether key/value are one tensor or two, so this adapter is
// mandatory before any comparison.
func StackPresents(layers []LayerKV) ([]*tensor.Tensor, error) {
	presents := make([]*tensor.Tensor, len(layers))
	for i, kv := range layers {
		stacked, err := tensor.Stack2(kv.Key, kv.Value)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		presents[i] = stacked
	}
	return presents, nil
}

// ReferenceInference runs the reference model on a batch coerced to
// full precision and returns the stacked outputs. When totalRuns > 0
// the same prepared inputs are replayed and the mean latency in
// milliseconds is returned alongside.
func ReferenceInference(model ReferenceModel, inputs *Inputs, totalRuns int) (*ReferenceOutputs, float64, error) {
	fp32 := inputs.ToFloat32()

	primary, layers, err := model.Forward(fp32)
	if err != nil {
		return nil, 0, fmt.Errorf("reference inference failed: %w", err)
	}

	presents, err := StackPresents(layers)
	if err != nil {
		return nil, 0, err
	}
	outputs := &ReferenceOutputs{Primary: primary, Presents: presents}

	if totalRuns == 0 {
		return outputs, 0, nil
	}

	var total time.Duration
	for i := 0; i < totalRuns; i++ {
		start := time.Now()
		if _, _, err := model.Forward(fp32); err != nil {
			return nil, 0, fmt.Errorf("reference inference failed: %w", err)
		}
		total += time.Since(start)
	}
	avgMs := float64(total.Microseconds()) / float64(totalRuns) / 1000.0

	return outputs, avgMs, nil
}

// GraphReferenceModel adapts a GraphRunner into a ReferenceModel by
// splitting each stacked present back into a key/value pair. It lets a
// raw fp32 export serve as the reference when certifying an optimized
// or precision-converted graph.
type GraphReferenceModel struct {
	runner GraphRunner
}

// NewGraphReferenceModel wraps a graph runner as a reference model
func NewGraphReferenceModel(runner GraphRunner) *GraphReferenceModel {
	return &GraphReferenceModel{runner: runner}
}

// Forward runs the wrapped graph in value-passing mode
func (m *GraphReferenceModel) Forward(inputs *Inputs) (*tensor.Tensor, []LayerKV, error) {
	outs, _, err := m.runner.Run(inputs, 0)
	if err != nil {
		return nil, nil, err
	}
	if len(outs) < 1 {
		return nil, nil, fmt.Errorf("reference graph returned no outputs")
	}

	layers := make([]LayerKV, len(outs)-1)
	for i, present := range outs[1:] {
		key, value, err := tensor.SplitLeading2(present)
		if err != nil {
			return nil, nil, fmt.Errorf("present_%d: %w", i, err)
		}
		layers[i] = LayerKV{Key: key, Value: value}
	}
	return outs[0], layers, nil
}

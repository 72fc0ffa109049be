// Package ort implements the portable-graph-engine contract on top of
// ONNX Runtime.
package ort

import (
	"fmt"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"gpt2-onnx-go/gpt2"
	"gpt2-onnx-go/tensor"
)

// Runner executes an exported GPT-2 graph through ONNX Runtime. It
// implements gpt2.GraphRunner in both value-passing and bound-buffer
// modes.
type Runner struct {
	modelPath   string
	inputNames  []string
	outputNames []string
	options     *ort.SessionOptions
	session     *ort.DynamicAdvancedSession

	// scratch provides a valid backing array for zero-element past
	// tensors, whose own backing pointer is nil and would be rejected
	// when binding. The data is never read.
	scratch []float32
}

// NewRunner loads an exported graph and prepares a session for it
func NewRunner(modelPath string, cfg *gpt2.Config, variant gpt2.ModelVariant) (*Runner, error) {
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}

	if err := options.SetIntraOpNumThreads(4); err != nil {
		options.Destroy()
		return nil, fmt.Errorf("failed to set threads: %w", err)
	}

	inputNames := gpt2.InputNames(variant, cfg.NumLayers)
	outputNames := gpt2.OutputNames(variant, cfg.NumLayers)

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, options)
	if err != nil {
		options.Destroy()
		return nil, fmt.Errorf("failed to create session for %s: %w", modelPath, err)
	}

	return &Runner{
		modelPath:   modelPath,
		inputNames:  inputNames,
		outputNames: outputNames,
		options:     options,
		session:     session,
		scratch:     make([]float32, 1),
	}, nil
}

// OutputNames returns the graph's output names in declared order
func (r *Runner) OutputNames() []string {
	return r.outputNames
}

// buildInputs creates the input values in declared name order
func (r *Runner) buildInputs(inputs *gpt2.Inputs) ([]ort.Value, error) {
	values := make([]ort.Value, 0, len(r.inputNames))

	destroyAll := func() {
		for _, v := range values {
			v.Destroy()
		}
	}

	ids, err := ort.NewTensor(toShape(inputs.InputIDs.Shape), inputs.InputIDs.Data)
	if err != nil {
		return nil, fmt.Errorf("input_ids: %w", err)
	}
	values = append(values, ids)

	if inputs.PositionIDs != nil {
		pos, err := ort.NewTensor(toShape(inputs.PositionIDs.Shape), inputs.PositionIDs.Data)
		if err != nil {
			destroyAll()
			return nil, fmt.Errorf("position_ids: %w", err)
		}
		values = append(values, pos)
	}

	if inputs.AttentionMask != nil {
		mask, err := ort.NewTensor(toShape(inputs.AttentionMask.Shape), inputs.AttentionMask.Data)
		if err != nil {
			destroyAll()
			return nil, fmt.Errorf("attention_mask: %w", err)
		}
		values = append(values, mask)
	}

	for i, past := range inputs.Past {
		data := past.Data
		if len(data) == 0 {
			// Empty cache: substitute a non-nil base pointer. The
			// tensor has zero elements and is never dereferenced.
			data = r.scratch[:0]
		}
		p, err := ort.NewTensor(toShape(past.Shape), data)
		if err != nil {
			destroyAll()
			return nil, fmt.Errorf("past_%d: %w", i, err)
		}
		values = append(values, p)
	}

	if len(values) != len(r.inputNames) {
		destroyAll()
		return nil, fmt.Errorf("built %d input tensors, session expects %d", len(values), len(r.inputNames))
	}

	return values, nil
}

// Run executes the batch in value-passing mode: the engine allocates
// the output tensors and the results are copied out of them.
func (r *Runner) Run(inputs *gpt2.Inputs, totalRuns int) ([]*tensor.Tensor, float64, error) {
	inputValues, err := r.buildInputs(inputs)
	if err != nil {
		return nil, 0, err
	}
	defer destroyValues(inputValues)

	outputValues := make([]ort.Value, len(r.outputNames))
	if err := r.session.Run(inputValues, outputValues); err != nil {
		return nil, 0, fmt.Errorf("inference failed: %w", err)
	}
	defer destroyValues(outputValues)

	outputs := make([]*tensor.Tensor, len(outputValues))
	for i, v := range outputValues {
		t, ok := v.(*ort.Tensor[float32])
		if !ok {
			return nil, 0, fmt.Errorf("output %s is not a float32 tensor", r.outputNames[i])
		}
		outputs[i] = copyOut(t)
	}

	avgMs, err := r.replay(inputValues, outputValues, totalRuns)
	if err != nil {
		return nil, 0, err
	}

	return outputs, avgMs, nil
}

// RunBound executes the batch in bound-buffer mode: results are written
// directly into the session-owned buffers, then read back copy-detached.
// The buffers must already have capacity for the given shapes.
func (r *Runner) RunBound(inputs *gpt2.Inputs, buffers *gpt2.OutputBuffers,
	shapes gpt2.OutputShapes, totalRuns int) ([]*tensor.Tensor, float64, error) {
	inputValues, err := r.buildInputs(inputs)
	if err != nil {
		return nil, 0, err
	}
	defer destroyValues(inputValues)

	outputValues := make([]ort.Value, 0, len(r.outputNames))
	defer func() { destroyValues(outputValues) }()
	for _, name := range r.outputNames {
		shape, ok := shapes[name]
		if !ok {
			return nil, 0, fmt.Errorf("no output shape for %q", name)
		}
		bound, err := ort.NewTensor(toShape(shape), buffers.Slice(name, tensor.NumElements(shape)))
		if err != nil {
			return nil, 0, fmt.Errorf("bind output %s: %w", name, err)
		}
		outputValues = append(outputValues, bound)
	}

	if err := r.session.Run(inputValues, outputValues); err != nil {
		return nil, 0, fmt.Errorf("inference with bound buffers failed: %w", err)
	}

	outputs := buffers.ReadBack(r.outputNames, shapes)

	avgMs, err := r.replay(inputValues, outputValues, totalRuns)
	if err != nil {
		return nil, 0, err
	}

	return outputs, avgMs, nil
}

// replay re-runs the same prepared request and returns the mean
// latency in milliseconds, isolating inference cost from input
// preparation.
func (r *Runner) replay(inputValues, outputValues []ort.Value, totalRuns int) (float64, error) {
	if totalRuns == 0 {
		return 0, nil
	}

	var total time.Duration
	for i := 0; i < totalRuns; i++ {
		start := time.Now()
		if err := r.session.Run(inputValues, outputValues); err != nil {
			return 0, fmt.Errorf("inference failed: %w", err)
		}
		total += time.Since(start)
	}
	return float64(total.Microseconds()) / float64(totalRuns) / 1000.0, nil
}

// Close cleans up the session and its options
func (r *Runner) Close() error {
	if r.session != nil {
		r.session.Destroy()
		r.session = nil
	}
	if r.options != nil {
		r.options.Destroy()
		r.options = nil
	}
	return nil
}

func toShape(dims []int) ort.Shape {
	out := make([]int64, len(dims))
	for i, d := range dims {
		out[i] = int64(d)
	}
	return ort.NewShape(out...)
}

func copyOut(t *ort.Tensor[float32]) *tensor.Tensor {
	shape := t.GetShape()
	dims := make([]int, len(shape))
	for i, d := range shape {
		dims[i] = int(d)
	}
	data := make([]float32, len(t.GetData()))
	copy(data, t.GetData())
	return tensor.FromData(data, dims...)
}

func destroyValues(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			v.Destroy()
		}
	}
}

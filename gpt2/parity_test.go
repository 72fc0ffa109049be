package gpt2

import (
	"math/rand"
	"testing"

	"gpt2-onnx-go/tensor"
)

// stubModel is a deterministic stand-in for the reference engine: its
// outputs are a pure function of the inputs, with the correct GPT-2
// output shapes.
type stubModel struct {
	cfg     *Config
	variant ModelVariant
}

func (m *stubModel) Forward(inputs *Inputs) (*tensor.Tensor, []LayerKV, error) {
	batchSize := inputs.BatchSize()
	seqLen := inputs.SeqLen()
	pastLen := inputs.PastLen()

	lastDim := m.cfg.VocabSize
	if m.variant.PrimaryOutput() == "last_state" {
		lastDim = m.cfg.HiddenSize
	}

	var maskSum float32
	if inputs.AttentionMask != nil {
		for _, v := range inputs.AttentionMask.Data {
			maskSum += v
		}
	}

	primary := tensor.NewTensor(batchSize, seqLen, lastDim)
	for b := 0; b < batchSize; b++ {
		for s := 0; s < seqLen; s++ {
			id := float32(inputs.InputIDs.At(b, s))
			for v := 0; v < lastDim; v++ {
				primary.Set(0.001*id+0.0001*float32(v)+0.01*maskSum, b, s, v)
			}
		}
	}

	layers := make([]LayerKV, m.cfg.NumLayers)
	for l := range layers {
		key := tensor.NewTensor(batchSize, m.cfg.NumHeads, pastLen+seqLen, m.cfg.HeadDim())
		value := tensor.NewTensor(batchSize, m.cfg.NumHeads, pastLen+seqLen, m.cfg.HeadDim())
		for b := 0; b < batchSize; b++ {
			for h := 0; h < m.cfg.NumHeads; h++ {
				for p := 0; p < pastLen+seqLen; p++ {
					for d := 0; d < m.cfg.HeadDim(); d++ {
						if p < pastLen {
							// Cached positions pass through the past state.
							key.Set(inputs.Past[l].At(0, b, h, p, d), b, h, p, d)
							value.Set(inputs.Past[l].At(1, b, h, p, d), b, h, p, d)
						} else {
							id := float32(inputs.InputIDs.At(b, p-pastLen))
							base := 0.5*float32(l) + float32(b) + 0.25*float32(h) + 0.125*float32(d)
							key.Set(base+0.001*id, b, h, p, d)
							value.Set(base+0.001*id+10, b, h, p, d)
						}
					}
				}
			}
		}
		layers[l] = LayerKV{Key: key, Value: value}
	}

	return primary, layers, nil
}

// stubRunner is a graph engine that reproduces the stub model exactly,
// so parity against it must always pass.
type stubRunner struct {
	model   *stubModel
	cfg     *Config
	variant ModelVariant
}

func newStubRunner(cfg *Config, variant ModelVariant) *stubRunner {
	return &stubRunner{
		model:   &stubModel{cfg: cfg, variant: variant},
		cfg:     cfg,
		variant: variant,
	}
}

func (r *stubRunner) OutputNames() []string {
	return OutputNames(r.variant, r.cfg.NumLayers)
}

func (r *stubRunner) Run(inputs *Inputs, totalRuns int) ([]*tensor.Tensor, float64, error) {
	ref, _, err := ReferenceInference(r.model, inputs, 0)
	if err != nil {
		return nil, 0, err
	}
	return append([]*tensor.Tensor{ref.Primary}, ref.Presents...), 0, nil
}

func (r *stubRunner) RunBound(inputs *Inputs, buffers *OutputBuffers, shapes OutputShapes, totalRuns int) ([]*tensor.Tensor, float64, error) {
	outs, _, err := r.Run(inputs, 0)
	if err != nil {
		return nil, 0, err
	}

	// Write through the session-owned buffers, then read back, the way
	// a bound-buffer engine run would.
	names := r.OutputNames()
	for i, name := range names {
		n := tensor.NumElements(shapes[name])
		copy(buffers.Slice(name, n), outs[i].Data)
	}
	return buffers.ReadBack(names, shapes), 0, nil
}

func (r *stubRunner) Close() error { return nil }

// perturbedRunner wraps a stub runner and corrupts the first primary
// element by a fixed delta.
type perturbedRunner struct {
	*stubRunner
	delta float32
}

func (r *perturbedRunner) Run(inputs *Inputs, totalRuns int) ([]*tensor.Tensor, float64, error) {
	outs, ms, err := r.stubRunner.Run(inputs, totalRuns)
	if err != nil {
		return nil, 0, err
	}
	outs[0].Data[0] += r.delta
	return outs, ms, nil
}

func (r *perturbedRunner) RunBound(inputs *Inputs, buffers *OutputBuffers, shapes OutputShapes, totalRuns int) ([]*tensor.Tensor, float64, error) {
	outs, ms, err := r.stubRunner.RunBound(inputs, buffers, shapes, totalRuns)
	if err != nil {
		return nil, 0, err
	}
	outs[0].Data[0] += r.delta
	return outs, ms, nil
}

func TestParityValueMode(t *testing.T) {
	cfg := testConfig()
	runner := newStubRunner(cfg, LMHead)
	pcfg := NewParityConfig(WithTrials(25), WithSeed(11))

	result, err := TestParity(runner.model, runner, cfg, LMHead, pcfg)
	if err != nil {
		t.Fatalf("parity test failed: %v", err)
	}
	if !result.AllPassed() {
		t.Errorf("expected all trials to pass, got %d/%d", result.Passed, result.Trials)
	}
}

func TestParityBoundBufferMode(t *testing.T) {
	cfg := testConfig()
	runner := newStubRunner(cfg, LMHead)
	pcfg := NewParityConfig(WithTrials(25), WithSeed(11), WithBoundBuffers(true))

	result, err := TestParity(runner.model, runner, cfg, LMHead, pcfg)
	if err != nil {
		t.Fatalf("parity test failed: %v", err)
	}
	if !result.AllPassed() {
		t.Errorf("expected all trials to pass, got %d/%d", result.Passed, result.Trials)
	}
}

func TestParityModesAgreeOnSeed(t *testing.T) {
	cfg := testConfig()

	for _, delta := range []float32{0, 1.0} {
		runner := &perturbedRunner{stubRunner: newStubRunner(cfg, LMHead), delta: delta}

		valueResult, err := TestParity(runner.model, runner, cfg, LMHead,
			NewParityConfig(WithTrials(10), WithSeed(3)))
		if err != nil {
			t.Fatalf("value mode failed: %v", err)
		}

		boundResult, err := TestParity(runner.model, runner, cfg, LMHead,
			NewParityConfig(WithTrials(10), WithSeed(3), WithBoundBuffers(true)))
		if err != nil {
			t.Fatalf("bound mode failed: %v", err)
		}

		if valueResult.Passed != boundResult.Passed {
			t.Errorf("delta %f: modes disagree: value %d, bound %d",
				delta, valueResult.Passed, boundResult.Passed)
		}
	}
}

func TestParityStrictVerdict(t *testing.T) {
	cfg := testConfig()
	runner := &perturbedRunner{stubRunner: newStubRunner(cfg, LMHead), delta: 1.0}

	result, err := TestParity(runner.model, runner, cfg, LMHead,
		NewParityConfig(WithTrials(10), WithSeed(5)))
	if err != nil {
		t.Fatalf("parity test failed: %v", err)
	}

	if result.Passed != 0 {
		t.Errorf("expected every trial to fail, got %d passed", result.Passed)
	}
	if result.AllPassed() {
		t.Errorf("verdict must be strict equality to the trial count")
	}
}

func TestParityNoPaddingVariant(t *testing.T) {
	cfg := testConfig()
	runner := newStubRunner(cfg, LMHeadNoPadding)

	result, err := TestParity(runner.model, runner, cfg, LMHeadNoPadding,
		NewParityConfig(WithTrials(10), WithSeed(9)))
	if err != nil {
		t.Fatalf("parity test failed: %v", err)
	}
	if !result.AllPassed() {
		t.Errorf("expected all trials to pass, got %d/%d", result.Passed, result.Trials)
	}
}

func TestEndToEndScenario(t *testing.T) {
	cfg := NewConfig(2, 2, 4, 50)
	rng := rand.New(rand.NewSource(42))

	inputs := SynthesizeInputs(rng, cfg, 2, 0, 2, Float32, true, true)

	model := &stubModel{cfg: cfg, variant: LMHead}
	ref, _, err := ReferenceInference(model, inputs, 0)
	if err != nil {
		t.Fatalf("reference inference failed: %v", err)
	}

	if !tensor.SameShape(ref.Primary.Shape, []int{2, 2, 50}) {
		t.Errorf("logits shape %v, want [2 2 50]", ref.Primary.Shape)
	}
	if len(ref.Presents) != 2 {
		t.Fatalf("expected 2 present tensors, got %d", len(ref.Presents))
	}
	for i, p := range ref.Presents {
		if !tensor.SameShape(p.Shape, []int{2, 2, 2, 2, 2}) {
			t.Errorf("present_%d shape %v, want [2 2 2 2 2]", i, p.Shape)
		}
	}

	runner := newStubRunner(cfg, LMHead)
	got, _, err := runner.Run(inputs, 0)
	if err != nil {
		t.Fatalf("graph run failed: %v", err)
	}

	if !CompareOutputs(ref, got, 0, 0) {
		t.Errorf("identical engines must compare equal under zero tolerance")
	}
}

func TestEmptyCacheBoundary(t *testing.T) {
	cfg := testConfig()
	rng := rand.New(rand.NewSource(13))

	inputs := SynthesizeInputs(rng, cfg, 2, 0, 2, Float32, true, true)
	if inputs.PastLen() != 0 {
		t.Fatalf("expected empty cache, got %d", inputs.PastLen())
	}

	runner := newStubRunner(cfg, LMHead)
	shapes := OutputShapesFor(cfg, LMHead, 2, 0, 2)
	buffers := NewOutputBuffers(shapes)

	got, _, err := runner.RunBound(inputs, buffers, shapes, 0)
	if err != nil {
		t.Fatalf("bound-buffer run with empty cache failed: %v", err)
	}

	// present cache axis equals seq_len only when nothing was cached
	for i, p := range got[1:] {
		if p.Shape[3] != 2 {
			t.Errorf("present_%d cache axis %d, want seq_len 2", i, p.Shape[3])
		}
	}
}

func TestGraphReferenceModelRoundTrip(t *testing.T) {
	cfg := testConfig()
	rng := rand.New(rand.NewSource(21))

	inputs := SynthesizeInputs(rng, cfg, 2, 1, 1, Float32, true, true)

	runner := newStubRunner(cfg, LMHead)
	wrapped := NewGraphReferenceModel(runner)

	// Splitting presents and re-stacking them must reproduce the
	// runner's outputs exactly.
	ref, _, err := ReferenceInference(wrapped, inputs, 0)
	if err != nil {
		t.Fatalf("wrapped inference failed: %v", err)
	}

	direct, _, err := runner.Run(inputs, 0)
	if err != nil {
		t.Fatalf("direct run failed: %v", err)
	}

	if !CompareOutputs(ref, direct, 0, 0) {
		t.Errorf("graph-backed reference must match the graph outputs exactly")
	}
}

func TestReferenceInferenceLatency(t *testing.T) {
	cfg := testConfig()
	rng := rand.New(rand.NewSource(17))
	inputs := SynthesizeInputs(rng, cfg, 1, 0, 1, Float32, true, true)

	model := &stubModel{cfg: cfg, variant: LMHead}
	_, avgMs, err := ReferenceInference(model, inputs, 3)
	if err != nil {
		t.Fatalf("reference inference failed: %v", err)
	}
	if avgMs < 0 {
		t.Errorf("latency must be non-negative, got %f", avgMs)
	}
}

package gpt2

import (
	"fmt"
	"math/rand"

	"github.com/rs/zerolog/log"
)

// DefaultOpsetVersion is the ONNX opset the graph is traced against
const DefaultOpsetVersion = 11

// ExportRequest is everything the external trace/serialize step needs
// for one export call
type ExportRequest struct {
	Inputs                *Inputs
	Path                  string
	InputNames            []string
	OutputNames           []string
	DynamicAxes           map[string]map[int]string
	OpsetVersion          int
	DoConstantFolding     bool
	UseExternalDataFormat bool
}

// GraphExporter is the external trace/serialize step: it traces the
// model's computation over the example inputs and writes the portable
// graph file to ExportRequest.Path.
type GraphExporter interface {
	Export(model ReferenceModel, req *ExportRequest) error
}

// DynamicAxes builds the resizable-dimension declaration for every
// graph tensor. Batch and sequence axes vary at run time; the
// cache-length axis is index 3 on both past and present tensors but
// carries a different symbol on each side.
func DynamicAxes(cfg *Config, variant ModelVariant, primaryName string) map[string]map[int]string {
	axes := map[string]map[int]string{
		"input_ids": {0: "batch_size", 1: "seq_len"},
		primaryName: {0: "batch_size", 1: "seq_len"},
	}
	if variant.UsesPadding() {
		axes["position_ids"] = map[int]string{0: "batch_size", 1: "seq_len"}
		axes["attention_mask"] = map[int]string{0: "batch_size", 1: "total_seq_len"}
	}
	for i := 0; i < cfg.NumLayers; i++ {
		axes[pastName(i)] = map[int]string{1: "batch_size", 3: "past_seq_len"}
		axes[presentName(i)] = map[int]string{1: "batch_size", 3: "total_seq_len"}
	}
	return axes
}

// ExportGraph runs one fixed-shape forward pass to discover the real
// output arity and shapes, derives the dynamic-axis declaration, and
// invokes the trace/serialize step exactly once.
//
// Batch and sequence axes are marked resizable on every tensor. The
// cache-length axis sits at index 3 for both past and present tensors
// but carries a different symbol: past_seq_len for inputs,
// total_seq_len for outputs.
func ExportGraph(rng *rand.Rand, model ReferenceModel, cfg *Config, variant ModelVariant,
	path string, exporter GraphExporter, opset int, useExternalDataFormat bool) error {
	usePadding := variant.UsesPadding()

	inputs := SynthesizeInputs(rng, cfg, 1, 1, 1, Float32, usePadding, usePadding)

	primary, layers, err := model.Forward(inputs.ToFloat32())
	if err != nil {
		return fmt.Errorf("export forward pass failed: %w", err)
	}

	if len(layers) != cfg.NumLayers {
		return fmt.Errorf("model produced %d outputs, want %d (1 primary + %d present)",
			1+len(layers), 1+cfg.NumLayers, cfg.NumLayers)
	}

	if len(primary.Shape) != 3 {
		return fmt.Errorf("primary output must have rank 3, got shape %v", primary.Shape)
	}

	// The last axis disambiguates the model variant: vocab-sized
	// means token logits, hidden-sized means the final hidden state.
	var primaryName string
	switch primary.Shape[2] {
	case cfg.VocabSize:
		primaryName = "logits"
	case cfg.HiddenSize:
		primaryName = "last_state"
	default:
		return fmt.Errorf("primary output last axis %d matches neither vocab_size %d nor hidden_size %d",
			primary.Shape[2], cfg.VocabSize, cfg.HiddenSize)
	}

	inputNames := InputNames(variant, cfg.NumLayers)
	outputNames := append([]string{primaryName}, OutputNames(variant, cfg.NumLayers)[1:]...)
	dynamicAxes := DynamicAxes(cfg, variant, primaryName)

	event := log.Info().
		Ints("input_ids", inputs.InputIDs.Shape).
		Ints("output", primary.Shape).
		Str("path", path)
	if cfg.NumLayers > 0 {
		event = event.
			Ints("past", inputs.Past[0].Shape).
			Ints("present", append([]int{2}, layers[0].Key.Shape...))
	}
	event.Msg("exporting graph")

	req := &ExportRequest{
		Inputs:                inputs,
		Path:                  path,
		InputNames:            inputNames,
		OutputNames:           outputNames,
		DynamicAxes:           dynamicAxes,
		OpsetVersion:          opset,
		DoConstantFolding:     true,
		UseExternalDataFormat: useExternalDataFormat,
	}

	return exporter.Export(model, req)
}

package gpt2

import "fmt"

func pastName(i int) string    { return fmt.Sprintf("past_%d", i) }
func presentName(i int) string { return fmt.Sprintf("present_%d", i) }

// OutputShapes maps an output name to its expected shape for one trial
type OutputShapes map[string][]int

// OutputShapesFor returns the expected shape of every graph output for
// the given trial dimensions. The primary output is
// (batch, seq_len, vocab) for logits or (batch, seq_len, hidden) for
// last_state; each present_i is (2, batch, heads, past+seq, head_dim).
func OutputShapesFor(cfg *Config, variant ModelVariant, batchSize, pastLen, seqLen int) OutputShapes {
	lastDim := cfg.VocabSize
	if variant.PrimaryOutput() == "last_state" {
		lastDim = cfg.HiddenSize
	}

	presentShape := []int{2, batchSize, cfg.NumHeads, pastLen + seqLen, cfg.HeadDim()}

	shapes := OutputShapes{
		variant.PrimaryOutput(): {batchSize, seqLen, lastDim},
	}
	for i := 0; i < cfg.NumLayers; i++ {
		shapes[presentName(i)] = presentShape
	}
	return shapes
}

// OutputNames returns the graph output names in declared order:
// the primary output followed by present_0..present_{L-1}
func OutputNames(variant ModelVariant, numLayers int) []string {
	names := make([]string, 0, 1+numLayers)
	names = append(names, variant.PrimaryOutput())
	for i := 0; i < numLayers; i++ {
		names = append(names, presentName(i))
	}
	return names
}

// InputNames returns the graph input names in declared order:
// input_ids, padding inputs when the variant uses them, then past_0..
func InputNames(variant ModelVariant, numLayers int) []string {
	names := []string{"input_ids"}
	if variant.UsesPadding() {
		names = append(names, "position_ids", "attention_mask")
	}
	for i := 0; i < numLayers; i++ {
		names = append(names, pastName(i))
	}
	return names
}

package gpt2

import "fmt"

// Config holds the GPT-2 model hyperparameters the harness needs
type Config struct {
	NumLayers  int
	NumHeads   int
	HiddenSize int
	VocabSize  int
}

// NewConfig creates a validated model config
func NewConfig(numLayers, numHeads, hiddenSize, vocabSize int) *Config {
	c := &Config{
		NumLayers:  numLayers,
		NumHeads:   numHeads,
		HiddenSize: hiddenSize,
		VocabSize:  vocabSize,
	}

	if err := c.validate(); err != nil {
		panic(err)
	}

	return c
}

// validate checks if the configuration is valid
func (c *Config) validate() error {
	if c.NumLayers < 0 {
		return fmt.Errorf("num_layers must be >= 0, got %d", c.NumLayers)
	}

	if c.NumHeads < 1 {
		return fmt.Errorf("num_heads must be >= 1, got %d", c.NumHeads)
	}

	if c.HiddenSize%c.NumHeads != 0 {
		return fmt.Errorf("hidden_size %d must be divisible by num_heads %d", c.HiddenSize, c.NumHeads)
	}

	if c.VocabSize < 2 {
		return fmt.Errorf("vocab_size must be >= 2, got %d", c.VocabSize)
	}

	return nil
}

// HeadDim returns the per-head hidden dimension
func (c *Config) HeadDim() int {
	return c.HiddenSize / c.NumHeads
}

// ModelVariant identifies which GPT-2 wrapper the graph was exported from.
// The variant determines the primary output name and whether padding
// inputs (position_ids, attention_mask) are part of the graph signature.
type ModelVariant int

const (
	// LMHead is the language-model head variant; primary output is logits
	LMHead ModelVariant = iota
	// LMHeadNoPadding is the batch_size=1 variant without padding inputs
	LMHeadNoPadding
	// Base is the bare transformer; primary output is the last hidden state
	Base
)

// String returns the variant name
func (v ModelVariant) String() string {
	switch v {
	case LMHead:
		return "GPT2LMHeadModel"
	case LMHeadNoPadding:
		return "GPT2LMHeadModel_NoPadding"
	case Base:
		return "GPT2Model"
	default:
		return fmt.Sprintf("ModelVariant(%d)", int(v))
	}
}

// PrimaryOutput returns the name of the variant's first output tensor
func (v ModelVariant) PrimaryOutput() string {
	if v == Base {
		return "last_state"
	}
	return "logits"
}

// UsesPadding reports whether the variant takes position_ids and attention_mask
func (v ModelVariant) UsesPadding() bool {
	return v != LMHeadNoPadding
}

// ParseModelVariant parses a variant name
func ParseModelVariant(s string) (ModelVariant, error) {
	switch s {
	case "GPT2LMHeadModel":
		return LMHead, nil
	case "GPT2LMHeadModel_NoPadding":
		return LMHeadNoPadding, nil
	case "GPT2Model":
		return Base, nil
	default:
		return 0, fmt.Errorf("unknown model variant %q", s)
	}
}

// Precision is the numeric precision a graph was exported or optimized to
type Precision int

const (
	Float32 Precision = iota
	Float16
	Int8
)

// String returns the precision name
func (p Precision) String() string {
	switch p {
	case Float32:
		return "fp32"
	case Float16:
		return "fp16"
	case Int8:
		return "int8"
	default:
		return fmt.Sprintf("Precision(%d)", int(p))
	}
}

// ParsePrecision parses a precision name
func ParsePrecision(s string) (Precision, error) {
	switch s {
	case "fp32":
		return Float32, nil
	case "fp16":
		return Float16, nil
	case "int8":
		return Int8, nil
	default:
		return 0, fmt.Errorf("unknown precision %q", s)
	}
}

// Tolerance defines acceptable numeric drift between the reference
// engine and the exported graph
type Tolerance struct {
	Rtol float64
	Atol float64
}

// DefaultTolerance returns the default comparison thresholds for a precision
func DefaultTolerance(p Precision) Tolerance {
	switch p {
	case Float16:
		return Tolerance{Rtol: 0.2, Atol: 0.2}
	case Int8:
		return Tolerance{Rtol: 3.0, Atol: 3.0}
	default:
		return Tolerance{Rtol: 0.0005, Atol: 0.0005}
	}
}

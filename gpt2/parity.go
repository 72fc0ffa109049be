package gpt2

import (
	"fmt"
	"math/rand"

	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"

	"gpt2-onnx-go/tensor"
)

// ParityConfig controls one parity-test session
type ParityConfig struct {
	Trials          int
	Tolerance       Tolerance
	Precision       Precision
	UseBoundBuffers bool
	Seed            int64
	Progress        bool

	// Per-trial dimension bounds. Past lengths stay small so the
	// empty-cache case (past_len=0) is hit within a bounded number
	// of trials.
	MaxBatchSize int
	MaxPastLen   int
	MaxSeqLen    int
}

// ParityOption is a functional option for ParityConfig
type ParityOption func(*ParityConfig)

// NewParityConfig creates a parity config with default values
func NewParityConfig(opts ...ParityOption) *ParityConfig {
	c := &ParityConfig{
		Trials:       100,
		Precision:    Float32,
		Seed:         1,
		MaxBatchSize: 8,
		MaxPastLen:   4,
		MaxSeqLen:    2,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.Tolerance == (Tolerance{}) {
		c.Tolerance = DefaultTolerance(c.Precision)
	}

	if err := c.validate(); err != nil {
		panic(err)
	}

	return c
}

func (c *ParityConfig) validate() error {
	if c.Trials < 1 {
		return fmt.Errorf("trials must be >= 1, got %d", c.Trials)
	}
	if c.MaxBatchSize < 1 || c.MaxPastLen < 0 || c.MaxSeqLen < 1 {
		return fmt.Errorf("invalid dimension bounds: batch=%d past=%d seq=%d",
			c.MaxBatchSize, c.MaxPastLen, c.MaxSeqLen)
	}
	return nil
}

// WithTrials sets the number of randomized trials
func WithTrials(n int) ParityOption {
	return func(c *ParityConfig) { c.Trials = n }
}

// WithTolerance sets explicit comparison thresholds
func WithTolerance(t Tolerance) ParityOption {
	return func(c *ParityConfig) { c.Tolerance = t }
}

// WithPrecision sets the target precision; the tolerance defaults to
// the precision's thresholds unless set explicitly
func WithPrecision(p Precision) ParityOption {
	return func(c *ParityConfig) { c.Precision = p }
}

// WithBoundBuffers selects bound-buffer execution for the whole session
func WithBoundBuffers(b bool) ParityOption {
	return func(c *ParityConfig) { c.UseBoundBuffers = b }
}

// WithSeed sets the random seed for reproducible trials
func WithSeed(seed int64) ParityOption {
	return func(c *ParityConfig) { c.Seed = seed }
}

// WithProgress enables a progress bar over the trials
func WithProgress(b bool) ParityOption {
	return func(c *ParityConfig) { c.Progress = b }
}

// ParityResult aggregates one parity-test session
type ParityResult struct {
	Trials int
	Passed int
}

// AllPassed is the session verdict: every trial must pass
func (r *ParityResult) AllPassed() bool {
	return r.Passed == r.Trials
}

// PassRate returns the fraction of trials that passed
func (r *ParityResult) PassRate() float64 {
	if r.Trials == 0 {
		return 0
	}
	return float64(r.Passed) / float64(r.Trials)
}

// TestParity runs N independent randomized trials, each synthesizing a
// fresh input batch, running it through the reference model and the
// graph runner, and comparing the outputs under the configured
// tolerance. The execution mode (value-passing or bound-buffer) is
// chosen once for the whole session. Trials run strictly sequentially:
// the shared output buffers are mutated in place and are not safe for
// concurrent use.
func TestParity(model ReferenceModel, runner GraphRunner, cfg *Config, variant ModelVariant, pcfg *ParityConfig) (*ParityResult, error) {
	rng := rand.New(rand.NewSource(pcfg.Seed))
	usePadding := variant.UsesPadding()

	log.Info().
		Float64("rtol", pcfg.Tolerance.Rtol).
		Float64("atol", pcfg.Tolerance.Atol).
		Int("trials", pcfg.Trials).
		Bool("bound_buffers", pcfg.UseBoundBuffers).
		Str("variant", variant.String()).
		Str("precision", pcfg.Precision.String()).
		Msg("running parity test")

	var buffers *OutputBuffers
	if pcfg.UseBoundBuffers {
		maxShapes := OutputShapesFor(cfg, variant, pcfg.MaxBatchSize, pcfg.MaxPastLen, pcfg.MaxSeqLen)
		buffers = NewOutputBuffers(maxShapes)
	}

	var bar *progressbar.ProgressBar
	if pcfg.Progress {
		bar = progressbar.NewOptions(pcfg.Trials,
			progressbar.OptionSetDescription("Parity trials"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
		)
	}

	result := &ParityResult{Trials: pcfg.Trials}
	for trial := 0; trial < pcfg.Trials; trial++ {
		seqLen := 1 + rng.Intn(pcfg.MaxSeqLen)
		pastLen := rng.Intn(pcfg.MaxPastLen + 1)
		batchSize := 1 + rng.Intn(pcfg.MaxBatchSize)

		inputs := SynthesizeInputs(rng, cfg, batchSize, pastLen, seqLen,
			pcfg.Precision, usePadding, usePadding)

		log.Debug().
			Int("trial", trial).
			Int("batch_size", batchSize).
			Int("past_len", pastLen).
			Int("seq_len", seqLen).
			Uint64("fingerprint", inputs.Fingerprint()).
			Msg("parity trial")

		refOutputs, _, err := ReferenceInference(model, inputs, 0)
		if err != nil {
			return nil, err
		}

		var graphOutputs []*tensor.Tensor
		if pcfg.UseBoundBuffers {
			shapes := OutputShapesFor(cfg, variant, batchSize, pastLen, seqLen)
			buffers.EnsureCapacity(shapes)
			graphOutputs, _, err = runner.RunBound(inputs, buffers, shapes, 0)
		} else {
			graphOutputs, _, err = runner.Run(inputs, 0)
		}
		if err != nil {
			return nil, err
		}

		if CompareOutputs(refOutputs, graphOutputs, pcfg.Tolerance.Rtol, pcfg.Tolerance.Atol) {
			result.Passed++
		} else {
			log.Warn().
				Int("trial", trial).
				Uint64("fingerprint", inputs.Fingerprint()).
				Float64("max_abs_diff", DiffOutputs(refOutputs, graphOutputs, false)).
				Msg("parity trial failed")
		}

		if bar != nil {
			bar.Add(1)
		}
	}

	if bar != nil {
		bar.Finish()
	}

	log.Info().
		Int("trials", result.Trials).
		Int("passed", result.Passed).
		Msg("parity test finished")

	// Informational only: the verdict stays strict equality.
	if float64(result.Passed) > 0.95*float64(result.Trials) {
		log.Info().
			Int("pass_rate_pct", int(result.PassRate()*100)).
			Msg("parity is good")
	}

	return result, nil
}

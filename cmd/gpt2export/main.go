package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"

	"github.com/daulet/tokenizers"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gpt2-onnx-go/gpt2"
	"gpt2-onnx-go/internal/logger"
	ortrunner "gpt2-onnx-go/ort"
)

type modelFlags struct {
	layers  int
	heads   int
	hidden  int
	vocab   int
	variant string
}

func (f *modelFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.layers, "layers", 12, "number of transformer layers")
	cmd.Flags().IntVar(&f.heads, "heads", 12, "number of attention heads")
	cmd.Flags().IntVar(&f.hidden, "hidden", 768, "hidden size")
	cmd.Flags().IntVar(&f.vocab, "vocab", 50257, "vocabulary size")
	cmd.Flags().StringVar(&f.variant, "variant", "GPT2LMHeadModel", "model variant (GPT2LMHeadModel, GPT2LMHeadModel_NoPadding, GPT2Model)")
}

func (f *modelFlags) build() (*gpt2.Config, gpt2.ModelVariant, error) {
	variant, err := gpt2.ParseModelVariant(f.variant)
	if err != nil {
		return nil, 0, err
	}
	return gpt2.NewConfig(f.layers, f.heads, f.hidden, f.vocab), variant, nil
}

func main() {
	var logLevel, logFormat string

	root := &cobra.Command{
		Use:          "gpt2export",
		Short:        "Export-plan, parity and smoke tooling for GPT-2 ONNX graphs",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Setup(logLevel, logFormat)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")

	root.AddCommand(parityCommand())
	root.AddCommand(smokeCommand())
	root.AddCommand(planCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func parityCommand() *cobra.Command {
	var flags modelFlags
	var modelPath, referencePath, precisionName string
	var trials, latencyRuns int
	var rtol, atol float64
	var ioBinding, progress bool
	var seed int64

	cmd := &cobra.Command{
		Use:   "parity",
		Short: "Certify an exported graph against a reference graph over randomized trials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, variant, err := flags.build()
			if err != nil {
				return err
			}

			precision, err := gpt2.ParsePrecision(precisionName)
			if err != nil {
				return err
			}

			opts := []gpt2.ParityOption{
				gpt2.WithTrials(trials),
				gpt2.WithPrecision(precision),
				gpt2.WithBoundBuffers(ioBinding),
				gpt2.WithSeed(seed),
				gpt2.WithProgress(progress),
			}
			if rtol > 0 || atol > 0 {
				opts = append(opts, gpt2.WithTolerance(gpt2.Tolerance{Rtol: rtol, Atol: atol}))
			}
			pcfg := gpt2.NewParityConfig(opts...)

			candidate, err := ortrunner.NewRunner(modelPath, cfg, variant)
			if err != nil {
				return err
			}
			defer candidate.Close()

			refRunner, err := ortrunner.NewRunner(referencePath, cfg, variant)
			if err != nil {
				return err
			}
			defer refRunner.Close()
			reference := gpt2.NewGraphReferenceModel(refRunner)

			result, err := gpt2.TestParity(reference, candidate, cfg, variant, pcfg)
			if err != nil {
				return err
			}

			if latencyRuns > 0 {
				if err := reportLatency(reference, candidate, cfg, variant, pcfg, latencyRuns); err != nil {
					return err
				}
			}

			if !result.AllPassed() {
				return fmt.Errorf("parity failed: %d/%d trials passed", result.Passed, result.Trials)
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&modelPath, "model", "", "candidate ONNX graph to certify")
	cmd.Flags().StringVar(&referencePath, "reference", "", "reference fp32 ONNX graph")
	cmd.Flags().StringVar(&precisionName, "precision", "fp32", "candidate precision (fp32, fp16, int8)")
	cmd.Flags().IntVar(&trials, "trials", 100, "number of randomized trials")
	cmd.Flags().Float64Var(&rtol, "rtol", 0, "relative tolerance (0 = precision default)")
	cmd.Flags().Float64Var(&atol, "atol", 0, "absolute tolerance (0 = precision default)")
	cmd.Flags().BoolVar(&ioBinding, "io-binding", false, "run the candidate in bound-buffer mode")
	cmd.Flags().BoolVar(&progress, "progress", false, "show a progress bar")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed for reproducible trials")
	cmd.Flags().IntVar(&latencyRuns, "latency-runs", 0, "measure mean latency over N repeated runs after parity")
	cmd.MarkFlagRequired("model")
	cmd.MarkFlagRequired("reference")

	return cmd
}

// reportLatency replays one synthesized batch through both engines and
// logs the mean per-call latency.
func reportLatency(reference gpt2.ReferenceModel, candidate gpt2.GraphRunner,
	cfg *gpt2.Config, variant gpt2.ModelVariant, pcfg *gpt2.ParityConfig, runs int) error {
	rng := rand.New(rand.NewSource(pcfg.Seed))
	usePadding := variant.UsesPadding()
	inputs := gpt2.SynthesizeInputs(rng, cfg, 1, 0, 1, pcfg.Precision, usePadding, usePadding)

	_, refMs, err := gpt2.ReferenceInference(reference, inputs, runs)
	if err != nil {
		return err
	}

	var candidateMs float64
	if pcfg.UseBoundBuffers {
		shapes := gpt2.OutputShapesFor(cfg, variant, 1, 0, 1)
		buffers := gpt2.NewOutputBuffers(shapes)
		_, candidateMs, err = candidate.RunBound(inputs, buffers, shapes, runs)
	} else {
		_, candidateMs, err = candidate.Run(inputs, runs)
	}
	if err != nil {
		return err
	}

	log.Info().
		Int("runs", runs).
		Float64("reference_ms", refMs).
		Float64("candidate_ms", candidateMs).
		Msg("mean inference latency")
	return nil
}

func smokeCommand() *cobra.Command {
	var flags modelFlags
	var modelPath, tokenizerPath, prompt string
	var runs int

	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Run one real prompt through an exported graph and report the argmax token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, variant, err := flags.build()
			if err != nil {
				return err
			}

			tk, err := tokenizers.FromFile(tokenizerPath)
			if err != nil {
				return fmt.Errorf("failed to load tokenizer: %w", err)
			}
			defer tk.Close()

			encoded, _ := tk.Encode(prompt, false)
			if len(encoded) == 0 {
				return fmt.Errorf("prompt %q encoded to zero tokens", prompt)
			}
			ids := make([]int64, len(encoded))
			for i, id := range encoded {
				ids[i] = int64(id)
			}

			usePadding := variant.UsesPadding()
			inputs := gpt2.PromptInputs(cfg, ids, usePadding, usePadding)

			runner, err := ortrunner.NewRunner(modelPath, cfg, variant)
			if err != nil {
				return err
			}
			defer runner.Close()

			outputs, avgMs, err := runner.Run(inputs, runs)
			if err != nil {
				return err
			}

			primary := outputs[0]
			seqLen := primary.Shape[1]
			lastDim := primary.Shape[2]

			best := 0
			for v := 1; v < lastDim; v++ {
				if primary.At(0, seqLen-1, v) > primary.At(0, seqLen-1, best) {
					best = v
				}
			}

			next := tk.Decode([]uint32{uint32(best)}, true)
			log.Info().
				Int("prompt_tokens", len(ids)).
				Int("next_token_id", best).
				Str("next_token", next).
				Float64("mean_latency_ms", avgMs).
				Msg("smoke test complete")
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&modelPath, "model", "", "exported ONNX graph")
	cmd.Flags().StringVar(&tokenizerPath, "tokenizer", "", "tokenizer.json path")
	cmd.Flags().StringVar(&prompt, "prompt", "The capital of France is", "prompt text")
	cmd.Flags().IntVar(&runs, "runs", 10, "latency measurement runs")
	cmd.MarkFlagRequired("model")
	cmd.MarkFlagRequired("tokenizer")

	return cmd
}

func planCommand() *cobra.Command {
	var flags modelFlags
	var outputDir, modelName string
	var newFolder bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the export declaration (names, dynamic axes) and artifact paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, variant, err := flags.build()
			if err != nil {
				return err
			}

			plan := struct {
				InputNames   []string                  `json:"input_names"`
				OutputNames  []string                  `json:"output_names"`
				DynamicAxes  map[string]map[int]string `json:"dynamic_axes"`
				OpsetVersion int                       `json:"opset_version"`
				Paths        map[string]string         `json:"paths"`
			}{
				InputNames:   gpt2.InputNames(variant, cfg.NumLayers),
				OutputNames:  gpt2.OutputNames(variant, cfg.NumLayers),
				DynamicAxes:  gpt2.DynamicAxes(cfg, variant, variant.PrimaryOutput()),
				OpsetVersion: gpt2.DefaultOpsetVersion,
				Paths:        gpt2.OnnxPaths(outputDir, modelName, variant, true, newFolder),
			}

			out, err := json.MarshalIndent(plan, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&outputDir, "output-dir", ".", "artifact output directory")
	cmd.Flags().StringVar(&modelName, "name", "gpt2", "model name or path")
	cmd.Flags().BoolVar(&newFolder, "new-folder", false, "store each artifact in its own directory")

	return cmd
}

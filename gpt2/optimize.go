package gpt2

import "fmt"

// OptimizedModel is a handle to an optimizer result
type OptimizedModel interface {
	// ConvertFloat32ToFloat16 converts the model weights to half precision
	ConvertFloat32ToFloat16() error

	// Save writes the optimized graph to disk
	Save(path string, useExternalDataFormat bool) error
}

// Optimizer is the external graph-optimization pass. It consumes an
// exported graph file and returns a handle to the optimized model.
type Optimizer interface {
	Optimize(path string, modelType string, numHeads, hiddenSize int) (OptimizedModel, error)
}

// OptimizeGraph runs the external optimizer over an exported graph,
// optionally converting it to half precision, and saves the result.
func OptimizeGraph(opt Optimizer, rawPath, optimizedPath string, precision Precision,
	cfg *Config, useExternalDataFormat bool) error {
	m, err := opt.Optimize(rawPath, "gpt2", cfg.NumHeads, cfg.HiddenSize)
	if err != nil {
		return fmt.Errorf("optimize %s: %w", rawPath, err)
	}

	if precision == Float16 {
		if err := m.ConvertFloat32ToFloat16(); err != nil {
			return fmt.Errorf("convert to fp16: %w", err)
		}
	}

	if err := m.Save(optimizedPath, useExternalDataFormat); err != nil {
		return fmt.Errorf("save %s: %w", optimizedPath, err)
	}
	return nil
}

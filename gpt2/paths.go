package gpt2

import (
	"path/filepath"
	"strings"
)

// OnnxPaths builds the artifact file paths for one exported model:
// the raw export plus its fp32/fp16/int8 optimized siblings. When
// newFolder is set each artifact gets its own directory, which the
// external-data format requires.
func OnnxPaths(outputDir, modelNameOrPath string, variant ModelVariant, hasPast, newFolder bool) map[string]string {
	modelName := modelNameOrPath
	if strings.ContainsAny(modelNameOrPath, `/\`) {
		modelName = filepath.Base(filepath.Clean(modelNameOrPath))
	}

	if variant != LMHead {
		modelName += "_" + variant.String()
	}

	if hasPast {
		modelName += "_past"
	}

	paths := make(map[string]string, 4)
	for _, kind := range []string{"raw", "fp32", "fp16", "int8"} {
		name := modelName
		if kind != "raw" {
			name += "_" + kind
		}
		if newFolder {
			paths[kind] = filepath.Join(outputDir, name, name+".onnx")
		} else {
			paths[kind] = filepath.Join(outputDir, name+".onnx")
		}
	}
	return paths
}

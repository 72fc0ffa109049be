package gpt2

import (
	"math"

	"github.com/rs/zerolog/log"

	"gpt2-onnx-go/tensor"
)

// relativeEpsilon guards the division in relative-difference reporting
const relativeEpsilon = 1e-6

// ReferenceOutputs holds one reference-engine result after the
// per-layer key/value pairs have been stacked into single tensors
type ReferenceOutputs struct {
	Primary  *tensor.Tensor
	Presents []*tensor.Tensor
}

// CompareOutputs reports whether the candidate outputs are close to the
// reference outputs for the given thresholds. The candidate slice is
// ordered primary first, then present_0..present_{L-1}. Every output
// must pass the predicate |a-b| <= atol + rtol*|b| elementwise, with b
// the reference value.
func CompareOutputs(ref *ReferenceOutputs, got []*tensor.Tensor, rtol, atol float64) bool {
	if len(got) != 1+len(ref.Presents) {
		log.Debug().
			Int("got", len(got)).
			Int("want", 1+len(ref.Presents)).
			Msg("output count mismatch")
		return false
	}

	isAllClose := allClose(got[0], ref.Primary, rtol, atol)
	log.Debug().Bool("close", isAllClose).Msg("primary outputs compared")

	for layer, present := range ref.Presents {
		isClose := allClose(got[1+layer], present, rtol, atol)
		log.Debug().Int("layer", layer).Bool("close", isClose).Msg("present state compared")
		isAllClose = isAllClose && isClose
	}

	if !isAllClose {
		log.Info().
			Float64("max_abs_diff", DiffOutputs(ref, got, false)).
			Msg("reference and graph results are not all close")
	}

	return isAllClose
}

func allClose(a, b *tensor.Tensor, rtol, atol float64) bool {
	if a == nil || b == nil || !tensor.SameShape(a.Shape, b.Shape) {
		return false
	}
	for i := range a.Data {
		av := float64(a.Data[i])
		bv := float64(b.Data[i])
		if math.Abs(av-bv) > atol+rtol*math.Abs(bv) {
			return false
		}
	}
	return true
}

// DiffOutputs returns the maximum difference over the primary output
// only, for diagnostic reporting. When relative is true each element
// difference is divided by |reference|+epsilon. The result is never
// used as the pass/fail decision.
func DiffOutputs(ref *ReferenceOutputs, got []*tensor.Tensor, relative bool) float64 {
	if len(got) == 0 || got[0] == nil || len(got[0].Data) != len(ref.Primary.Data) {
		return math.Inf(1)
	}

	max := 0.0
	for i := range ref.Primary.Data {
		expected := float64(ref.Primary.Data[i])
		diff := math.Abs(expected - float64(got[0].Data[i]))
		if relative {
			diff /= math.Abs(expected) + relativeEpsilon
		}
		if diff > max {
			max = diff
		}
	}
	return max
}

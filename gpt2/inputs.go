package gpt2

import (
	"encoding/binary"
	"fmt"
	"math/rand"

	"github.com/cespare/xxhash/v2"
	"github.com/x448/float16"

	"gpt2-onnx-go/tensor"
)

// Inputs is one synthesized GPT-2 input batch: token ids, optional
// position ids and attention mask, and per-layer past key/value state.
// Past tensors are shaped (2, batch, num_heads, past_len, head_dim);
// axis 0 distinguishes key from value.
type Inputs struct {
	InputIDs      *tensor.Int64
	PositionIDs   *tensor.Int64
	AttentionMask *tensor.Tensor
	Past          []*tensor.Tensor
	Precision     Precision
}

// SynthesizeInputs creates a self-consistent random input batch.
//
// position_ids are never drawn independently: they are derived from the
// attention mask (cumulative count of unmasked positions, clamped at
// zero) with the cached-prefix columns dropped, so they are suppressed
// whenever the mask is suppressed. pastLen == 0 is a normal case.
func SynthesizeInputs(rng *rand.Rand, cfg *Config, batchSize, pastLen, seqLen int,
	precision Precision, hasPositionIDs, hasAttentionMask bool) *Inputs {
	if batchSize < 1 || pastLen < 0 || seqLen < 1 {
		panic(fmt.Sprintf("invalid input dims: batch=%d past=%d seq=%d", batchSize, pastLen, seqLen))
	}

	past := make([]*tensor.Tensor, cfg.NumLayers)
	for i := range past {
		p := tensor.NewTensor(2, batchSize, cfg.NumHeads, pastLen, cfg.HeadDim())
		for j := range p.Data {
			p.Data[j] = randomSample(rng, precision)
		}
		past[i] = p
	}

	inputIDs := tensor.NewInt64(batchSize, seqLen)
	for i := range inputIDs.Data {
		inputIDs.Data[i] = rng.Int63n(int64(cfg.VocabSize - 1))
	}

	totalLen := pastLen + seqLen

	var attentionMask *tensor.Tensor
	if hasAttentionMask {
		attentionMask = tensor.NewTensor(batchSize, totalLen)
		for i := range attentionMask.Data {
			attentionMask.Data[i] = 1
		}
		if totalLen >= 2 {
			// Zero one column in every row to exercise the padding path.
			padding := rng.Intn(totalLen)
			for b := 0; b < batchSize; b++ {
				attentionMask.Set(0, b, padding)
			}
		}
	}

	var positionIDs *tensor.Int64
	if hasPositionIDs && attentionMask != nil {
		positionIDs = derivePositionIDs(attentionMask, pastLen)
	}

	return &Inputs{
		InputIDs:      inputIDs,
		PositionIDs:   positionIDs,
		AttentionMask: attentionMask,
		Past:          past,
		Precision:     precision,
	}
}

// randomSample draws from [0,1) in the requested float precision.
// Half precision rounds through IEEE 754 binary16 so synthesized values
// are exactly representable in an fp16 graph.
func randomSample(rng *rand.Rand, precision Precision) float32 {
	v := rng.Float32()
	if precision == Float16 {
		return float16.Fromfloat32(v).Float32()
	}
	return v
}

// derivePositionIDs computes position ids as the cumulative count of
// unmasked positions preceding each token, clamped at zero, with the
// first pastLen columns (the cached prefix) dropped.
func derivePositionIDs(mask *tensor.Tensor, pastLen int) *tensor.Int64 {
	batchSize := mask.Shape[0]
	totalLen := mask.Shape[1]
	seqLen := totalLen - pastLen

	ids := tensor.NewInt64(batchSize, seqLen)
	for b := 0; b < batchSize; b++ {
		cum := int64(0)
		for t := 0; t < totalLen; t++ {
			cum += int64(mask.At(b, t))
			pos := cum - 1
			if pos < 0 {
				pos = 0
			}
			if t >= pastLen {
				ids.Set(pos, b, t-pastLen)
			}
		}
	}
	return ids
}

// PromptInputs builds a single-row input batch from real token ids
// with an empty cache: an all-ones mask over the prompt and position
// ids counting from zero. Used for smoke-testing an exported graph
// with an actual prompt instead of random ids.
func PromptInputs(cfg *Config, tokenIDs []int64, hasPositionIDs, hasAttentionMask bool) *Inputs {
	if len(tokenIDs) == 0 {
		panic("prompt must contain at least one token")
	}

	seqLen := len(tokenIDs)
	ids := tensor.NewInt64(1, seqLen)
	copy(ids.Data, tokenIDs)

	past := make([]*tensor.Tensor, cfg.NumLayers)
	for i := range past {
		past[i] = tensor.NewTensor(2, 1, cfg.NumHeads, 0, cfg.HeadDim())
	}

	var mask *tensor.Tensor
	if hasAttentionMask {
		mask = tensor.NewTensor(1, seqLen)
		for i := range mask.Data {
			mask.Data[i] = 1
		}
	}

	var positionIDs *tensor.Int64
	if hasPositionIDs && mask != nil {
		positionIDs = derivePositionIDs(mask, 0)
	}

	return &Inputs{
		InputIDs:      ids,
		PositionIDs:   positionIDs,
		AttentionMask: mask,
		Past:          past,
		Precision:     Float32,
	}
}

// ToFloat32 returns a full-precision copy of the batch. The reference
// engine contract is that it always accepts fp32 inputs.
func (in *Inputs) ToFloat32() *Inputs {
	out := &Inputs{
		InputIDs:  in.InputIDs.Clone(),
		Precision: Float32,
	}
	if in.PositionIDs != nil {
		out.PositionIDs = in.PositionIDs.Clone()
	}
	if in.AttentionMask != nil {
		out.AttentionMask = in.AttentionMask.Clone()
	}
	out.Past = make([]*tensor.Tensor, len(in.Past))
	for i, p := range in.Past {
		out.Past[i] = p.Clone()
	}
	return out
}

// BatchSize returns the batch dimension of the input ids
func (in *Inputs) BatchSize() int {
	return in.InputIDs.Shape[0]
}

// SeqLen returns the sequence dimension of the input ids
func (in *Inputs) SeqLen() int {
	return in.InputIDs.Shape[1]
}

// PastLen returns the cached-prefix length, zero when the cache is empty
func (in *Inputs) PastLen() int {
	if len(in.Past) == 0 {
		return 0
	}
	return in.Past[0].Shape[3]
}

// Fingerprint returns a stable hash of the batch for trial logging
func (in *Inputs) Fingerprint() uint64 {
	h := xxhash.New()
	buf := make([]byte, 8)

	writeInt := func(v int64) {
		binary.LittleEndian.PutUint64(buf, uint64(v))
		h.Write(buf)
	}

	writeInt(int64(in.BatchSize()))
	writeInt(int64(in.PastLen()))
	writeInt(int64(in.SeqLen()))
	for _, id := range in.InputIDs.Data {
		writeInt(id)
	}
	if in.AttentionMask != nil {
		for _, m := range in.AttentionMask.Data {
			writeInt(int64(m))
		}
	}
	return h.Sum64()
}

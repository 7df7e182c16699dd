package captioner

import (
	"context"
	"math"

	"github.com/Noofbiz/captioner/datasets"
	"github.com/Noofbiz/captioner/trainer"
	"github.com/pkg/errors"
)

// activationReLU applies ReLU in-place over the slice.
func activationReLU(x []float32) {
	for i := range x {
		if x[i] < 0 {
			x[i] = 0
		}
	}
}

// word clamps a token id into the vocabulary.
func (m *Model) word(id int32) int {
	if id < 0 || int(id) >= m.Config.VocabSize {
		return int(datasets.UnkID)
	}
	return int(id)
}

// input concatenates the video features with the embedding of the previous word.
func (m *Model) input(features []float32, prev int32) []float32 {
	e := m.Config.EmbeddingSize
	x := make([]float32, 0, len(features)+e)
	x = append(x, features...)
	row := m.word(prev) * e
	return append(x, m.params[0].Data[row:row+e]...)
}

// forward runs one position through the dense layers, returning pre-activations
// per layer and activations per layer (acts[0] is the input, the last entry are
// the logits).
func (m *Model) forward(x []float32) (preActs, acts [][]float32) {
	L := m.numLayers()
	acts = make([][]float32, L+1)
	acts[0] = x
	preActs = make([][]float32, L)
	for l := 0; l < L; l++ {
		W, b := m.params[1+2*l], m.params[2+2*l]
		out, in := W.Shape[0], W.Shape[1]
		inVec := acts[l]
		pre := make([]float32, out)
		for j := 0; j < out; j++ {
			sum := b.Data[j]
			row := W.Data[j*in : (j+1)*in]
			for i, w := range row {
				sum += w * inVec[i]
			}
			pre[j] = sum
		}
		preActs[l] = pre

		// ReLU for hidden layers, linear logits for the last one
		act := make([]float32, out)
		copy(act, pre)
		if l < L-1 {
			activationReLU(act)
		}
		acts[l+1] = act
	}
	return preActs, acts
}

// softmax returns the probabilities of logits.
func softmax(logits []float32) []float64 {
	maxV := math.Inf(-1)
	for _, v := range logits {
		maxV = math.Max(maxV, float64(v))
	}
	probs := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		probs[i] = math.Exp(float64(v) - maxV)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

func argmax(v []float32) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// backward accumulates the gradients of one position given dLoss/dLogits.
func (m *Model) backward(preActs, acts [][]float32, delta []float32, prev int32) {
	for l := m.numLayers() - 1; l >= 0; l-- {
		W := m.params[1+2*l]
		gW, gB := m.grads[1+2*l], m.grads[2+2*l]
		out, in := W.Shape[0], W.Shape[1]
		inAct := acts[l]

		for j := 0; j < out; j++ {
			gB.Data[j] += delta[j]
			if delta[j] == 0 {
				continue
			}
			row := gW.Data[j*in : (j+1)*in]
			for i := range row {
				row[i] += delta[j] * inAct[i]
			}
		}

		newDelta := make([]float32, in)
		for j := 0; j < out; j++ {
			if delta[j] == 0 {
				continue
			}
			row := W.Data[j*in : (j+1)*in]
			for i, w := range row {
				newDelta[i] += w * delta[j]
			}
		}
		if l > 0 {
			for i, p := range preActs[l-1] {
				if p <= 0 {
					newDelta[i] = 0
				}
			}
		}
		delta = newDelta
	}

	// delta is now dLoss/dInput; the embedding part follows the video features.
	e := m.Config.EmbeddingSize
	f := m.Config.FeatureDim
	gEmb := m.grads[0].Data[m.word(prev)*e:]
	for k := 0; k < e; k++ {
		gEmb[k] += delta[f+k]
	}
}

// streams holds the inputs and target of one sample picked through the slot
// mappings.
type streams struct {
	id         string
	features   []float32
	stateBelow []int32
	target     []int32
}

// bindings returns the dataset positions of the video, state_below and
// description slots.
func (m *Model) bindings() (video, below, desc int, err error) {
	var ok bool
	if video, ok = m.inputsMapping[SlotVideo]; !ok {
		return 0, 0, 0, errors.Wrapf(ErrNotMapped, "input slot %q", SlotVideo)
	}
	if below, ok = m.inputsMapping[SlotStateBelow]; !ok {
		return 0, 0, 0, errors.Wrapf(ErrNotMapped, "input slot %q", SlotStateBelow)
	}
	if desc, ok = m.outputsMapping[SlotDescription]; !ok {
		return 0, 0, 0, errors.Wrapf(ErrNotMapped, "output slot %q", SlotDescription)
	}
	return video, below, desc, nil
}

// streamsOf reads the slots of s at the positions they are bound to.
func (m *Model) streamsOf(s datasets.Sample) (streams, error) {
	video, below, desc, err := m.bindings()
	if err != nil {
		return streams{}, err
	}
	st := streams{id: s.VideoID}
	var ok bool
	if st.features, ok = s.FeatureInput(video); !ok {
		return streams{}, errors.Wrapf(ErrNotMapped, "slot %q is bound to input %d, which holds no video features", SlotVideo, video)
	}
	if st.stateBelow, ok = s.TokenInput(below); !ok {
		return streams{}, errors.Wrapf(ErrNotMapped, "slot %q is bound to input %d, which holds no caption tokens", SlotStateBelow, below)
	}
	if st.target, ok = s.TokenOutput(desc); !ok {
		return streams{}, errors.Wrapf(ErrNotMapped, "slot %q is bound to output %d, which holds no caption", SlotDescription, desc)
	}
	return st, nil
}

// batchStreams resolves every sample of batch and builds the model on first use.
func (m *Model) batchStreams(batch []datasets.Sample) ([]streams, error) {
	out := make([]streams, len(batch))
	for i, s := range batch {
		st, err := m.streamsOf(s)
		if err != nil {
			return nil, err
		}
		out[i] = st
	}
	if len(out) > 0 {
		if err := m.ensureBuilt(len(out[0].features)); err != nil {
			return nil, err
		}
	}
	for _, st := range out {
		if err := m.checkStreams(st); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (m *Model) checkStreams(st streams) error {
	if len(st.features) != m.Config.FeatureDim {
		return errors.Wrapf(ErrShape, "sample %s has %d features, model expects %d",
			st.id, len(st.features), m.Config.FeatureDim)
	}
	if len(st.stateBelow) != len(st.target) {
		return errors.Wrapf(ErrShape, "sample %s: state_below has %d tokens, target %d",
			st.id, len(st.stateBelow), len(st.target))
	}
	return nil
}

// TrainBatch applies one optimizer update on batch with learning rate lr and
// returns the mean cross-entropy over non-padding target tokens.
func (m *Model) TrainBatch(batch []datasets.Sample, lr float64) (float64, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	sts, err := m.batchStreams(batch)
	if err != nil {
		return 0, err
	}
	if m.opt == nil {
		if err := m.SetOptimizer(); err != nil {
			return 0, err
		}
	}

	var count int
	for _, st := range sts {
		for _, t := range st.target {
			if t != datasets.PadID {
				count++
			}
		}
	}
	if count == 0 {
		return 0, nil
	}
	for _, g := range m.grads {
		clear(g.Data)
	}

	inv := float32(1.0 / float64(count))
	var loss float64
	for _, st := range sts {
		for t, target := range st.target {
			if target == datasets.PadID {
				continue
			}
			x := m.input(st.features, st.stateBelow[t])
			preActs, acts := m.forward(x)
			probs := softmax(acts[len(acts)-1])
			y := m.word(target)
			loss -= math.Log(math.Max(probs[y], 1e-12))

			// dLoss/dLogits = softmax - onehot
			delta := make([]float32, len(probs))
			for j, p := range probs {
				delta[j] = float32(p) * inv
			}
			delta[y] -= inv
			m.backward(preActs, acts, delta, st.stateBelow[t])
		}
	}

	m.clipGradients()
	m.opt.step(m.params, m.grads, lr)
	return loss / float64(count), nil
}

// Evaluate computes loss, perplexity and token accuracy over split.
func (m *Model) Evaluate(ctx context.Context, data trainer.Data, split string, batchSize int) (map[string]float64, error) {
	n := data.Len(split)
	if n == 0 {
		return nil, errors.Wrapf(datasets.ErrEmptySplit, "%s", split)
	}
	batchSize = max(batchSize, 1)

	var loss float64
	var tokens, correct int
	for start := 0; start < n; start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+batchSize, n)
		indices := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			indices = append(indices, i)
		}
		batch, err := data.Batch(split, indices)
		if err != nil {
			return nil, err
		}
		sts, err := m.batchStreams(batch)
		if err != nil {
			return nil, err
		}
		for _, st := range sts {
			for t, target := range st.target {
				if target == datasets.PadID {
					continue
				}
				_, acts := m.forward(m.input(st.features, st.stateBelow[t]))
				logits := acts[len(acts)-1]
				y := m.word(target)
				loss -= math.Log(math.Max(softmax(logits)[y], 1e-12))
				if argmax(logits) == y {
					correct++
				}
				tokens++
			}
		}
	}
	if tokens == 0 {
		return map[string]float64{"loss": 0, "perplexity": 1, "accuracy": 0}, nil
	}
	mean := loss / float64(tokens)
	return map[string]float64{
		"loss":       mean,
		"perplexity": math.Exp(mean),
		"accuracy":   float64(correct) / float64(tokens),
	}, nil
}

// Greedy decodes a caption for features by feeding back the most likely word
// until <eos> or maxLen tokens. The returned ids exclude <eos>; maxLen <= 0
// yields an empty caption.
func (m *Model) Greedy(features []float32, maxLen int) ([]int32, error) {
	if err := m.ensureBuilt(len(features)); err != nil {
		return nil, err
	}
	maxLen = max(maxLen, 0)
	out := make([]int32, 0, maxLen)
	prev := datasets.PadID
	for len(out) < maxLen {
		_, acts := m.forward(m.input(features, prev))
		next := int32(argmax(acts[len(acts)-1]))
		if next == datasets.EOSID {
			break
		}
		out = append(out, next)
		prev = next
	}
	return out, nil
}

// Caption decodes features into text.
func (m *Model) Caption(features []float32, maxLen int) (string, error) {
	ids, err := m.Greedy(features, maxLen)
	if err != nil {
		return "", err
	}
	return m.vocab.Decode(ids), nil
}

// CaptionSample decodes the video stream of s, read through the inputs mapping.
func (m *Model) CaptionSample(s datasets.Sample, maxLen int) (string, error) {
	st, err := m.streamsOf(s)
	if err != nil {
		return "", err
	}
	return m.Caption(st.features, maxLen)
}

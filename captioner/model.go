// Package captioner is a small video captioning network trained on CPU: for
// every caption position the video features are concatenated with the
// embedding of the previous word and fed through a configurable MLP with a
// softmax over the output vocabulary.
package captioner

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/Noofbiz/captioner/config"
	"github.com/Noofbiz/captioner/datasets"
	"github.com/Noofbiz/captioner/trainer"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Slot identifiers declared by every captioning model.
const (
	SlotVideo       = "video"
	SlotStateBelow  = "state_below"
	SlotDescription = "description"
)

// tensor is a named, row-major parameter.
type tensor struct {
	Name  string
	Shape []int
	Data  []float32
}

func newTensor(name string, shape ...int) *tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &tensor{Name: name, Shape: append([]int{}, shape...), Data: make([]float32, n)}
}

// Model is a captioning network with its vocabulary, slot mappings and
// optimizer state.
type Model struct {
	// Config used for initialization and training.
	Config Config

	vocabID string
	vocab   *datasets.Vocabulary

	inputIDs       []string
	outputIDs      []string
	inputsMapping  map[string]int
	outputsMapping map[string]int

	// params[0] is the word embedding [vocab][emb]; then for every dense layer
	// l, params[1+2l] is W [out][in] and params[2+2l] is b [out].
	params []*tensor
	grads  []*tensor
	built  bool

	opt       optimizer
	gradNorms map[string]float64
	history   *trainer.History

	rng *rand.Rand
}

// NewCaptioningModel builds a fresh model of modelType. The output vocabulary
// is the one of the first OUTPUTS_IDS_DATASET id.
func NewCaptioningModel(p config.Params, modelType string, verbose int, name string,
	vocabularies map[string]*datasets.Vocabulary, storePath string) (*Model, error) {
	cfg, err := ConfigFromParams(p, modelType, verbose, name, storePath)
	if err != nil {
		return nil, err
	}
	vocabID, vocab, err := outputVocabulary(p, vocabularies)
	if err != nil {
		return nil, err
	}
	cfg.VocabSize = vocab.Len()

	m := newModel(cfg, vocabID, vocab)
	if cfg.FeatureDim > 0 {
		m.build(cfg.FeatureDim)
	}
	if verbose > 0 {
		klog.Infof("Built %s model %q:\n%s", modelType, name, m.Summary())
	}
	return m, nil
}

func newModel(cfg Config, vocabID string, vocab *datasets.Vocabulary) *Model {
	return &Model{
		Config:    cfg,
		vocabID:   vocabID,
		vocab:     vocab,
		inputIDs:  []string{SlotVideo, SlotStateBelow},
		outputIDs: []string{SlotDescription},
		rng:       rand.New(rand.NewSource(cfg.Seed)),
	}
}

func outputVocabulary(p config.Params, vocabularies map[string]*datasets.Vocabulary) (string, *datasets.Vocabulary, error) {
	outputs, err := p.StringsOr("OUTPUTS_IDS_DATASET", nil)
	if err != nil {
		return "", nil, err
	}
	if len(outputs) > 0 {
		if v, ok := vocabularies[outputs[0]]; ok {
			return outputs[0], v, nil
		}
		return "", nil, errors.Wrapf(datasets.ErrUnknownID, "no vocabulary for output %q", outputs[0])
	}
	if len(vocabularies) == 1 {
		for id, v := range vocabularies {
			return id, v, nil
		}
	}
	return "", nil, errors.New("cannot choose an output vocabulary")
}

// build allocates and initializes the parameters for featDim video features.
func (m *Model) build(featDim int) {
	cfg := &m.Config
	cfg.FeatureDim = featDim

	sizes := append([]int{featDim + cfg.EmbeddingSize}, cfg.HiddenSizes...)
	sizes = append(sizes, cfg.VocabSize)

	m.params = []*tensor{newTensor("word_embedding", cfg.VocabSize, cfg.EmbeddingSize)}
	for l := 0; l < len(sizes)-1; l++ {
		m.params = append(m.params,
			newTensor(fmt.Sprintf("dense_%d/kernel", l), sizes[l+1], sizes[l]),
			newTensor(fmt.Sprintf("dense_%d/bias", l), sizes[l+1]))
	}
	for _, p := range m.params {
		if len(p.Shape) == 1 {
			continue
		}
		out, in := p.Shape[0], p.Shape[1]
		// Xavier/Glorot uniform initialization heuristic
		limit := float32(math.Sqrt(6.0 / float64(in+out)))
		for j := range p.Data {
			p.Data[j] = (m.rng.Float32()*2.0 - 1.0) * limit * 0.5
		}
	}
	m.allocGrads()
	m.built = true
}

func (m *Model) allocGrads() {
	m.grads = make([]*tensor, len(m.params))
	for i, p := range m.params {
		m.grads[i] = newTensor(p.Name, p.Shape...)
	}
}

// ensureBuilt builds the model on first use and checks featDim afterwards.
func (m *Model) ensureBuilt(featDim int) error {
	if !m.built {
		m.build(featDim)
		klog.V(1).Infof("Model %s built for %d video features (%s parameters)",
			m.Config.Name, featDim, humanize.Comma(int64(m.NumParams())))
		return nil
	}
	if featDim != m.Config.FeatureDim {
		return errors.Wrapf(ErrShape, "video features have %d values, model expects %d", featDim, m.Config.FeatureDim)
	}
	return nil
}

func (m *Model) numLayers() int { return (len(m.params) - 1) / 2 }

// InputIDs returns the model's declared input slots.
func (m *Model) InputIDs() []string { return m.inputIDs }

// OutputIDs returns the model's declared output slots.
func (m *Model) OutputIDs() []string { return m.outputIDs }

// SetInputsMapping binds input slots to dataset input positions.
func (m *Model) SetInputsMapping(mapping map[string]int) { m.inputsMapping = mapping }

// SetOutputsMapping binds output slots to dataset output positions.
func (m *Model) SetOutputsMapping(mapping map[string]int) { m.outputsMapping = mapping }

// InputsMapping returns the input slot bindings.
func (m *Model) InputsMapping() map[string]int { return m.inputsMapping }

// OutputsMapping returns the output slot bindings.
func (m *Model) OutputsMapping() map[string]int { return m.outputsMapping }

// Vocabulary returns the output vocabulary.
func (m *Model) Vocabulary() *datasets.Vocabulary { return m.vocab }

// History returns the record of the last TrainNet call, or nil.
func (m *Model) History() *trainer.History { return m.history }

// NumParams counts trainable values; zero before the model is built.
func (m *Model) NumParams() int {
	n := 0
	for _, p := range m.params {
		n += len(p.Data)
	}
	return n
}

// TrainNet trains the model with the trainer loop. Every slot must be bound to
// a dataset stream of its kind; the first training sample is checked up front.
func (m *Model) TrainNet(ctx context.Context, data trainer.Data, p trainer.Params) error {
	if _, _, _, err := m.bindings(); err != nil {
		return err
	}
	if data.Len(datasets.SplitTrain) > 0 {
		first, err := data.Batch(datasets.SplitTrain, []int{0})
		if err != nil {
			return err
		}
		if _, err := m.streamsOf(first[0]); err != nil {
			return err
		}
	}
	if m.opt == nil {
		if err := m.SetOptimizer(); err != nil {
			return err
		}
	}
	if p.Seed == 0 {
		p.Seed = m.Config.Seed
	}
	hist, err := trainer.Run(ctx, m, data, p)
	m.history = hist
	return err
}

// Summary describes layers, parameter counts and slot bindings.
func (m *Model) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Model %q (%s)\n", m.Config.Name, m.Config.ModelType)
	feat := "inferred from data"
	if m.built {
		feat = fmt.Sprint(m.Config.FeatureDim)
	}
	fmt.Fprintf(&b, "  %-16s features=%s\n", SlotVideo, feat)
	fmt.Fprintf(&b, "  %-16s embedding=%dx%d\n", SlotStateBelow, m.Config.VocabSize, m.Config.EmbeddingSize)
	for i, h := range m.Config.HiddenSizes {
		fmt.Fprintf(&b, "  %-16s relu(%d)\n", fmt.Sprintf("dense_%d", i), h)
	}
	fmt.Fprintf(&b, "  %-16s softmax(%d)\n", SlotDescription, m.Config.VocabSize)
	if m.built {
		fmt.Fprintf(&b, "  parameters: %s\n", humanize.Comma(int64(m.NumParams())))
	}
	for _, part := range []struct {
		name string
		m    map[string]int
	}{{"inputs", m.inputsMapping}, {"outputs", m.outputsMapping}} {
		if len(part.m) == 0 {
			continue
		}
		keys := make([]string, 0, len(part.m))
		for k := range part.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, len(keys))
		for i, k := range keys {
			pairs[i] = fmt.Sprintf("%s->%d", k, part.m[k])
		}
		fmt.Fprintf(&b, "  %s mapping: %s\n", part.name, strings.Join(pairs, ", "))
	}
	return b.String()
}

// Weights exposes every parameter tensor by name.
func (m *Model) Weights() map[string][]float32 {
	out := make(map[string][]float32, len(m.params))
	for _, p := range m.params {
		out[p.Name] = p.Data
	}
	return out
}

// GradientNorms returns the L2 norm of each parameter gradient of the last update.
func (m *Model) GradientNorms() map[string]float64 { return m.gradNorms }

// Embeddings exposes the word embedding labelled with the output vocabulary.
func (m *Model) Embeddings() map[string]trainer.Embedding {
	if !m.built {
		return nil
	}
	emb := m.params[0]
	dim := emb.Shape[1]
	rows := make([][]float32, emb.Shape[0])
	for i := range rows {
		rows[i] = emb.Data[i*dim : (i+1)*dim]
	}
	return map[string]trainer.Embedding{emb.Name: {
		Vectors:    rows,
		VocabID:    m.vocabID,
		Vocabulary: m.vocab.Words,
	}}
}

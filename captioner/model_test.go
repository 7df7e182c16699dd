package captioner

import (
	"context"
	"math"
	"os"
	"testing"

	"github.com/Noofbiz/captioner/config"
	"github.com/Noofbiz/captioner/datasets"
	"github.com/Noofbiz/captioner/trainer"
	"github.com/pkg/errors"
)

// mockDataset implements trainer.Data over in-memory samples.
type mockDataset struct {
	splits map[string][]datasets.Sample
}

func (m *mockDataset) Len(split string) int { return len(m.splits[split]) }

func (m *mockDataset) Batch(split string, indices []int) ([]datasets.Sample, error) {
	out := make([]datasets.Sample, len(indices))
	for i, idx := range indices {
		out[i] = m.splits[split][idx]
	}
	return out, nil
}

var colourCaptions = [][]string{
	{"red", "car"},
	{"green", "ball"},
	{"blue", "car"},
}

// newColourDataset builds three classes of videos (one-hot features), each
// always described by the same caption.
func newColourDataset(perClass int) (*mockDataset, *datasets.Vocabulary) {
	vocab := datasets.NewVocabulary(colourCaptions, 0, 0)
	const maxLen = 4
	ds := &mockDataset{splits: map[string][]datasets.Sample{}}
	for i := 0; i < perClass*len(colourCaptions); i++ {
		class := i % len(colourCaptions)
		feats := make([]float32, len(colourCaptions))
		feats[class] = 1

		ids := vocab.Encode(colourCaptions[class])
		target := make([]int32, maxLen)
		copy(target, ids)
		target[len(ids)] = datasets.EOSID
		below := make([]int32, maxLen)
		copy(below[1:], target[:maxLen-1])

		s := datasets.Sample{Features: feats, StateBelow: below, Target: target, Length: len(ids) + 1}
		ds.splits[datasets.SplitTrain] = append(ds.splits[datasets.SplitTrain], s)
		if i < len(colourCaptions) {
			ds.splits[datasets.SplitVal] = append(ds.splits[datasets.SplitVal], s)
		}
	}
	return ds, vocab
}

func modelParams() config.Params {
	return config.Params{
		"OUTPUTS_IDS_DATASET": []any{"description"},
		"WORD_EMBEDDING_SIZE": int64(8),
		"HIDDEN_SIZES":        []any{int64(16)},
		"OPTIMIZER":           "adam",
		"CLIP_C":              5.0,
		"SEED":                int64(3),
	}
}

func newTestModel(t *testing.T, modelType string, vocab *datasets.Vocabulary) *Model {
	t.Helper()
	m, err := NewCaptioningModel(modelParams(), modelType, 0, "test",
		map[string]*datasets.Vocabulary{"description": vocab}, t.TempDir())
	if err != nil {
		t.Fatalf("NewCaptioningModel error: %v", err)
	}
	m.SetInputsMapping(map[string]int{SlotVideo: 0, SlotStateBelow: 1})
	m.SetOutputsMapping(map[string]int{SlotDescription: 0})
	return m
}

func trainParams() trainer.Params {
	return trainer.Params{
		NEpochs:          40,
		BatchSize:        5,
		JointBatches:     1,
		InitialLR:        0.02,
		ReduceEachEpochs: true,
		LRGamma:          0.9,
		LRReducerType:    trainer.ReducerLinear,
		MinLR:            1e-9,
		EpochsForSave:    100,
		NParallelLoaders: 2,
		EvalOnEpochs:     true,
		EachNEpochs:      1,
		NGPUs:            1,
	}
}

// TestModelTrainWithMockDataset verifies the trainer reduces the caption loss
// and that greedy decoding recovers the captions of a trivially separable task.
func TestModelTrainWithMockDataset(t *testing.T) {
	ds, vocab := newColourDataset(10)
	model := newTestModel(t, TypeMLP, vocab)
	ctx := context.Background()

	before, err := model.Evaluate(ctx, ds, datasets.SplitVal, 8)
	if err != nil {
		t.Fatalf("Evaluate(before) error: %v", err)
	}
	if err := model.TrainNet(ctx, ds, trainParams()); err != nil {
		t.Fatalf("TrainNet error: %v", err)
	}
	after, err := model.Evaluate(ctx, ds, datasets.SplitVal, 8)
	if err != nil {
		t.Fatalf("Evaluate(after) error: %v", err)
	}
	t.Logf("loss before=%.5f after=%.5f accuracy=%.3f", before["loss"], after["loss"], after["accuracy"])

	if !(after["loss"] < before["loss"]) {
		t.Fatalf("expected loss to decrease: before=%.5f after=%.5f", before["loss"], after["loss"])
	}
	if math.Abs(after["perplexity"]-math.Exp(after["loss"])) > 1e-9 {
		t.Fatalf("perplexity %.5f is not exp(loss)", after["perplexity"])
	}
	if after["accuracy"] < 0.99 {
		t.Fatalf("expected the task to be learnt, accuracy %.3f", after["accuracy"])
	}

	for class, words := range colourCaptions {
		feats := make([]float32, len(colourCaptions))
		feats[class] = 1
		got, err := model.Caption(feats, 4)
		if err != nil {
			t.Fatalf("Caption error: %v", err)
		}
		want := words[0] + " " + words[1]
		if got != want {
			t.Fatalf("class %d: caption %q, want %q", class, got, want)
		}
	}

	hist := model.History()
	if hist == nil || len(hist.EpochLoss) != 40 {
		t.Fatalf("expected 40 epochs of history, got %+v", hist)
	}
	if _, err := os.Stat(CheckpointPath(model.Config.StorePath, 40)); err != nil {
		t.Fatalf("expected final checkpoint: %v", err)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	for _, half := range []bool{false, true} {
		ds, vocab := newColourDataset(2)
		model := newTestModel(t, TypeMLP, vocab)
		model.Config.HalfPrecision = half
		if _, err := model.TrainBatch(ds.splits[datasets.SplitTrain], 0.01); err != nil {
			t.Fatalf("TrainBatch error: %v", err)
		}
		if err := model.SaveCheckpoint(3); err != nil {
			t.Fatalf("SaveCheckpoint error: %v", err)
		}

		loaded, err := LoadModel(model.Config.StorePath, 3)
		if err != nil {
			t.Fatalf("LoadModel error: %v", err)
		}
		if loaded.InputsMapping()[SlotStateBelow] != 1 || loaded.OutputsMapping()[SlotDescription] != 0 {
			t.Fatalf("mappings not restored: %v %v", loaded.InputsMapping(), loaded.OutputsMapping())
		}
		if loaded.Vocabulary().Len() != vocab.Len() || loaded.NumParams() != model.NumParams() {
			t.Fatalf("loaded model differs: vocab %d params %d", loaded.Vocabulary().Len(), loaded.NumParams())
		}

		tol := 0.0
		if half {
			tol = 1e-3
		}
		want, got := model.Weights(), loaded.Weights()
		for name, w := range want {
			for i := range w {
				if d := math.Abs(float64(w[i] - got[name][i])); d > tol {
					t.Fatalf("half=%v: %s[%d] = %v, want %v", half, name, i, got[name][i], w[i])
				}
			}
		}

		// The optimizer is not part of the checkpoint.
		if loaded.opt != nil {
			t.Fatalf("expected loaded model without optimizer state")
		}
		if err := loaded.SetOptimizer(); err != nil {
			t.Fatalf("SetOptimizer error: %v", err)
		}
		if _, err := loaded.TrainBatch(ds.splits[datasets.SplitTrain], 0.01); err != nil {
			t.Fatalf("TrainBatch after load error: %v", err)
		}
	}
}

func TestLoadModelMissingCheckpoint(t *testing.T) {
	if _, err := LoadModel(t.TempDir(), 1); err == nil {
		t.Fatalf("expected error for missing checkpoint")
	}
}

func TestModelTypesAndErrors(t *testing.T) {
	_, vocab := newColourDataset(1)
	vocabs := map[string]*datasets.Vocabulary{"description": vocab}

	linear, err := NewCaptioningModel(modelParams(), TypeLinear, 0, "lin", vocabs, t.TempDir())
	if err != nil {
		t.Fatalf("NewCaptioningModel(linear) error: %v", err)
	}
	if len(linear.Config.HiddenSizes) != 0 {
		t.Fatalf("linear model has hidden layers %v", linear.Config.HiddenSizes)
	}
	if linear.NumParams() != 0 {
		t.Fatalf("model without FEATURE_SIZE should build lazily")
	}

	p := modelParams()
	p["FEATURE_SIZE"] = int64(3)
	mlp, err := NewCaptioningModel(p, TypeMLP, 0, "mlp", vocabs, t.TempDir())
	if err != nil {
		t.Fatalf("NewCaptioningModel(mlp) error: %v", err)
	}
	// embedding + (3+8)x16 + 16 + 16xV + V
	v := vocab.Len()
	if want := v*8 + 11*16 + 16 + 16*v + v; mlp.NumParams() != want {
		t.Fatalf("NumParams = %d, want %d", mlp.NumParams(), want)
	}
	if ids := mlp.InputIDs(); len(ids) != 2 || ids[0] != SlotVideo || ids[1] != SlotStateBelow {
		t.Fatalf("unexpected input slots %v", ids)
	}

	if _, err := NewCaptioningModel(modelParams(), "Transformer", 0, "x", vocabs, ""); !errors.Is(err, ErrUnknownModelType) {
		t.Fatalf("expected ErrUnknownModelType, got %v", err)
	}

	bad := modelParams()
	bad["OPTIMIZER"] = "lbfgs"
	m, err := NewCaptioningModel(bad, TypeMLP, 0, "x", vocabs, "")
	if err != nil {
		t.Fatalf("NewCaptioningModel error: %v", err)
	}
	if err := m.SetOptimizer(); !errors.Is(err, ErrUnknownOptimizer) {
		t.Fatalf("expected ErrUnknownOptimizer, got %v", err)
	}

	ds, _ := newColourDataset(1)
	if err := linear.TrainNet(context.Background(), ds, trainParams()); !errors.Is(err, ErrNotMapped) {
		t.Fatalf("expected ErrNotMapped, got %v", err)
	}

	mlp.SetInputsMapping(map[string]int{SlotVideo: datasets.InputFeatures, SlotStateBelow: datasets.InputStateBelow})
	mlp.SetOutputsMapping(map[string]int{SlotDescription: datasets.OutputCaption})
	wrong := []datasets.Sample{{Features: []float32{1}, StateBelow: []int32{0}, Target: []int32{3}}}
	if _, err := mlp.TrainBatch(wrong, 0.1); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
}

// TestModelReadsStreamsThroughMappings checks that slots bound to dataset
// streams of the wrong kind are rejected instead of silently read.
func TestModelReadsStreamsThroughMappings(t *testing.T) {
	ds, vocab := newColourDataset(2)
	ctx := context.Background()

	swapped := newTestModel(t, TypeMLP, vocab)
	swapped.SetInputsMapping(map[string]int{SlotVideo: datasets.InputStateBelow, SlotStateBelow: datasets.InputFeatures})
	if err := swapped.TrainNet(ctx, ds, trainParams()); !errors.Is(err, ErrNotMapped) {
		t.Fatalf("TrainNet with swapped inputs: expected ErrNotMapped, got %v", err)
	}
	if _, err := swapped.TrainBatch(ds.splits[datasets.SplitTrain], 0.01); !errors.Is(err, ErrNotMapped) {
		t.Fatalf("TrainBatch with swapped inputs: expected ErrNotMapped, got %v", err)
	}
	if _, err := swapped.Evaluate(ctx, ds, datasets.SplitVal, 4); !errors.Is(err, ErrNotMapped) {
		t.Fatalf("Evaluate with swapped inputs: expected ErrNotMapped, got %v", err)
	}
	if _, err := swapped.CaptionSample(ds.splits[datasets.SplitVal][0], 4); !errors.Is(err, ErrNotMapped) {
		t.Fatalf("CaptionSample with swapped inputs: expected ErrNotMapped, got %v", err)
	}
	if swapped.NumParams() != 0 {
		t.Fatalf("model must not build from a mis-bound stream")
	}

	noTarget := newTestModel(t, TypeMLP, vocab)
	noTarget.SetOutputsMapping(map[string]int{SlotDescription: 1})
	if _, err := noTarget.TrainBatch(ds.splits[datasets.SplitTrain], 0.01); !errors.Is(err, ErrNotMapped) {
		t.Fatalf("expected ErrNotMapped for an unknown output position, got %v", err)
	}

	partial := newTestModel(t, TypeMLP, vocab)
	partial.SetInputsMapping(map[string]int{SlotVideo: datasets.InputFeatures})
	if err := partial.TrainNet(ctx, ds, trainParams()); !errors.Is(err, ErrNotMapped) {
		t.Fatalf("expected ErrNotMapped for an unbound slot, got %v", err)
	}

	bound := newTestModel(t, TypeMLP, vocab)
	if _, err := bound.TrainBatch(ds.splits[datasets.SplitTrain], 0.01); err != nil {
		t.Fatalf("TrainBatch error: %v", err)
	}
	if _, err := bound.CaptionSample(ds.splits[datasets.SplitVal][0], 4); err != nil {
		t.Fatalf("CaptionSample error: %v", err)
	}
}

func TestGreedyNonPositiveMaxLen(t *testing.T) {
	_, vocab := newColourDataset(1)
	model := newTestModel(t, TypeMLP, vocab)
	for _, maxLen := range []int{0, -3} {
		ids, err := model.Greedy([]float32{1, 0, 0}, maxLen)
		if err != nil {
			t.Fatalf("Greedy(maxLen=%d) error: %v", maxLen, err)
		}
		if len(ids) != 0 {
			t.Fatalf("Greedy(maxLen=%d) = %v, want empty", maxLen, ids)
		}
	}
	text, err := model.Caption([]float32{0, 1, 0}, -1)
	if err != nil || text != "" {
		t.Fatalf("Caption(maxLen=-1) = %q, %v", text, err)
	}
}

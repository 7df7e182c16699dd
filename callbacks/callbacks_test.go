package callbacks

import (
	"context"
	"strconv"
	"testing"

	"github.com/Noofbiz/captioner/config"
	"github.com/Noofbiz/captioner/datasets"
	"github.com/Noofbiz/captioner/trainer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeData struct{ n map[string]int }

func (d fakeData) Len(split string) int { return d.n[split] }

func (d fakeData) Batch(split string, indices []int) ([]datasets.Sample, error) {
	out := make([]datasets.Sample, len(indices))
	for i, idx := range indices {
		out[i] = datasets.Sample{
			VideoID:  split + strconv.Itoa(idx),
			Caption:  "a dog runs",
			Features: []float32{float32(idx)},
		}
	}
	return out, nil
}

type fakeModel struct {
	evaluated []string
}

func (f *fakeModel) Evaluate(ctx context.Context, data trainer.Data, split string, batchSize int) (map[string]float64, error) {
	f.evaluated = append(f.evaluated, split)
	base := float64(len(f.evaluated))
	return map[string]float64{"loss": base, "perplexity": 10 * base, "accuracy": 0.5}, nil
}

func (f *fakeModel) CaptionSample(s datasets.Sample, maxLen int) (string, error) {
	return "a dog", nil
}

// evalOnly implements Evaluator but cannot caption.
type evalOnly struct{}

func (evalOnly) Evaluate(ctx context.Context, data trainer.Data, split string, batchSize int) (map[string]float64, error) {
	return map[string]float64{"loss": 1}, nil
}

func TestBuildCallbacks(t *testing.T) {
	p := config.Params{
		"EVAL_ON_SETS":   []any{"val", "test"},
		"METRICS":        []any{"perplexity", "coco"},
		"SAMPLE_ON_SETS": []any{"val"},
		"N_SAMPLES":      int64(2),
		"SEED":           int64(1),
	}
	data := fakeData{n: map[string]int{"val": 5, "test": 3}}
	model := &fakeModel{}
	cbs, err := BuildCallbacks(p, model, data)
	require.NoError(t, err)
	require.Len(t, cbs, 2)

	metrics, err := cbs[0].OnEvaluate(context.Background(), trainer.EvalPoint{Epoch: 1, Update: 4})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{
		"perplexity":      10,
		"val_perplexity":  10,
		"test_perplexity": 20,
	}, metrics)
	assert.Equal(t, []string{"val", "test"}, model.evaluated)

	sampler, ok := cbs[1].(*SampleCallback)
	require.True(t, ok)
	metrics, err = sampler.OnEvaluate(context.Background(), trainer.EvalPoint{Epoch: 1})
	require.NoError(t, err)
	assert.Nil(t, metrics)
	require.Len(t, sampler.Last, 2)
	for _, s := range sampler.Last {
		assert.Equal(t, "val", s.Set)
		assert.Equal(t, "a dog", s.Hypothesis)
		assert.Equal(t, "a dog runs", s.Reference)
	}
}

func TestBuildCallbacksSkipsSamplingWithoutCaptioner(t *testing.T) {
	p := config.Params{
		"EVAL_ON_SETS":   []any{},
		"SAMPLE_ON_SETS": []any{"val"},
	}
	cbs, err := BuildCallbacks(p, evalOnly{}, fakeData{})
	require.NoError(t, err)
	assert.Empty(t, cbs)
}

func TestEvalCallbackDefaultsToLoss(t *testing.T) {
	ec, err := NewEvalCallback(&fakeModel{}, fakeData{}, []string{"val"}, []string{"bleu"}, 4)
	require.NoError(t, err)
	metrics, err := ec.OnEvaluate(context.Background(), trainer.EvalPoint{Epoch: 2})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"loss": 1, "val_loss": 1}, metrics)

	_, err = NewEvalCallback(nil, fakeData{}, []string{"val"}, nil, 4)
	assert.Error(t, err)
}

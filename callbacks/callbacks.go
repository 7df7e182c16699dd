// Package callbacks builds the evaluation and sampling hooks run by the trainer
// at every evaluation point.
package callbacks

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/Noofbiz/captioner/config"
	"github.com/Noofbiz/captioner/datasets"
	"github.com/Noofbiz/captioner/trainer"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Metrics the EvalCallback can report.
var knownMetrics = map[string]bool{"loss": true, "perplexity": true, "accuracy": true}

// Evaluator scores a model on a dataset split.
type Evaluator interface {
	Evaluate(ctx context.Context, data trainer.Data, split string, batchSize int) (map[string]float64, error)
}

// Captioner decodes the video stream of a sample into a caption.
type Captioner interface {
	CaptionSample(s datasets.Sample, maxLen int) (string, error)
}

// BuildCallbacks returns the callbacks configured by EVAL_ON_SETS and
// SAMPLE_ON_SETS. Sampling needs a model that also implements Captioner.
func BuildCallbacks(p config.Params, model Evaluator, data trainer.Data) ([]trainer.Callback, error) {
	r := config.NewReader(p)
	evalSets := r.StringsOr("EVAL_ON_SETS", nil)
	metrics := r.StringsOr("METRICS", []string{"perplexity"})
	batchSize := r.IntOr("BATCH_SIZE", 32)
	sampleSets := r.StringsOr("SAMPLE_ON_SETS", nil)
	nSamples := r.IntOr("N_SAMPLES", 3)
	maxLen := r.IntOr("MAX_OUTPUT_TEXT_LEN", 20)
	seed := r.IntOr("SEED", 0)
	if err := r.Err(); err != nil {
		return nil, err
	}

	var cbs []trainer.Callback
	if len(evalSets) > 0 {
		ec, err := NewEvalCallback(model, data, evalSets, metrics, batchSize)
		if err != nil {
			return nil, err
		}
		cbs = append(cbs, ec)
	}
	if len(sampleSets) > 0 && nSamples > 0 {
		c, ok := model.(Captioner)
		if !ok {
			klog.Warningf("SAMPLE_ON_SETS ignored: model cannot generate captions")
		} else {
			cbs = append(cbs, NewSampleCallback(c, data, sampleSets, nSamples, maxLen, int64(seed)))
		}
	}
	klog.V(1).Infof("Built %d callbacks (eval on %v, sample on %v)", len(cbs), evalSets, sampleSets)
	return cbs, nil
}

// EvalCallback scores the model on every set. The metrics of the first set are
// reported under their plain names, and every set's under <set>_<metric>.
type EvalCallback struct {
	model     Evaluator
	data      trainer.Data
	sets      []string
	metrics   []string
	batchSize int
}

// NewEvalCallback keeps the metrics it knows; unknown names are logged and
// skipped.
func NewEvalCallback(model Evaluator, data trainer.Data, sets, metrics []string, batchSize int) (*EvalCallback, error) {
	if model == nil {
		return nil, errors.New("eval callback needs a model")
	}
	var keep []string
	for _, m := range metrics {
		if !knownMetrics[m] {
			klog.Warningf("Metric %q is not supported, skipping it", m)
			continue
		}
		keep = append(keep, m)
	}
	if len(keep) == 0 {
		keep = []string{"loss"}
	}
	return &EvalCallback{model: model, data: data, sets: sets, metrics: keep, batchSize: batchSize}, nil
}

// OnEvaluate implements trainer.Callback.
func (e *EvalCallback) OnEvaluate(ctx context.Context, at trainer.EvalPoint) (map[string]float64, error) {
	out := make(map[string]float64)
	for i, set := range e.sets {
		scores, err := e.model.Evaluate(ctx, e.data, set, e.batchSize)
		if err != nil {
			return nil, errors.Wrapf(err, "evaluate on %s", set)
		}
		parts := make([]string, 0, len(e.metrics))
		for _, m := range e.metrics {
			v, ok := scores[m]
			if !ok {
				continue
			}
			out[set+"_"+m] = v
			if i == 0 {
				out[m] = v
			}
			parts = append(parts, fmt.Sprintf("%s=%.4f", m, v))
		}
		klog.Infof("Epoch %d (update %d) %s: %s", at.Epoch, at.Update, set, strings.Join(parts, " "))
	}
	return out, nil
}

// Sampled is one generated caption next to its reference.
type Sampled struct {
	Set        string
	VideoID    string
	Hypothesis string
	Reference  string
}

// SampleCallback logs greedy captions for a few random samples of each set.
type SampleCallback struct {
	model  Captioner
	data   trainer.Data
	sets   []string
	n      int
	maxLen int
	rng    *rand.Rand

	// Last holds the samples of the most recent evaluation point.
	Last []Sampled
}

// NewSampleCallback returns a SampleCallback drawing n samples per set.
func NewSampleCallback(model Captioner, data trainer.Data, sets []string, n, maxLen int, seed int64) *SampleCallback {
	return &SampleCallback{model: model, data: data, sets: sets, n: n, maxLen: maxLen, rng: rand.New(rand.NewSource(seed))}
}

// OnEvaluate implements trainer.Callback. It reports no metrics.
func (s *SampleCallback) OnEvaluate(ctx context.Context, at trainer.EvalPoint) (map[string]float64, error) {
	s.Last = s.Last[:0]
	for _, set := range s.sets {
		total := s.data.Len(set)
		if total == 0 {
			continue
		}
		idx := s.rng.Perm(total)[:min(s.n, total)]
		sort.Ints(idx)
		batch, err := s.data.Batch(set, idx)
		if err != nil {
			return nil, errors.Wrapf(err, "sample from %s", set)
		}
		for _, sample := range batch {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			hyp, err := s.model.CaptionSample(sample, s.maxLen)
			if err != nil {
				return nil, errors.Wrapf(err, "caption %s", sample.VideoID)
			}
			s.Last = append(s.Last, Sampled{Set: set, VideoID: sample.VideoID, Hypothesis: hyp, Reference: sample.Caption})
			klog.Infof("[%s] epoch %d video %s\n  hyp: %s\n  ref: %s", set, at.Epoch, sample.VideoID, hyp, sample.Caption)
		}
	}
	return nil, nil
}

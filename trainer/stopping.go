package trainer

import (
	"math"
	"strings"

	"k8s.io/klog/v2"
)

// earlyStopper tracks the best value of one metric across evaluations.
type earlyStopper struct {
	metric      string
	patience    int
	lowerBetter bool

	best      float64
	bestEpoch int
	bad       int
	warned    bool
}

func newEarlyStopper(metric string, patience int) *earlyStopper {
	if metric == "" {
		return nil
	}
	lower := lowerIsBetter(metric)
	best := math.Inf(-1)
	if lower {
		best = math.Inf(1)
	}
	return &earlyStopper{metric: metric, patience: max(patience, 0), lowerBetter: lower, best: best, bestEpoch: -1}
}

// lowerIsBetter reports whether smaller values of metric are improvements.
func lowerIsBetter(metric string) bool {
	m := strings.ToLower(metric)
	return strings.HasSuffix(m, "loss") || strings.HasSuffix(m, "perplexity") ||
		strings.HasSuffix(m, "ter") || strings.HasSuffix(m, "error")
}

// observe records the metrics of one evaluation and reports whether training
// should stop.
func (s *earlyStopper) observe(epoch int, metrics map[string]float64) bool {
	if s == nil {
		return false
	}
	v, ok := metrics[s.metric]
	if !ok {
		if !s.warned {
			klog.Warningf("Early stopping metric %q was not reported by any callback", s.metric)
			s.warned = true
		}
		return false
	}
	improved := v > s.best
	if s.lowerBetter {
		improved = v < s.best
	}
	if improved {
		s.best, s.bestEpoch, s.bad = v, epoch, 0
		return false
	}
	s.bad++
	klog.V(1).Infof("%s did not improve (%.5f, best %.5f at epoch %d), %d/%d",
		s.metric, v, s.best, s.bestEpoch, s.bad, s.patience)
	return s.bad >= max(s.patience, 1)
}

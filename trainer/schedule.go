package trainer

import (
	"math"

	"github.com/pkg/errors"
)

// Reducer types accepted in lr_reducer_type.
const (
	ReducerLinear      = "linear"
	ReducerExponential = "exponential"
	ReducerNoam        = "noam"
)

// Schedule reduces the learning rate every LRDecay units, where a unit is an
// epoch when ReduceEachEpochs is set and an update otherwise.
type Schedule struct {
	kind       string
	decay      int
	startEpoch int
	initial    float64
	gamma      float64
	halfLife   float64
	warmupExp  float64
	minLR      float64
}

// NewSchedule validates the reducer settings of p.
func NewSchedule(p Params) (*Schedule, error) {
	s := &Schedule{
		kind:       p.LRReducerType,
		startEpoch: p.StartReductionOnEpoch,
		initial:    p.InitialLR,
		gamma:      p.LRGamma,
		halfLife:   p.LRHalfLife,
		warmupExp:  p.LRWarmupExp,
		minLR:      p.MinLR,
	}
	if s.kind == "" {
		s.kind = ReducerLinear
	}
	switch s.kind {
	case ReducerLinear, ReducerNoam:
	case ReducerExponential:
		if p.LRReducerExpBase > 0 {
			s.gamma = p.LRReducerExpBase
		}
	default:
		return nil, errors.Wrapf(ErrUnknownReducer, "%q", p.LRReducerType)
	}
	if p.LRDecay != nil {
		s.decay = *p.LRDecay
	}
	if s.halfLife <= 0 {
		s.halfLife = 1
	}
	return s, nil
}

// Enabled reports whether any reduction happens at all.
func (s *Schedule) Enabled() bool { return s.decay > 0 }

// Next returns the learning rate after units reduction units have elapsed
// during epoch. current is returned unchanged off the reduction period.
func (s *Schedule) Next(current float64, epoch, units int) float64 {
	if s.decay <= 0 || epoch < s.startEpoch || units <= 0 || units%s.decay != 0 {
		return current
	}
	var lr float64
	switch s.kind {
	case ReducerExponential:
		lr = s.initial * math.Pow(s.gamma, float64(units)/s.halfLife)
	case ReducerNoam:
		t := float64(units)
		lr = s.initial * math.Min(math.Pow(t, -0.5), t*math.Pow(s.halfLife, s.warmupExp))
	default:
		lr = current * s.gamma
	}
	return math.Max(lr, s.minLR)
}

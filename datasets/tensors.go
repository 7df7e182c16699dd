package datasets

import (
	"io"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// CaptionBatchFlat stores a batch in contiguous buffers, row-major.
type CaptionBatchFlat struct {
	Features   []float32
	StateBelow []int32
	Targets    []int32
	BatchSize  int
	FeatureDim int
	MaxLen     int
}

// MakeCaptionBatchFlat flattens samples into contiguous buffers.
func MakeCaptionBatchFlat(samples []Sample) (*CaptionBatchFlat, error) {
	if len(samples) == 0 {
		return &CaptionBatchFlat{}, nil
	}
	featDim := len(samples[0].Features)
	maxLen := len(samples[0].Target)
	b := &CaptionBatchFlat{
		Features:   make([]float32, len(samples)*featDim),
		StateBelow: make([]int32, len(samples)*maxLen),
		Targets:    make([]int32, len(samples)*maxLen),
		BatchSize:  len(samples),
		FeatureDim: featDim,
		MaxLen:     maxLen,
	}
	for i, s := range samples {
		if len(s.Features) != featDim {
			return nil, errors.Errorf("inconsistent feature dimensions at example %d: expected %d, got %d",
				i, featDim, len(s.Features))
		}
		if len(s.Target) != maxLen || len(s.StateBelow) != maxLen {
			return nil, errors.Errorf("inconsistent caption length at example %d: expected %d, got %d/%d",
				i, maxLen, len(s.Target), len(s.StateBelow))
		}
		copy(b.Features[i*featDim:], s.Features)
		copy(b.StateBelow[i*maxLen:], s.StateBelow)
		copy(b.Targets[i*maxLen:], s.Target)
	}
	return b, nil
}

// ToGomlxTensors converts the batch to gomlx tensors in declared stream order:
// inputs are [features (B×F float32), state_below (B×L int32)], labels
// [targets (B×L int32)].
func (b *CaptionBatchFlat) ToGomlxTensors() (inputs, labels []*tensors.Tensor) {
	feats := make([][]float32, b.BatchSize)
	below := make([][]int32, b.BatchSize)
	targets := make([][]int32, b.BatchSize)
	for i := range b.BatchSize {
		feats[i] = b.Features[i*b.FeatureDim : (i+1)*b.FeatureDim]
		below[i] = b.StateBelow[i*b.MaxLen : (i+1)*b.MaxLen]
		targets[i] = b.Targets[i*b.MaxLen : (i+1)*b.MaxLen]
	}
	inputs = []*tensors.Tensor{tensors.FromAnyValue(feats), tensors.FromAnyValue(below)}
	labels = []*tensors.Tensor{tensors.FromAnyValue(targets)}
	return inputs, labels
}

// Tensors reads samples of split and returns them as gomlx tensors.
func (d *CaptionDataset) Tensors(split string, indices []int) (inputs, labels []*tensors.Tensor, err error) {
	samples, err := d.Batch(split, indices)
	if err != nil {
		return nil, nil, err
	}
	flat, err := MakeCaptionBatchFlat(samples)
	if err != nil {
		return nil, nil, err
	}
	inputs, labels = flat.ToGomlxTensors()
	return inputs, labels, nil
}

// MappedTensors returns the inputs of split ordered by slots, each slot taking
// the input position mapping binds it to. Labels keep the declared order.
func (d *CaptionDataset) MappedTensors(split string, indices []int, slots []string, mapping map[string]int) (inputs, labels []*tensors.Tensor, err error) {
	declared, labels, err := d.Tensors(split, indices)
	if err != nil {
		return nil, nil, err
	}
	inputs = make([]*tensors.Tensor, len(slots))
	for i, slot := range slots {
		pos, ok := mapping[slot]
		if !ok || pos < 0 || pos >= len(declared) {
			return nil, nil, errors.Wrapf(ErrUnknownID, "slot %q is not bound to an input of %v", slot, d.idsInputs)
		}
		inputs[i] = declared[pos]
	}
	return inputs, labels, nil
}

// Yield returns the next BatchSize training samples as gomlx tensors, following
// gomlx's train.Dataset contract: io.EOF marks the end of an epoch, after which
// Reset must be called.
func (d *CaptionDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	n := d.Len(SplitTrain)
	if d.yieldPos >= n {
		return nil, nil, nil, io.EOF
	}
	end := min(d.yieldPos+max(d.BatchSize, 1), n)
	indices := make([]int, 0, end-d.yieldPos)
	for i := d.yieldPos; i < end; i++ {
		indices = append(indices, i)
	}
	d.yieldPos = end
	inputs, labels, err = d.Tensors(SplitTrain, indices)
	if err != nil {
		return nil, nil, nil, err
	}
	return d.Name, inputs, labels, nil
}

// Reset restarts Yield from the first training sample.
func (d *CaptionDataset) Reset() {
	d.yieldPos = 0
}

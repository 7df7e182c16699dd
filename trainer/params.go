package trainer

import "github.com/pkg/errors"

// Params are the hyperparameters of one call to Run.
type Params struct {
	NEpochs            int
	BatchSize          int
	HomogeneousBatches bool
	MaxLen             int
	JointBatches       int

	// LRDecay is the reduction period in units (epochs or updates). Nil disables
	// learning rate reduction.
	LRDecay               *int
	InitialLR             float64
	ReduceEachEpochs      bool
	StartReductionOnEpoch int
	LRGamma               float64
	LRReducerType         string
	LRReducerExpBase      float64
	LRHalfLife            float64
	LRWarmupExp           float64
	MinLR                 float64

	EpochsForSave    int
	Verbose          int
	EvalOnSets       []string
	NParallelLoaders int
	ExtraCallbacks   []Callback
	ReloadEpoch      int
	EpochOffset      int
	DataAugmentation bool

	// MetricCheck names the metric watched for early stopping; empty disables it.
	MetricCheck      string
	Patience         int
	EvalOnEpochs     bool
	EachNEpochs      int
	StartEvalOnEpoch int

	Tensorboard       bool
	NGPUs             int
	TensorboardParams TensorboardParams

	// Seed drives shuffling and augmentation noise.
	Seed int64
}

// TensorboardParams configure the training monitor.
type TensorboardParams struct {
	LogDir                       string
	HistogramFreq                int
	BatchSize                    int
	WriteGraph                   bool
	WriteGrads                   bool
	WriteImages                  bool
	EmbeddingsFreq               int
	EmbeddingsLayerNames         []string
	EmbeddingsMetadata           string
	LabelWordEmbeddingsWithVocab bool
	WordEmbeddingsLabels         []string
}

func (p *Params) validate() error {
	switch {
	case p.BatchSize <= 0:
		return errors.Wrapf(ErrBadParams, "batch_size must be positive, got %d", p.BatchSize)
	case p.NEpochs < 0:
		return errors.Wrapf(ErrBadParams, "n_epochs must not be negative, got %d", p.NEpochs)
	case p.LRDecay != nil && *p.LRDecay <= 0:
		return errors.Wrapf(ErrBadParams, "lr_decay must be positive, got %d", *p.LRDecay)
	}
	return nil
}

// firstEpoch is the 0-based epoch index training starts from.
func (p *Params) firstEpoch() int {
	return max(p.EpochOffset, p.ReloadEpoch, 0)
}

package training

import (
	"github.com/Noofbiz/captioner/config"
	"github.com/Noofbiz/captioner/trainer"
)

// NewTrainingParams reads the trainer hyperparameters from p. Optional keys
// fall back to their defaults; extra callbacks are attached as given.
func NewTrainingParams(p config.Params, cbs []trainer.Callback) (trainer.Params, error) {
	r := config.NewReader(p)
	batchSize := r.Int("BATCH_SIZE")
	tp := trainer.Params{
		NEpochs:            r.Int("MAX_EPOCH"),
		BatchSize:          batchSize,
		HomogeneousBatches: r.Bool("HOMOGENEOUS_BATCHES"),
		MaxLen:             r.Int("MAX_OUTPUT_TEXT_LEN"),
		JointBatches:       r.Int("JOINT_BATCHES"),

		LRDecay:               r.OptionalInt("LR_DECAY"),
		InitialLR:             r.FloatOr("LR", 1.0),
		ReduceEachEpochs:      r.BoolOr("LR_REDUCE_EACH_EPOCHS", true),
		StartReductionOnEpoch: r.IntOr("LR_START_REDUCTION_ON_EPOCH", 0),
		LRGamma:               r.FloatOr("LR_GAMMA", 0.9),
		LRReducerType:         r.StringOr("LR_REDUCER_TYPE", trainer.ReducerLinear),
		LRReducerExpBase:      r.FloatOr("LR_REDUCER_EXP_BASE", 0),
		LRHalfLife:            r.FloatOr("LR_HALF_LIFE", 50000),
		LRWarmupExp:           r.FloatOr("WARMUP_EXP", -1.5),
		MinLR:                 r.FloatOr("MIN_LR", 1e-9),

		EpochsForSave:    r.Int("EPOCHS_FOR_SAVE"),
		Verbose:          r.Int("VERBOSE"),
		EvalOnSets:       r.Strings("EVAL_ON_SETS_KERAS"),
		NParallelLoaders: r.Int("PARALLEL_LOADERS"),
		ExtraCallbacks:   cbs,
		ReloadEpoch:      r.Int("RELOAD"),
		EpochOffset:      r.IntOr("EPOCH_OFFSET", 0),
		DataAugmentation: r.Bool("DATA_AUGMENTATION"),

		Patience:         r.IntOr("PATIENCE", 0),
		EvalOnEpochs:     r.BoolOr("EVAL_EACH_EPOCHS", true),
		EachNEpochs:      r.IntOr("EVAL_EACH", 1),
		StartEvalOnEpoch: r.IntOr("START_EVAL_ON_EPOCH", 0),

		Tensorboard: r.BoolOr("TENSORBOARD", false),
		NGPUs:       r.IntOr("N_GPUS", 1),
		TensorboardParams: trainer.TensorboardParams{
			LogDir:                       r.StringOr("LOG_DIR", "tensorboard_logs"),
			HistogramFreq:                r.IntOr("HISTOGRAM_FREQ", 0),
			BatchSize:                    r.IntOr("TENSORBOARD_BATCH_SIZE", batchSize),
			WriteGraph:                   r.BoolOr("WRITE_GRAPH", true),
			WriteGrads:                   r.BoolOr("WRITE_GRADS", false),
			WriteImages:                  r.BoolOr("WRITE_IMAGES", false),
			EmbeddingsFreq:               r.IntOr("EMBEDDINGS_FREQ", 0),
			EmbeddingsLayerNames:         r.StringsOr("EMBEDDINGS_LAYER_NAMES", nil),
			EmbeddingsMetadata:           r.StringOr("EMBEDDINGS_METADATA", ""),
			LabelWordEmbeddingsWithVocab: r.BoolOr("LABEL_WORD_EMBEDDINGS_WITH_VOCAB", false),
			WordEmbeddingsLabels:         r.StringsOr("WORD_EMBEDDINGS_LABELS", nil),
		},

		Seed: int64(r.IntOr("SEED", 0)),
	}
	if r.BoolOr("EARLY_STOP", false) {
		tp.MetricCheck = r.StringOr("STOP_METRIC", "")
	}
	if err := r.Err(); err != nil {
		return trainer.Params{}, err
	}
	return tp, nil
}

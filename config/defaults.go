package config

// Defaults returns a complete bundle for a small captioning run. Callers merge a
// file and command line overrides on top of it.
func Defaults() Params {
	return Params{
		// dataset
		"DATASET_NAME":                 "captions",
		"DATA_ROOT_PATH":               "data",
		"CAPTIONS_FILE":                "captions.csv",
		"FEATURES_FILE":                "features.csv",
		"DATASET_STORE_PATH":           "datasets",
		"REBUILD_DATASET":              false,
		"INPUTS_IDS_DATASET":           []any{"video", "state_below"},
		"OUTPUTS_IDS_DATASET":          []any{"description"},
		"TOKENIZATION_METHOD":          "tokenize_basic",
		"MIN_OCCURRENCES_OUTPUT_VOCAB": int64(0),
		"MAX_OUTPUT_VOCABULARY_SIZE":   int64(0),
		"MAX_OUTPUT_TEXT_LEN":          int64(20),

		// model
		"MODEL_TYPE":                "MLP_Captioner",
		"MODEL_NAME":                "captioner",
		"STORE_PATH":                "trained_models/captioner",
		"WORD_EMBEDDING_SIZE":       int64(32),
		"HIDDEN_SIZES":              []any{int64(128)},
		"OPTIMIZER":                 "adam",
		"LR":                        0.001,
		"CLIP_C":                    5.0,
		"BETA_1":                    0.9,
		"BETA_2":                    0.999,
		"EPSILON":                   1e-8,
		"SEED":                      int64(42),
		"CHECKPOINT_HALF_PRECISION": false,
		"RELOAD":                    int64(0),
		"VERBOSE":                   int64(1),

		// training
		"MAX_EPOCH":             int64(10),
		"BATCH_SIZE":            int64(32),
		"HOMOGENEOUS_BATCHES":   false,
		"JOINT_BATCHES":         int64(4),
		"EPOCHS_FOR_SAVE":       int64(1),
		"EVAL_ON_SETS_KERAS":    []any{},
		"PARALLEL_LOADERS":      int64(1),
		"DATA_AUGMENTATION":     false,
		"LR_DECAY":              nil,
		"LR_GAMMA":              0.9,
		"LR_REDUCER_TYPE":       "linear",
		"LR_REDUCE_EACH_EPOCHS": true,
		"MIN_LR":                1e-9,

		// evaluation and early stopping
		"EVAL_ON_SETS":        []any{"val"},
		"METRICS":             []any{"perplexity", "accuracy"},
		"EVAL_EACH_EPOCHS":    true,
		"EVAL_EACH":           int64(1),
		"START_EVAL_ON_EPOCH": int64(0),
		"EARLY_STOP":          false,
		"PATIENCE":            int64(5),
		"STOP_METRIC":         "perplexity",
		"SAMPLE_ON_SETS":      []any{"val"},
		"N_SAMPLES":           int64(3),

		// monitoring
		"TENSORBOARD": false,
		"LOG_DIR":     "tensorboard_logs",
		"N_GPUS":      int64(1),
	}
}

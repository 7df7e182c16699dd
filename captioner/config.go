package captioner

import (
	"time"

	"github.com/Noofbiz/captioner/config"
	"github.com/pkg/errors"
)

// Model types understood by NewCaptioningModel.
const (
	TypeMLP    = "MLP_Captioner"
	TypeLinear = "Linear_Captioner"
)

// Config holds the architecture and optimizer settings of a Model.
type Config struct {
	ModelType string
	Name      string
	StorePath string
	Verbose   int

	// FeatureDim is the length of the video feature vector. Zero means it is
	// taken from the first batch the model sees.
	FeatureDim    int
	EmbeddingSize int
	// HiddenSizes lists the hidden layer sizes; empty for Linear_Captioner.
	HiddenSizes []int
	VocabSize   int

	// Optimizer is "adam" or "sgd".
	Optimizer string
	ClipNorm  float64
	Beta1     float64
	Beta2     float64
	Epsilon   float64

	Seed          int64
	HalfPrecision bool
}

// ConfigFromParams reads the model keys of a parameter bundle.
func ConfigFromParams(p config.Params, modelType string, verbose int, name, storePath string) (Config, error) {
	r := config.NewReader(p)
	cfg := Config{
		ModelType:     modelType,
		Name:          name,
		StorePath:     storePath,
		Verbose:       verbose,
		FeatureDim:    r.IntOr("FEATURE_SIZE", 0),
		EmbeddingSize: r.IntOr("WORD_EMBEDDING_SIZE", 32),
		HiddenSizes:   r.IntsOr("HIDDEN_SIZES", []int{128}),
		Optimizer:     r.StringOr("OPTIMIZER", "adam"),
		ClipNorm:      r.FloatOr("CLIP_C", 5),
		Beta1:         r.FloatOr("BETA_1", 0.9),
		Beta2:         r.FloatOr("BETA_2", 0.999),
		Epsilon:       r.FloatOr("EPSILON", 1e-8),
		Seed:          int64(r.IntOr("SEED", 0)),
		HalfPrecision: r.BoolOr("CHECKPOINT_HALF_PRECISION", false),
	}
	if err := r.Err(); err != nil {
		return Config{}, err
	}
	switch modelType {
	case TypeMLP:
		if len(cfg.HiddenSizes) == 0 {
			cfg.HiddenSizes = []int{128}
		}
	case TypeLinear:
		cfg.HiddenSizes = nil
	default:
		return Config{}, errors.Wrapf(ErrUnknownModelType, "%q", modelType)
	}
	if cfg.EmbeddingSize <= 0 {
		return Config{}, errors.Errorf("WORD_EMBEDDING_SIZE must be positive, got %d", cfg.EmbeddingSize)
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return cfg, nil
}

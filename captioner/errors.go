package captioner

import "github.com/pkg/errors"

var (
	// ErrUnknownModelType is returned by NewCaptioningModel for an unsupported MODEL_TYPE.
	ErrUnknownModelType = errors.New("unknown model type")

	// ErrUnknownOptimizer is returned by SetOptimizer for an unsupported OPTIMIZER.
	ErrUnknownOptimizer = errors.New("unknown optimizer")

	// ErrCheckpointFormat is returned when a checkpoint was written by an
	// incompatible version.
	ErrCheckpointFormat = errors.New("unsupported checkpoint format")

	// ErrNotMapped is returned when a slot has no binding or is bound to a
	// dataset stream of the wrong kind.
	ErrNotMapped = errors.New("model inputs/outputs are not mapped to the dataset")

	// ErrShape is returned when a batch does not match the model dimensions.
	ErrShape = errors.New("batch does not match model shape")
)

package trainer

import "github.com/pkg/errors"

var (
	// ErrUnknownReducer is returned for an lr_reducer_type other than linear,
	// exponential or noam.
	ErrUnknownReducer = errors.New("unknown learning rate reducer")

	// ErrNoTrainData is returned when the train split is empty.
	ErrNoTrainData = errors.New("no training samples")

	// ErrBadParams is returned when a hyperparameter is out of range.
	ErrBadParams = errors.New("invalid training parameters")
)

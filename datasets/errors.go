package datasets

import "github.com/pkg/errors"

var (
	// ErrUnknownID is returned when a vocabulary or stream id is not declared.
	ErrUnknownID = errors.New("unknown dataset id")

	// ErrEmptySplit is returned when a split has no samples.
	ErrEmptySplit = errors.New("dataset split is empty")

	// ErrDatasetVersion is returned for stored datasets with an unknown format.
	ErrDatasetVersion = errors.New("stored dataset version mismatch")
)

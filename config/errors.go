package config

import "github.com/pkg/errors"

var (
	// ErrMissingParam is returned when a required key is absent from the bundle.
	ErrMissingParam = errors.New("missing required parameter")

	// ErrParamType is returned when a key holds a value of an unexpected type.
	ErrParamType = errors.New("parameter has unexpected type")

	// ErrConfigVersion is returned when a persisted bundle has an unknown format version.
	ErrConfigVersion = errors.New("config file version mismatch")

	// ErrBadOverride is returned for command line overrides not shaped like KEY=VALUE.
	ErrBadOverride = errors.New("override must have the form KEY=VALUE")
)

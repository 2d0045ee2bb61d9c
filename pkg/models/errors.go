package models

import "errors"

var (
	// ErrConfigurationInvalid is returned by Build when a configuration cannot
	// be turned into a network, for example when a kernel is larger than the
	// spatial extent left by the preceding layers.
	ErrConfigurationInvalid = errors.New("configuration invalid")

	// ErrTrainingFailure is returned by Fit when training diverges to a
	// non-finite loss.
	ErrTrainingFailure = errors.New("training failure")
)

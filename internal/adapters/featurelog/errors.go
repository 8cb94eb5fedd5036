package featurelog

import "errors"

// Sentinel kinds for feature log errors.
var (
	ErrInvalidLog     = errors.New("invalid feature log")
	ErrMissingFeature = errors.New("feature missing from log")
)

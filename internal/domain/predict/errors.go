package predict

import "errors"

// Sentinel kinds for model loading and prediction errors.
var (
	ErrResourceNotFound   = errors.New("predictor resource not found")
	ErrDeserialization    = errors.New("manifest deserialization failed")
	ErrInvalidModelConfig = errors.New("invalid model config")
	ErrDimensionMismatch  = errors.New("feature vector dimension mismatch")
	ErrAssetClosed        = errors.New("asset is closed")
)

package predict

import (
	"fmt"
	"math"

	"github.com/okian/vmafmotion/pkg/metrics"
)

// Interval is a confidence interval around a score.
type Interval struct {
	Lower float64
	Upper float64
}

// Score is the output of Predict. CI is set only for assets loaded with
// FlagEnableCI.
type Score struct {
	Value float64
	CI    *Interval
}

// Clip limits x to [lo, hi]. NaN passes through.
func Clip(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

// Predict maps a feature vector to a score: the numerical predictor runs
// on the normalized features, then the transform is applied if enabled,
// then the result is clipped unless clipping is disabled. Interval bounds
// get the same treatment. The vector length must equal the feature table
// length; nothing is computed otherwise.
func Predict(a *Asset, features []float64) (Score, error) {
	if !a.Loaded() {
		return Score{}, ErrAssetClosed
	}
	if len(features) != len(a.features) {
		metrics.RecordPredictionError(a.name)
		return Score{}, fmt.Errorf("%w: got %d values, %s expects %d", ErrDimensionMismatch, len(features), a.name, len(a.features))
	}

	x := make([]float64, len(features))
	for i, f := range a.features {
		x[i] = f.Slope*features[i] + f.Intercept
	}

	s := Score{Value: a.post(a.model.predict(x))}
	if a.ciLower != nil && a.ciUpper != nil {
		s.CI = &Interval{
			Lower: a.post(a.ciLower.predict(x)),
			Upper: a.post(a.ciUpper.predict(x)),
		}
	}
	metrics.RecordPrediction(a.name)
	return s, nil
}

// post applies transform then clip, as enabled.
func (a *Asset) post(v float64) float64 {
	if a.transform != nil {
		v = a.transform.Apply(v)
	}
	if a.clip != nil {
		v = Clip(v, a.clip.Lo, a.clip.Hi)
	}
	return v
}

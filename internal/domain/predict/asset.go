// Package predict loads trained quality predictors and maps feature vectors
// to quality scores through them.
package predict

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/okian/vmafmotion/pkg/metrics"
)

// Feature is one named input of an asset. Index is its position in the
// feature vector.
type Feature struct {
	Name      string
	Index     int
	Slope     float64
	Intercept float64
}

// Asset is a loaded predictor: the numerical model plus everything its
// manifest enabled. The zero value and a nil *Asset are closed assets.
type Asset struct {
	path      string
	name      string
	flags     Flags
	features  []Feature
	model     *svr
	transform *Transform
	clip      *Range
	ciLower   *svr
	ciUpper   *svr
}

// Load builds an asset from cfg. The numerical predictor is read from
// cfg.Path + ModelSuffix, and the manifest from cfg.Path. On failure
// everything loaded so far is released and a nil asset is returned.
func Load(ctx context.Context, cfg ModelConfig) (*Asset, error) {
	a, err := load(ctx, cfg)
	if err != nil {
		metrics.RecordModelLoadFailure(failureKind(err))
		return nil, err
	}
	metrics.RecordModelLoad()
	return a, nil
}

func load(ctx context.Context, cfg ModelConfig) (*Asset, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a := &Asset{path: cfg.Path, name: cfg.Name, flags: cfg.Flags}
	if a.name == "" {
		a.name = defaultName(cfg.Path)
	}

	model, err := loadSVR(cfg.Path + ModelSuffix)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("%w: %w", ErrResourceNotFound, err)
	}
	a.model = model

	if err := a.loadManifest(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *Asset) loadManifest(ctx context.Context) error {
	raw, err := os.ReadFile(a.path)
	if err != nil {
		return fmt.Errorf("%w: read manifest: %w", ErrDeserialization, err)
	}
	m, err := DecodeManifest(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", a.path, err)
	}
	if a.model.dim > len(m.Features) {
		return fmt.Errorf("%w: model references feature %d of %d", ErrDeserialization, a.model.dim, len(m.Features))
	}

	a.features = make([]Feature, len(m.Features))
	for i, f := range m.Features {
		a.features[i] = Feature{Name: f.Name, Index: i, Slope: f.Slope, Intercept: f.Intercept}
	}

	if a.flags.Has(FlagEnableTransform) {
		if m.Transform == nil {
			return fmt.Errorf("%w: transform enabled but absent", ErrDeserialization)
		}
		t := *m.Transform
		a.transform = &t
	}
	if !a.flags.Has(FlagDisableClip) {
		if m.Clip == nil {
			return fmt.Errorf("%w: clip enabled but absent", ErrDeserialization)
		}
		r := *m.Clip
		a.clip = &r
	}
	if a.flags.Has(FlagEnableCI) {
		if err := ctx.Err(); err != nil {
			return err
		}
		dir := filepath.Dir(a.path)
		for _, side := range []struct {
			bound Bound
			dst   **svr
		}{{BoundLower, &a.ciLower}, {BoundUpper, &a.ciUpper}} {
			res, ok := m.Interval(side.bound)
			if !ok {
				return fmt.Errorf("%w: confidence interval enabled but bound %d absent", ErrDeserialization, side.bound)
			}
			sub, err := loadSVR(filepath.Join(dir, res))
			if err != nil {
				return fmt.Errorf("%w: ci bound %d: %w", ErrDeserialization, side.bound, err)
			}
			if sub.dim > len(a.features) {
				return fmt.Errorf("%w: ci bound %d references feature %d of %d", ErrDeserialization, side.bound, sub.dim, len(a.features))
			}
			*side.dst = sub
		}
	}
	return nil
}

func loadSVR(path string) (*svr, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	m, err := parseSVR(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Close releases everything the asset owns. It is safe on a nil asset and
// safe to call more than once.
func (a *Asset) Close() {
	if a == nil {
		return
	}
	a.model = nil
	a.ciLower = nil
	a.ciUpper = nil
	a.transform = nil
	a.clip = nil
	a.features = nil
	a.path = ""
	a.name = ""
}

// Loaded reports whether the asset holds a predictor.
func (a *Asset) Loaded() bool { return a != nil && a.model != nil }

// Name returns the asset's name.
func (a *Asset) Name() string {
	if a == nil {
		return ""
	}
	return a.name
}

// Path returns the asset's base path.
func (a *Asset) Path() string {
	if a == nil {
		return ""
	}
	return a.path
}

// Flags returns the flags the asset was loaded with.
func (a *Asset) Flags() Flags {
	if a == nil {
		return 0
	}
	return a.flags
}

// Features returns a copy of the feature table in index order.
func (a *Asset) Features() []Feature {
	if a == nil {
		return nil
	}
	return append([]Feature(nil), a.features...)
}

// FeatureNames returns the feature names in index order.
func (a *Asset) FeatureNames() []string {
	if a == nil {
		return nil
	}
	names := make([]string, len(a.features))
	for i, f := range a.features {
		names[i] = f.Name
	}
	return names
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, ErrResourceNotFound):
		return "not_found"
	case errors.Is(err, ErrDeserialization):
		return "deserialization"
	case errors.Is(err, ErrInvalidModelConfig):
		return "config"
	default:
		return "other"
	}
}

package predict

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Flags select optional stages of the prediction pipeline.
type Flags uint32

// Model flags.
const (
	FlagDisableClip Flags = 1 << iota
	FlagEnableTransform
	FlagEnableCI
)

// DefaultFlags is the flag set of a freshly parsed model config. It
// disables clipping.
const DefaultFlags = FlagDisableClip

// Has reports whether every bit of f2 is set in f.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

func (f Flags) String() string {
	var parts []string
	if f.Has(FlagDisableClip) {
		parts = append(parts, "disable_clip")
	}
	if f.Has(FlagEnableTransform) {
		parts = append(parts, "enable_transform")
	}
	if f.Has(FlagEnableCI) {
		parts = append(parts, "enable_ci")
	}
	return strings.Join(parts, ":")
}

// ModelConfig names a predictor asset and how to apply it.
type ModelConfig struct {
	Path  string
	Name  string
	Flags Flags
}

// DefaultModelConfig returns a config for path with default flags.
func DefaultModelConfig(path string) ModelConfig {
	return ModelConfig{Path: path, Name: defaultName(path), Flags: DefaultFlags}
}

// ParseModelConfig parses a token string of the form
// path=<P>[:name=<N>][:disable_clip][:enable_transform][:enable_ci].
// Flag tokens are ORed into DefaultFlags.
func ParseModelConfig(s string) (ModelConfig, error) {
	cfg := ModelConfig{Flags: DefaultFlags}
	pathSet := false
	for _, tok := range strings.Split(s, ":") {
		key, value, hasValue := strings.Cut(tok, "=")
		switch key {
		case "path":
			if !hasValue || value == "" {
				return ModelConfig{}, fmt.Errorf("%w: empty path in %q", ErrInvalidModelConfig, s)
			}
			cfg.Path, pathSet = value, true
		case "name":
			if !hasValue || value == "" {
				return ModelConfig{}, fmt.Errorf("%w: empty name in %q", ErrInvalidModelConfig, s)
			}
			cfg.Name = value
		case "disable_clip", "enable_transform", "enable_ci":
			if hasValue {
				return ModelConfig{}, fmt.Errorf("%w: %s takes no value", ErrInvalidModelConfig, key)
			}
			cfg.Flags |= flagByName[key]
		default:
			return ModelConfig{}, fmt.Errorf("%w: unknown parameter %q", ErrInvalidModelConfig, tok)
		}
	}
	if !pathSet {
		return ModelConfig{}, fmt.Errorf("%w: path is required in %q", ErrInvalidModelConfig, s)
	}
	if cfg.Name == "" {
		cfg.Name = defaultName(cfg.Path)
	}
	return cfg, nil
}

// Validate reports whether the config can be loaded.
func (c ModelConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidModelConfig)
	}
	if c.Flags&^(FlagDisableClip|FlagEnableTransform|FlagEnableCI) != 0 {
		return fmt.Errorf("%w: unknown flags %#x", ErrInvalidModelConfig, uint32(c.Flags))
	}
	return nil
}

var flagByName = map[string]Flags{
	"disable_clip":     FlagDisableClip,
	"enable_transform": FlagEnableTransform,
	"enable_ci":        FlagEnableCI,
}

// defaultName is the base name of path without its extension.
func defaultName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

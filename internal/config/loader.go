package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment setting.
const EnvPrefix = "VMAF_"

// EnvConfigFile names the environment variable holding the YAML file path.
const EnvConfigFile = EnvPrefix + "CONFIG"

// listKeys are split on commas when read from the environment.
var listKeys = map[string]bool{"features": true, "imports": true, "metrics_buckets": true}

// labelsKey is read from the environment as comma separated name=value pairs.
const labelsKey = "metrics_labels"

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if VMAF_CONFIG is set
//  3. env (prefix VMAF_)
func Load(ctx context.Context) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// VMAF_LOG_LEVEL -> log_level. Lists other than models are comma
	// separated; a model token already uses colons, so VMAF_MODELS holds one.
	envProvider := env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, any) {
		key = strings.TrimPrefix(strings.ToLower(key), strings.ToLower(EnvPrefix))
		if key == "config" {
			return "", nil
		}
		if listKeys[key] {
			return key, splitList(value)
		}
		if key == labelsKey {
			labels := make(map[string]any)
			for _, pair := range splitList(value) {
				name, val, _ := strings.Cut(pair, "=")
				labels[strings.TrimSpace(name)] = strings.TrimSpace(val)
			}
			return key, labels
		}
		return key, value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

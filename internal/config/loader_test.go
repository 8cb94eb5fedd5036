package config_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/okian/vmafmotion/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.LogLevel, convey.ShouldEqual, "info")
				convey.So(cfg.Mode, convey.ShouldEqual, "all_frames")
				convey.So(cfg.Clips, convey.ShouldBeEmpty)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("VMAF_LOG_LEVEL", "debug")
			_ = os.Setenv("VMAF_WORKERS", "3")
			_ = os.Setenv("VMAF_MODE", "all_local_frames")
			_ = os.Setenv("VMAF_CELL_DIFFS", "true")
			_ = os.Setenv("VMAF_FEATURES", "adm2, motion2")
			_ = os.Setenv("VMAF_MODELS", "path=/m/vmaf.json:enable_ci")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.LogLevel, convey.ShouldEqual, "debug")
				convey.So(cfg.Workers, convey.ShouldEqual, 3)
				convey.So(cfg.Mode, convey.ShouldEqual, "all_local_frames")
				convey.So(cfg.CellDiffs, convey.ShouldBeTrue)
				convey.So(cfg.Features, convey.ShouldResemble, []string{"adm2", "motion2"})
				convey.So(cfg.Models, convey.ShouldResemble, []string{"path=/m/vmaf.json:enable_ci"})
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			yamlContent := `
# clips to analyze
log_format: json
memory_limit_bytes: 1048576
motion_map: /data/cells.txt
clips:
  - path: /data/a.yuv
    width: 1920
    height: 1080
    fps: 23.976
  - path: /data/b.yuv
    width: 640
    height: 360
    fps: 30
    pix_fmt: yuv444p
models:
  - path=/m/vmaf.json
imports: [/data/a.features.yaml]
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("VMAF_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.LogFormat, convey.ShouldEqual, "json")
				convey.So(cfg.MemoryLimitBytes, convey.ShouldEqual, 1<<20)
				convey.So(cfg.MotionMap, convey.ShouldEqual, "/data/cells.txt")
				convey.So(cfg.Clips, convey.ShouldHaveLength, 2)
				convey.So(cfg.Clips[0].FPS, convey.ShouldEqual, 23.976)
				convey.So(cfg.Clips[1].PixFmt, convey.ShouldEqual, "yuv444p")
				convey.So(cfg.Imports, convey.ShouldResemble, []string{"/data/a.features.yaml"})
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
log_level: warn
workers: 8
mode: all_local_frames
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("VMAF_CONFIG", tmpFile)
			_ = os.Setenv("VMAF_WORKERS", "2") // This should override the file
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Workers, convey.ShouldEqual, 2)               // Overridden by env
				convey.So(cfg.LogLevel, convey.ShouldEqual, "warn")         // From file
				convey.So(cfg.Mode, convey.ShouldEqual, "all_local_frames") // From file
				convey.So(cfg.LogFormat, convey.ShouldEqual, "text")        // From defaults
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("VMAF_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("VMAF_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("VMAF_WORKERS", "not_a_number")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with an unknown search mode", func() {
			_ = os.Setenv("VMAF_MODE", "sometimes")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with an empty mode", func() {
			_ = os.Setenv("VMAF_MODE", "")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then the search should be disabled", func() {
				convey.So(err, convey.ShouldBeNil)
				_, enabled, _ := cfg.SearchMode()
				convey.So(enabled, convey.ShouldBeFalse)
			})
		})

		convey.Convey("When loading metrics settings from the environment", func() {
			_ = os.Setenv("VMAF_METRICS_ENABLED", "false")
			_ = os.Setenv("VMAF_METRICS_NAMESPACE", "lab")
			_ = os.Setenv("VMAF_METRICS_LABELS", "site=ci, host=a")
			_ = os.Setenv("VMAF_METRICS_BUCKETS", "0.01, 0.1, 1")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then they should be parsed into their types", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.MetricsEnabled, convey.ShouldBeFalse)
				convey.So(cfg.MetricsNamespace, convey.ShouldEqual, "lab")
				convey.So(cfg.MetricsLabels, convey.ShouldResemble, map[string]string{"site": "ci", "host": "a"})
				convey.So(cfg.MetricsBuckets, convey.ShouldResemble, []float64{0.01, 0.1, 1})
			})
		})

		convey.Convey("When loading metrics labels from a YAML file", func() {
			tmpFile := createTempConfigFile("metrics_labels:\n  site: ci\nmetrics_prefix: batch\n")
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("VMAF_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then the map should be loaded", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.MetricsEnabled, convey.ShouldBeTrue)
				convey.So(cfg.MetricsPrefix, convey.ShouldEqual, "batch")
				convey.So(cfg.MetricsLabels, convey.ShouldResemble, map[string]string{"site": "ci"})
			})
		})

		convey.Convey("When loading a metrics namespace Prometheus rejects", func() {
			_ = os.Setenv("VMAF_METRICS_NAMESPACE", "vmaf-motion")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with a cancelled context", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()

			cfg, err := config.Load(cctx)

			convey.Convey("Then it should return the context error", func() {
				convey.So(errors.Is(err, context.Canceled), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"VMAF_CONFIG",
		"VMAF_LOG_LEVEL",
		"VMAF_LOG_FORMAT",
		"VMAF_WORKERS",
		"VMAF_MODE",
		"VMAF_CELL_DIFFS",
		"VMAF_FEATURES",
		"VMAF_MODELS",
		"VMAF_IMPORTS",
		"VMAF_METRICS_ENABLED",
		"VMAF_METRICS_NAMESPACE",
		"VMAF_METRICS_LABELS",
		"VMAF_METRICS_BUCKETS",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "vmaf-config-*.yaml")
	if err != nil {
		panic(err)
	}

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}

	if err := tmpFile.Close(); err != nil {
		panic(err)
	}

	return tmpFile.Name()
}

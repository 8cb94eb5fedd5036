package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/okian/vmafmotion/internal/adapters/report"
	service "github.com/okian/vmafmotion/internal/app"
	"github.com/okian/vmafmotion/internal/config"
	"github.com/okian/vmafmotion/pkg/logger"
	"github.com/okian/vmafmotion/pkg/metrics"
)

func main() {
	// Logs go to stderr; stdout carries the diagnostic stream.
	if err := logger.InitWithFormat(logger.FormatText, os.Stderr); err != nil {
		_, _ = os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			_, _ = os.Stderr.WriteString("failed to sync logger: " + err.Error() + "\n")
		}
	}()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(2)
	}

	if err := configureLogging(cfg); err != nil {
		_, _ = os.Stderr.WriteString("failed to configure logging: " + err.Error() + "\n")
		os.Exit(2)
	}

	if err := run(ctx, cfg, os.Stdout); err != nil {
		logger.Get().Error(ctx, "run failed", logger.Error(err))
		stop()
		os.Exit(1)
	}
}

func configureLogging(cfg *config.Config) error {
	if err := logger.InitWithFormat(cfg.LogFormat, os.Stderr); err != nil {
		return err
	}
	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(context.Background(), "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return nil
}

// run analyzes the configured clips, scores the configured imports and
// writes the metrics textfile. stdout receives the diagnostic stream unless
// an output path is configured.
func run(ctx context.Context, cfg *config.Config, stdout io.Writer) (err error) {
	log := logger.Named("vmafmotion")
	if err := metrics.Init(cfg.MetricsOptions()...); err != nil {
		return fmt.Errorf("configure metrics: %w", err)
	}

	out := stdout
	if cfg.Output != "" {
		f, ferr := os.Create(cfg.Output)
		if ferr != nil {
			return fmt.Errorf("create output: %w", ferr)
		}
		defer func() { err = errors.Join(err, f.Close()) }()
		out = f
	}

	opts := []service.Option{
		service.WithLogger(log),
		service.WithWorkers(cfg.Workers),
		service.WithMemoryLimit(cfg.MemoryLimitBytes),
		service.WithMotionMap(cfg.MotionMap),
		service.WithCellDiffs(cfg.CellDiffs),
		service.WithFeatureDir(cfg.FeatureDir),
		service.WithReport(report.New(out)),
	}
	mode, searching, err := cfg.SearchMode()
	if err != nil {
		return err
	}
	if searching {
		opts = append(opts, service.WithSearchMode(mode))
	} else {
		opts = append(opts, service.WithoutSearch())
	}
	svc := service.New(opts...)
	defer func() { err = errors.Join(err, svc.Close()) }()

	if cfg.MetricsFile != "" {
		defer func() {
			if werr := metrics.WriteTextfile(cfg.MetricsFile); werr != nil {
				err = errors.Join(err, werr)
			}
		}()
	}

	if len(cfg.Clips) > 0 {
		results, err := svc.AnalyzeAll(ctx, cfg.Clips)
		if err != nil {
			return err
		}
		for _, r := range results {
			fields := []logger.Field{
				logger.String("run_id", r.RunID),
				logger.String("clip", r.Path),
				logger.Int("frames", r.Scan.FrameCount),
			}
			if r.Search != nil {
				fields = append(fields,
					logger.Float64("score", r.Search.Score),
					logger.Int("lower", r.Search.Lower),
					logger.Int("upper", r.Search.Upper),
				)
			}
			log.Info(ctx, "clip result", fields...)
		}
	}

	if len(cfg.Models) > 0 {
		mcs, err := cfg.ModelConfigs()
		if err != nil {
			return err
		}
		if err := svc.LoadModels(ctx, mcs); err != nil {
			return err
		}
		if len(cfg.Imports) > 0 {
			if _, err := svc.PredictImports(ctx, cfg.Imports, cfg.Features); err != nil {
				return err
			}
		}
	}
	return nil
}

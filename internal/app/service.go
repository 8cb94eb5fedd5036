// Package service runs analyses: per-clip motion scans and gap searches,
// and per-model predictions over imported feature logs.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/vmafmotion/internal/adapters/featurelog"
	"github.com/okian/vmafmotion/internal/adapters/framesource"
	"github.com/okian/vmafmotion/internal/adapters/report"
	"github.com/okian/vmafmotion/internal/config"
	"github.com/okian/vmafmotion/internal/domain/frame"
	"github.com/okian/vmafmotion/internal/domain/motion"
	"github.com/okian/vmafmotion/internal/domain/predict"
	"github.com/okian/vmafmotion/internal/domain/search"
	"github.com/okian/vmafmotion/pkg/logger"
)

// MotionFeature names the motion score column of exported feature logs.
const MotionFeature = "motion"

// ClipSource is a frame source the service owns for one invocation.
type ClipSource interface {
	frame.Source
	io.Closer
}

// SourceOpener opens the frames of a clip.
type SourceOpener func(ctx context.Context, clip config.Clip) (ClipSource, error)

// ClipResult is the outcome of one clip invocation.
type ClipResult struct {
	RunID string
	Path  string
	Scan  motion.ScanResult
	// Search is nil when the search is disabled or found no candidate.
	Search *search.Result
}

// PredictionResult holds one model's scores for one feature log.
type PredictionResult struct {
	RunID  string
	Model  string
	Import string
	Scores []predict.Score
}

// Service owns loaded models and the settings shared by every invocation.
// Each invocation allocates its own planes and frame source.
type Service struct {
	mu     sync.RWMutex
	models []*predict.Asset

	workers   int
	budget    int64
	mode      search.Mode
	searching bool
	motionMap string
	cellDiffs bool
	featDir   string
	open      SourceOpener
	report    *report.Writer

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkers sets how many clips are analyzed at once.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithMemoryLimit caps plane memory per invocation.
func WithMemoryLimit(bytes int64) Option {
	return func(s *Service) {
		if bytes > 0 {
			s.budget = bytes
		}
	}
}

// WithSearchMode enables the gap search in the given mode.
func WithSearchMode(m search.Mode) Option {
	return func(s *Service) {
		s.mode = m
		s.searching = true
	}
}

// WithoutSearch disables the gap search.
func WithoutSearch() Option {
	return func(s *Service) {
		s.searching = false
	}
}

// WithMotionMap restricts the gap search and the cell-diff lines to the
// cells listed in path. Scan scores always cover the full plane.
func WithMotionMap(path string) Option {
	return func(s *Service) {
		s.motionMap = path
	}
}

// WithCellDiffs emits per-cell differences of every frame pair.
func WithCellDiffs(enabled bool) Option {
	return func(s *Service) {
		s.cellDiffs = enabled
	}
}

// WithFeatureDir writes each clip's per-frame motion scores to a feature
// log in dir, named after the clip.
func WithFeatureDir(dir string) Option {
	return func(s *Service) {
		s.featDir = dir
	}
}

// WithSourceOpener replaces the raw file opener.
func WithSourceOpener(open SourceOpener) Option {
	return func(s *Service) {
		if open != nil {
			s.open = open
		}
	}
}

// WithReport sets the diagnostic stream.
func WithReport(w *report.Writer) Option {
	return func(s *Service) {
		if w != nil {
			s.report = w
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service. The gap search runs in AllFrames mode unless
// configured otherwise.
func New(opts ...Option) *Service {
	s := &Service{
		workers:   runtime.NumCPU(),
		mode:      search.AllFrames,
		searching: true,
		open:      openRawYUV,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Nop()
	}
	if s.report == nil {
		s.report = report.New(io.Discard)
	}
	return s
}

func openRawYUV(_ context.Context, clip config.Clip) (ClipSource, error) {
	pf, err := framesource.ParsePixelFormat(clip.PixFmt)
	if err != nil {
		return nil, err
	}
	return framesource.OpenRawYUV(clip.Path, clip.Width, clip.Height, pf)
}

// AnalyzeClip scans clip sequentially and, when enabled, searches it for
// its most static interval. The clip's report lines are written as one
// block once it succeeds; a failed clip writes none.
func (s *Service) AnalyzeClip(ctx context.Context, clip config.Clip) (ClipResult, error) {
	res := ClipResult{RunID: uuid.NewString(), Path: clip.Path}
	log := s.logger.With(logger.String("run_id", res.RunID), logger.String("clip", clip.Path))
	start := time.Now()

	src, err := s.open(ctx, clip)
	if err != nil {
		return ClipResult{}, fmt.Errorf("%w: %s: %w", ErrOpenSource, clip.Path, err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.Warn(ctx, "close frame source", logger.Error(err))
		}
	}()

	cells := motion.LoadCells(ctx, log, s.motionMap, clip.Width, clip.Height)
	rep := s.report.Block()

	// scan scores stay full-plane; cells restrict the search and the diff lines
	scanOpts := []motion.ScanOption{motion.WithScanBudget(s.budget)}
	if s.cellDiffs {
		scanOpts = append(scanOpts, motion.WithDiffCells(cells), motion.WithCellDiffs(rep.CellDiffs))
	}
	res.Scan, err = motion.Scan(ctx, src, clip.Width, clip.Height, scanOpts...)
	if err != nil {
		return ClipResult{}, fmt.Errorf("scan %s: %w", clip.Path, err)
	}
	log.Debug(ctx, "scan complete", logger.Int("frames", res.Scan.FrameCount))
	if s.featDir != "" {
		if err := writeFeatureLog(s.featDir, clip.Path, res.Scan.Scores); err != nil {
			return ClipResult{}, err
		}
	}

	if s.searching {
		best, err := s.search(ctx, log, rep.Writer, src, clip, res.Scan.FrameCount, cells)
		switch {
		case errors.Is(err, search.ErrNoCandidate):
			log.Warn(ctx, "no frame pair fits the search window", logger.Int("frames", res.Scan.FrameCount))
		case err != nil:
			return ClipResult{}, fmt.Errorf("search %s: %w", clip.Path, err)
		default:
			res.Search = &best
		}
	}
	if err := rep.Commit(); err != nil {
		return ClipResult{}, err
	}

	log.Info(ctx, "clip analyzed",
		logger.Int("frames", res.Scan.FrameCount),
		logger.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func (s *Service) search(ctx context.Context, log logger.Logger, rep *report.Writer, src frame.Source, clip config.Clip, frames int, cells []int) (search.Result, error) {
	win, err := search.NewWindow(clip.FPS, s.mode)
	if err != nil {
		return search.Result{}, err
	}
	opts := []search.Option{
		search.WithBudget(s.budget),
		search.WithImprovement(func(r search.Result) error {
			log.Debug(ctx, "search improved",
				logger.Float64("score", r.Score),
				logger.Int("lower", r.Lower),
				logger.Int("upper", r.Upper),
			)
			return rep.SearchResult(r)
		}),
	}
	if cells != nil {
		opts = append(opts, search.WithCells(cells))
	}
	best, err := search.Run(ctx, src, clip.Width, clip.Height, frames, win, opts...)
	if err != nil {
		return search.Result{}, err
	}
	// the final line repeats the last improvement and is authoritative
	if err := rep.SearchResult(best); err != nil {
		return search.Result{}, err
	}
	return best, nil
}

// FeatureLogName is the file name the motion scores of clipPath are
// written under.
func FeatureLogName(clipPath string) string {
	base := filepath.Base(clipPath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".features.yaml"
}

func writeFeatureLog(dir, clipPath string, scores []float64) (err error) {
	l := &featurelog.Log{Features: []string{MotionFeature}, Frames: make([][]float64, len(scores))}
	for k, v := range scores {
		l.Frames[k] = []float64{v}
	}
	path := filepath.Join(dir, FeatureLogName(clipPath))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create feature log: %w", err)
	}
	defer func() { err = errors.Join(err, f.Close()) }()
	if err := featurelog.Write(f, l); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// AnalyzeAll runs AnalyzeClip for every clip, at most workers at a time.
// Results keep the order of clips. The first failure cancels the rest.
func (s *Service) AnalyzeAll(ctx context.Context, clips []config.Clip) ([]ClipResult, error) {
	results := make([]ClipResult, len(clips))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, clip := range clips {
		g.Go(func() error {
			r, err := s.AnalyzeClip(gctx, clip)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// LoadModels loads every model. If any load fails, the models loaded by
// this call are closed and the error is returned.
func (s *Service) LoadModels(ctx context.Context, cfgs []predict.ModelConfig) error {
	loaded := make([]*predict.Asset, 0, len(cfgs))
	for _, cfg := range cfgs {
		a, err := predict.Load(ctx, cfg)
		if err != nil {
			for _, l := range loaded {
				l.Close()
			}
			s.logger.Error(ctx, "model load failed", logger.String("path", cfg.Path), logger.Error(err))
			return fmt.Errorf("load model %s: %w", cfg.Path, err)
		}
		s.logger.Info(ctx, "model loaded",
			logger.String("model", a.Name()),
			logger.String("flags", a.Flags().String()),
			logger.Int("features", len(a.Features())),
		)
		loaded = append(loaded, a)
	}

	s.mu.Lock()
	s.models = append(s.models, loaded...)
	s.mu.Unlock()
	return nil
}

// Models returns the names of the loaded models in load order.
func (s *Service) Models() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, len(s.models))
	for i, m := range s.models {
		names[i] = m.Name()
	}
	return names
}

// PredictImports scores every frame of every feature log with every loaded
// model. Each log must contain the required feature names.
func (s *Service) PredictImports(ctx context.Context, imports, required []string) ([]PredictionResult, error) {
	s.mu.RLock()
	models := append([]*predict.Asset(nil), s.models...)
	s.mu.RUnlock()
	if len(models) == 0 {
		return nil, ErrNoModels
	}

	var out []PredictionResult
	for _, path := range imports {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fl, err := featurelog.Open(path)
		if err != nil {
			return nil, err
		}
		if err := fl.Require(required...); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		for _, m := range models {
			pr, err := s.predictLog(m, path, fl)
			if err != nil {
				return nil, err
			}
			s.logger.Info(ctx, "import scored",
				logger.String("run_id", pr.RunID),
				logger.String("model", pr.Model),
				logger.String("import", path),
				logger.Int("frames", len(pr.Scores)),
			)
			out = append(out, pr)
		}
	}
	return out, nil
}

func (s *Service) predictLog(m *predict.Asset, path string, fl *featurelog.Log) (PredictionResult, error) {
	vecs, err := fl.Vectors(m.FeatureNames())
	if err != nil {
		return PredictionResult{}, fmt.Errorf("%s for %s: %w", path, m.Name(), err)
	}
	pr := PredictionResult{RunID: uuid.NewString(), Model: m.Name(), Import: path, Scores: make([]predict.Score, len(vecs))}
	for k, v := range vecs {
		sc, err := predict.Predict(m, v)
		if err != nil {
			return PredictionResult{}, fmt.Errorf("%s frame %d: %w", path, k, err)
		}
		if err := s.report.Prediction(m.Name(), k, sc); err != nil {
			return PredictionResult{}, err
		}
		pr.Scores[k] = sc
	}
	return pr, nil
}

// Close releases the loaded models and flushes the report.
func (s *Service) Close() error {
	s.mu.Lock()
	for _, m := range s.models {
		m.Close()
	}
	s.models = nil
	s.mu.Unlock()
	return s.report.Flush()
}

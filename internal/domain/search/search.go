// Package search finds the most static frame interval of a clip: the pair
// of frames, a bounded gap apart, whose blurred planes differ least.
package search

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/okian/vmafmotion/internal/domain/frame"
	"github.com/okian/vmafmotion/internal/domain/motion"
	"github.com/okian/vmafmotion/pkg/metrics"
)

// Gap bounds in seconds.
const (
	MinGapSeconds = 1.5
	MaxGapSeconds = 15.0
)

// searchPlanes is the fixed set of planes a search holds:
// b frame, b blur, c frame, c blur, filter scratch.
const searchPlanes = 5

// Mode selects how densely the search samples frame pairs.
type Mode int

// Search modes.
const (
	// AllFrames advances both indices by 4.
	AllFrames Mode = iota + 1
	// AllLocalFrames visits every pair.
	AllLocalFrames
)

// ParseMode maps a configuration name to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "all_frames":
		return AllFrames, nil
	case "all_local_frames":
		return AllLocalFrames, nil
	default:
		return 0, fmt.Errorf("%w: unknown mode %q", ErrInvalidWindow, s)
	}
}

// Step returns the index stride of the mode.
func (m Mode) Step() int {
	switch m {
	case AllFrames:
		return 4
	case AllLocalFrames:
		return 1
	default:
		return 0
	}
}

func (m Mode) String() string {
	switch m {
	case AllFrames:
		return "all_frames"
	case AllLocalFrames:
		return "all_local_frames"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Window bounds the frame gap of candidate pairs: MinGap <= c-b < MaxGap.
type Window struct {
	MinGap int
	MaxGap int
	Mode   Mode
}

// NewWindow derives gap bounds in frames from a frame rate.
func NewWindow(fps float64, mode Mode) (Window, error) {
	if math.IsNaN(fps) || math.IsInf(fps, 0) || fps <= 0 {
		return Window{}, fmt.Errorf("%w: fps %v", ErrInvalidWindow, fps)
	}
	w := Window{
		MinGap: int(MinGapSeconds * fps),
		MaxGap: int(MaxGapSeconds * fps),
		Mode:   mode,
	}
	return w, w.Validate()
}

// Validate checks 0 < MinGap < MaxGap and a known mode.
func (w Window) Validate() error {
	if w.MinGap <= 0 || w.MinGap >= w.MaxGap {
		return fmt.Errorf("%w: gap bounds [%d, %d)", ErrInvalidWindow, w.MinGap, w.MaxGap)
	}
	if w.Mode.Step() == 0 {
		return fmt.Errorf("%w: %s", ErrInvalidWindow, w.Mode)
	}
	return nil
}

// Result is a candidate pair and its motion score. Lower < Upper.
type Result struct {
	Score float64
	Lower int
	Upper int
}

// Option applies a configuration option to Run.
type Option func(*config)

type config struct {
	budget    int64
	cells     []int
	onImprove func(Result) error
}

// WithBudget caps the bytes the search may allocate for planes.
func WithBudget(bytes int64) Option {
	return func(c *config) {
		c.budget = bytes
	}
}

// WithCells restricts pair scoring to the given row-major cells.
func WithCells(cells []int) Option {
	return func(c *config) {
		c.cells = cells
	}
}

// WithImprovement installs a consumer called on every strict improvement.
// The last call carries the final result. Returning an error aborts.
func WithImprovement(fn func(Result) error) Option {
	return func(c *config) {
		c.onImprove = fn
	}
}

// Run scans pairs (b, c) of frames from src in ascending b then c order and
// returns the pair with the lowest score. A pair replaces the best only on
// a strictly lower score, so among ties the first visited wins. frameCount
// is the number of frames src holds; src must support random access.
func Run(ctx context.Context, src frame.Source, width, height, frameCount int, win Window, opts ...Option) (Result, error) {
	if err := win.Validate(); err != nil {
		return Result{}, err
	}
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}

	arena := frame.NewArena(frame.WithBudget(cfg.budget))
	defer arena.Release()

	planes, err := arena.Acquire(searchPlanes, width, height)
	if err != nil {
		return Result{}, err
	}
	bBuf, bBlur, cBuf, cBlur, tmp := planes[0], planes[1], planes[2], planes[3], planes[4]

	start := time.Now()
	mode := win.Mode.String()
	step := win.Mode.Step()

	var best *Result
	for b := 0; b < frameCount-win.MinGap; b += step {
		if err := motion.ReadBlurred(ctx, src, bBlur, bBuf, tmp, b); err != nil {
			return Result{}, err
		}
		cEnd := min(frameCount, b+win.MaxGap)
		for c := b + win.MinGap; c < cEnd; c += step {
			if err := motion.ReadBlurred(ctx, src, cBlur, cBuf, tmp, c); err != nil {
				return Result{}, err
			}
			var score float64
			if cfg.cells != nil {
				score, err = motion.ScoreCells(bBlur, cBlur, cfg.cells)
			} else {
				score, err = motion.Score(bBlur, cBlur)
			}
			if err != nil {
				return Result{}, err
			}
			metrics.RecordSearchCandidate(mode)

			if best != nil && score >= best.Score {
				continue
			}
			best = &Result{Score: score, Lower: b, Upper: c}
			metrics.RecordSearchImprovement(mode)
			if cfg.onImprove != nil {
				if err := cfg.onImprove(*best); err != nil {
					return Result{}, fmt.Errorf("improvement at (%d, %d): %w", b, c, err)
				}
			}
		}
	}

	metrics.RecordSearchDuration(mode, time.Since(start))
	if best == nil {
		metrics.RecordSearchNoCandidate()
		return Result{}, fmt.Errorf("%w: %d frames, gap [%d, %d)", ErrNoCandidate, frameCount, win.MinGap, win.MaxGap)
	}
	return *best, nil
}

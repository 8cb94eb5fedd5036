package motion

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/okian/vmafmotion/internal/domain/frame"
	"github.com/okian/vmafmotion/pkg/metrics"
)

// scanPlanes is the fixed set of planes a sequential scan holds:
// frame, filter scratch, previous blur, current blur.
const scanPlanes = 4

// CellDiffFunc receives the per-cell differences between frame index-1 and
// frame index. Returning an error aborts the scan.
type CellDiffFunc func(index int, diffs iter.Seq2[int, float32]) error

// ScanResult holds the per-frame motion of a sequential scan.
type ScanResult struct {
	// Scores[k] is the motion between frame k-1 and frame k; Scores[0] is 0.
	Scores []float64
	// FrameCount is the number of frames the source produced.
	FrameCount int
}

// ScanOption applies a configuration option to Scan.
type ScanOption func(*scanConfig)

type scanConfig struct {
	budget    int64
	cells     []int
	cellDiffs CellDiffFunc
}

// WithScanBudget caps the bytes the scan may allocate for planes.
func WithScanBudget(bytes int64) ScanOption {
	return func(c *scanConfig) {
		c.budget = bytes
	}
}

// WithDiffCells restricts the per-cell differences to the given cells.
// Scan scores always cover the full plane.
func WithDiffCells(cells []int) ScanOption {
	return func(c *scanConfig) {
		c.cells = cells
	}
}

// WithCellDiffs installs a consumer for per-cell differences of each frame pair.
func WithCellDiffs(fn CellDiffFunc) ScanOption {
	return func(c *scanConfig) {
		c.cellDiffs = fn
	}
}

// Scan reads src sequentially until end of stream and scores each frame
// against its predecessor. Every plane is released before Scan returns.
func Scan(ctx context.Context, src frame.Source, width, height int, opts ...ScanOption) (ScanResult, error) {
	cfg := scanConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	arena := frame.NewArena(frame.WithBudget(cfg.budget))
	defer arena.Release()

	planes, err := arena.Acquire(scanPlanes, width, height)
	if err != nil {
		return ScanResult{}, err
	}
	buf, tmp, prev, cur := planes[0], planes[1], planes[2], planes[3]

	start := time.Now()
	res := ScanResult{}
	for {
		err := src.ReadFrame(ctx, buf, tmp, frame.Sequential)
		if errors.Is(err, frame.ErrEndOfStream) {
			break
		}
		if err != nil {
			metrics.RecordFrameReadError()
			return ScanResult{}, ioError(res.FrameCount, err)
		}
		metrics.RecordFrameRead("sequential")

		if err := Blur(cur, buf, tmp); err != nil {
			return ScanResult{}, err
		}

		score := 0.0
		if res.FrameCount > 0 {
			score, err = Score(prev, cur)
			if err != nil {
				return ScanResult{}, err
			}
			if cfg.cellDiffs != nil {
				if err := cfg.cellDiffs(res.FrameCount, CellDiffs(prev, cur, cfg.cells)); err != nil {
					return ScanResult{}, fmt.Errorf("cell diffs for frame %d: %w", res.FrameCount, err)
				}
			}
		}
		metrics.RecordMotionScore(score)
		res.Scores = append(res.Scores, score)
		res.FrameCount++
		prev, cur = cur, prev
	}

	metrics.RecordScan(time.Since(start))
	return res, nil
}

// ReadBlurred pulls the frame at offset into buf and blurs it into dst.
func ReadBlurred(ctx context.Context, src frame.Source, dst, buf, tmp *frame.Plane, offset int) error {
	if err := src.ReadFrame(ctx, buf, tmp, offset); err != nil {
		metrics.RecordFrameReadError()
		return ioError(offset, err)
	}
	metrics.RecordFrameRead("seek")
	return Blur(dst, buf, tmp)
}

func ioError(index int, err error) error {
	if errors.Is(err, frame.ErrIO) {
		return fmt.Errorf("frame %d: %w", index, err)
	}
	return fmt.Errorf("frame %d: %w: %w", index, frame.ErrIO, err)
}

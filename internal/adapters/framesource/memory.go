// Package framesource provides frame.Source implementations: raw planar
// YUV files on disk and in-memory frame lists.
package framesource

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/vmafmotion/internal/domain/frame"
)

// Memory serves frames held in memory as packed planes. It supports
// sequential and random access.
type Memory struct {
	mu     sync.Mutex
	width  int
	height int
	frames []*frame.Plane
	next   int
	reads  int
}

// NewMemory builds a Memory source over frames of width*height luma values
// in row-major order. The slices are used in place.
func NewMemory(width, height int, frames ...[]float32) (*Memory, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", frame.ErrInvalidDimensions, width, height)
	}
	m := &Memory{width: width, height: height, frames: make([]*frame.Plane, len(frames))}
	for i, f := range frames {
		if len(f) != width*height {
			return nil, fmt.Errorf("%w: frame %d holds %d values, want %d", frame.ErrInvalidDimensions, i, len(f), width*height)
		}
		p, err := frame.Wrap(f, width, height, width*frame.ElemSize)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		m.frames[i] = p
	}
	return m, nil
}

// Constant builds n frames whose every pixel in frame k equals value(k).
func Constant(width, height, n int, value func(k int) float32) (*Memory, error) {
	frames := make([][]float32, n)
	for k := range frames {
		f := make([]float32, width*height)
		v := value(k)
		for i := range f {
			f[i] = v
		}
		frames[k] = f
	}
	return NewMemory(width, height, frames...)
}

// ReadFrame implements frame.Source.
func (m *Memory) ReadFrame(ctx context.Context, dst, _ *frame.Plane, offset int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", frame.ErrIO, err)
	}
	if dst == nil || dst.Width != m.width || dst.Height != m.height {
		return fmt.Errorf("%w: destination plane does not match %dx%d", frame.ErrInvalidDimensions, m.width, m.height)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx := offset
	if offset == frame.Sequential {
		idx = m.next
	}
	if idx < 0 {
		return fmt.Errorf("%w: negative frame offset %d", frame.ErrIO, offset)
	}
	if idx >= len(m.frames) {
		if offset == frame.Sequential {
			return frame.ErrEndOfStream
		}
		return fmt.Errorf("%w: seek to frame %d past end (%d frames)", frame.ErrIO, idx, len(m.frames))
	}

	src := m.frames[idx]
	for y := 0; y < m.height; y++ {
		copy(dst.Row(y), src.Row(y))
	}
	m.next = idx + 1
	m.reads++
	return nil
}

// Len returns the number of frames held.
func (m *Memory) Len() int { return len(m.frames) }

// Reads returns how many frames have been served.
func (m *Memory) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Rewind moves the sequential cursor back to the first frame.
func (m *Memory) Rewind() {
	m.mu.Lock()
	m.next = 0
	m.mu.Unlock()
}

// Close is a no-op; it lets Memory stand in for file sources.
func (m *Memory) Close() error { return nil }

package framesource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/okian/vmafmotion/internal/domain/frame"
)

// PixelFormat names a planar 8-bit layout. Only the luma plane is read.
type PixelFormat string

// Supported pixel formats.
const (
	Gray    PixelFormat = "gray"
	YUV420P PixelFormat = "yuv420p"
	YUV422P PixelFormat = "yuv422p"
	YUV444P PixelFormat = "yuv444p"
)

// ParsePixelFormat maps a name to a PixelFormat. Empty means yuv420p.
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch PixelFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", YUV420P:
		return YUV420P, nil
	case YUV422P:
		return YUV422P, nil
	case YUV444P:
		return YUV444P, nil
	case Gray:
		return Gray, nil
	default:
		return "", fmt.Errorf("unknown pixel format %q", s)
	}
}

// FrameSize returns the bytes one frame occupies in a raw file.
func (pf PixelFormat) FrameSize(width, height int) int64 {
	luma := int64(width) * int64(height)
	switch pf {
	case Gray:
		return luma
	case YUV422P:
		return luma * 2
	case YUV444P:
		return luma * 3
	default:
		return luma * 3 / 2
	}
}

// RawYUV reads frames from a headerless planar YUV file. Random access
// seeks to index * frame size.
type RawYUV struct {
	r         io.ReaderAt
	closer    io.Closer
	width     int
	height    int
	frameSize int64
	next      int
	luma      []byte
}

// OpenRawYUV opens path as a raw planar file of the given geometry.
func OpenRawYUV(path string, width, height int, pf PixelFormat) (*RawYUV, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", frame.ErrInvalidDimensions, width, height)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", frame.ErrIO, path, err)
	}
	src := NewRawYUV(f, width, height, pf)
	src.closer = f
	return src, nil
}

// NewRawYUV wraps an io.ReaderAt holding raw planar frames.
func NewRawYUV(r io.ReaderAt, width, height int, pf PixelFormat) *RawYUV {
	return &RawYUV{
		r:         r,
		width:     width,
		height:    height,
		frameSize: pf.FrameSize(width, height),
		luma:      make([]byte, width*height),
	}
}

// ReadFrame implements frame.Source.
func (s *RawYUV) ReadFrame(ctx context.Context, dst, _ *frame.Plane, offset int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", frame.ErrIO, err)
	}
	if dst == nil || dst.Width != s.width || dst.Height != s.height {
		return fmt.Errorf("%w: destination plane does not match %dx%d", frame.ErrInvalidDimensions, s.width, s.height)
	}

	idx := offset
	if offset == frame.Sequential {
		idx = s.next
	}
	if idx < 0 {
		return fmt.Errorf("%w: negative frame offset %d", frame.ErrIO, offset)
	}

	n, err := s.r.ReadAt(s.luma, int64(idx)*s.frameSize)
	switch {
	case n == len(s.luma):
	case n == 0 && errors.Is(err, io.EOF) && offset == frame.Sequential:
		return frame.ErrEndOfStream
	case err != nil:
		return fmt.Errorf("%w: frame %d: read %d of %d bytes: %w", frame.ErrIO, idx, n, len(s.luma), err)
	}

	for y := 0; y < s.height; y++ {
		row := dst.Row(y)
		src := s.luma[y*s.width : (y+1)*s.width]
		for x, v := range src {
			row[x] = float32(v)
		}
	}
	s.next = idx + 1
	return nil
}

// Close releases the underlying file, if any.
func (s *RawYUV) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}

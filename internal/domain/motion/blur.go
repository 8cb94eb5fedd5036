// Package motion scores temporal change between decoded frames: a fixed
// separable blur suppresses grain, then a mean absolute difference is taken
// over the whole plane or over an explicit set of cells.
package motion

import (
	"fmt"

	"github.com/okian/vmafmotion/internal/domain/frame"
)

// PixelOffset is added to every source pixel before filtering.
const PixelOffset = -128.0

// Filter5 holds the taps of the separable blur.
var Filter5 = [5]float64{0.054488685, 0.244201342, 0.402619947, 0.244201342, 0.054488685}

const filterRadius = len(Filter5) / 2

// Blur writes the offset, filtered version of src into dst. The horizontal
// pass goes through scratch, then the vertical pass lands in dst. All three
// planes must share width and height; src is not modified.
func Blur(dst, src, scratch *frame.Plane) error {
	for _, p := range []*frame.Plane{dst, src, scratch} {
		if p == nil {
			return fmt.Errorf("%w: nil plane", frame.ErrInvalidDimensions)
		}
		if err := frame.CheckGeometry(p.Width, p.Height, p.Stride); err != nil {
			return err
		}
	}
	if !src.SameShape(dst) || !src.SameShape(scratch) {
		return fmt.Errorf("%w: blur planes differ in shape", frame.ErrInvalidDimensions)
	}

	w, h := src.Width, src.Height
	for y := 0; y < h; y++ {
		in, out := src.Row(y), scratch.Row(y)
		for x := 0; x < w; x++ {
			var acc float64
			for k, tap := range Filter5 {
				acc += tap * (float64(in[mirror(x-filterRadius+k, w)]) + PixelOffset)
			}
			out[x] = float32(acc)
		}
	}

	var rows [len(Filter5)][]float32
	for y := 0; y < h; y++ {
		for k := range rows {
			rows[k] = scratch.Row(mirror(y-filterRadius+k, h))
		}
		out := dst.Row(y)
		for x := 0; x < w; x++ {
			var acc float64
			for k, tap := range Filter5 {
				acc += tap * float64(rows[k][x])
			}
			out[x] = float32(acc)
		}
	}
	return nil
}

// mirror reflects i into [0, n) without repeating the edge sample.
func mirror(i, n int) int {
	if i < 0 {
		i = -i
	}
	if i >= n {
		i = 2*n - i - 1
	}
	switch {
	case i < 0:
		return 0
	case i >= n:
		return n - 1
	}
	return i
}

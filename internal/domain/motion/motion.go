package motion

import (
	"fmt"
	"iter"
	"math"

	"github.com/okian/vmafmotion/internal/domain/frame"
)

// SAD returns the mean absolute difference between two equally shaped
// planes given as raw storage. Strides are in bytes.
func SAD(a, b []float32, width, height, strideA, strideB int) (float64, error) {
	if err := checkPair(a, b, width, height, strideA, strideB); err != nil {
		return 0, err
	}
	sa, sb := strideA/frame.ElemSize, strideB/frame.ElemSize
	var accum float64
	for i := 0; i < height; i++ {
		ra, rb := a[i*sa:i*sa+width], b[i*sb:i*sb+width]
		var line float64
		for j := range ra {
			line += math.Abs(float64(ra[j]) - float64(rb[j]))
		}
		accum += line
	}
	return accum / float64(width*height), nil
}

// SADCells is SAD restricted to the given row-major cell indices. The sum
// is still divided by the full pixel count, so its scale differs from SAD
// and the two must not be compared.
func SADCells(a, b []float32, width, height, strideA, strideB int, cells []int) (float64, error) {
	if err := checkPair(a, b, width, height, strideA, strideB); err != nil {
		return 0, err
	}
	sa, sb := strideA/frame.ElemSize, strideB/frame.ElemSize
	n := width * height
	var accum float64
	for _, c := range cells {
		if c < 0 || c >= n {
			return 0, fmt.Errorf("%w: cell %d outside %dx%d", frame.ErrInvalidDimensions, c, width, height)
		}
		i, j := c/width, c%width
		accum += math.Abs(float64(a[i*sa+j]) - float64(b[i*sb+j]))
	}
	return accum / float64(n), nil
}

// Score is SAD over two planes.
func Score(a, b *frame.Plane) (float64, error) {
	if err := samePlanes(a, b); err != nil {
		return 0, err
	}
	return SAD(a.Data, b.Data, a.Width, a.Height, a.Stride, b.Stride)
}

// ScoreCells is SADCells over two planes.
func ScoreCells(a, b *frame.Plane, cells []int) (float64, error) {
	if err := samePlanes(a, b); err != nil {
		return 0, err
	}
	return SADCells(a.Data, b.Data, a.Width, a.Height, a.Stride, b.Stride, cells)
}

// CellDiffs lazily yields (cell index, absolute difference) pairs in
// row-major order, or in the order of cells when it is non-nil. Indices
// outside the plane are skipped. The planes must share a shape.
func CellDiffs(a, b *frame.Plane, cells []int) iter.Seq2[int, float32] {
	return func(yield func(int, float32) bool) {
		if a == nil || !a.SameShape(b) {
			return
		}
		w, n := a.Width, a.Width*a.Height
		diff := func(c int) float32 {
			x, y := c%w, c/w
			return float32(math.Abs(float64(a.At(x, y)) - float64(b.At(x, y))))
		}
		if cells == nil {
			for c := 0; c < n; c++ {
				if !yield(c, diff(c)) {
					return
				}
			}
			return
		}
		for _, c := range cells {
			if c < 0 || c >= n {
				continue
			}
			if !yield(c, diff(c)) {
				return
			}
		}
	}
}

func samePlanes(a, b *frame.Plane) error {
	if a == nil || b == nil {
		return fmt.Errorf("%w: nil plane", frame.ErrInvalidDimensions)
	}
	if !a.SameShape(b) {
		return fmt.Errorf("%w: %dx%d vs %dx%d", frame.ErrInvalidDimensions, a.Width, a.Height, b.Width, b.Height)
	}
	return nil
}

func checkPair(a, b []float32, width, height, strideA, strideB int) error {
	if strideA%frame.ElemSize != 0 || strideB%frame.ElemSize != 0 {
		return fmt.Errorf("%w: strides %d, %d", frame.ErrAlignment, strideA, strideB)
	}
	if err := frame.CheckGeometry(width, height, strideA); err != nil {
		return err
	}
	if err := frame.CheckGeometry(width, height, strideB); err != nil {
		return err
	}
	if len(a) < (height-1)*strideA/frame.ElemSize+width || len(b) < (height-1)*strideB/frame.ElemSize+width {
		return fmt.Errorf("%w: storage shorter than %dx%d", frame.ErrInvalidDimensions, width, height)
	}
	return nil
}

// Package frame defines aligned pixel planes, the per-invocation arena that
// owns them, and the contract for pulling decoded frames from a source.
package frame

import (
	"fmt"
	"math"
	"unsafe"
)

// Plane layout constants.
const (
	// ElemSize is the size in bytes of one pixel element.
	ElemSize = 4
	// Align is the byte alignment of plane storage and of computed strides.
	Align = 32
)

// Plane is a 2D float32 pixel plane with an explicit row stride in bytes.
// Data holds at least Stride/ElemSize*Height elements and its first element
// is Align-byte aligned when the plane was built by an Arena.
type Plane struct {
	Width  int
	Height int
	Stride int
	Data   []float32
}

// StrideFor returns the Align-rounded byte stride for a plane of the given width.
func StrideFor(width int) (int, error) {
	if width <= 0 || width > (math.MaxInt32&^(Align-1))/ElemSize {
		return 0, fmt.Errorf("%w: width %d", ErrInvalidDimensions, width)
	}
	return (width*ElemSize + Align - 1) &^ (Align - 1), nil
}

// CheckGeometry validates width, height and a byte stride. Alignment is
// checked first so a misaligned stride never reaches an allocation.
func CheckGeometry(width, height, stride int) error {
	if stride%ElemSize != 0 {
		return fmt.Errorf("%w: stride %d %% %d != 0", ErrAlignment, stride, ElemSize)
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	if width > math.MaxInt32/ElemSize || stride < width*ElemSize {
		return fmt.Errorf("%w: stride %d too small for width %d", ErrInvalidDimensions, stride, width)
	}
	if height > math.MaxInt32/stride {
		return fmt.Errorf("%w: %d rows of %d bytes overflow", ErrInvalidDimensions, height, stride)
	}
	return nil
}

// Wrap builds a Plane over caller-owned storage after validating geometry.
func Wrap(data []float32, width, height, stride int) (*Plane, error) {
	if err := CheckGeometry(width, height, stride); err != nil {
		return nil, err
	}
	if need := stride / ElemSize * height; len(data) < need {
		return nil, fmt.Errorf("%w: storage holds %d elements, need %d", ErrInvalidDimensions, len(data), need)
	}
	return &Plane{Width: width, Height: height, Stride: stride, Data: data}, nil
}

// StrideElems returns the row stride in elements.
func (p *Plane) StrideElems() int { return p.Stride / ElemSize }

// Bytes returns the number of bytes the plane addresses.
func (p *Plane) Bytes() int { return p.Stride * p.Height }

// Row returns the Width visible pixels of row y.
func (p *Plane) Row(y int) []float32 {
	off := y * p.StrideElems()
	return p.Data[off : off+p.Width]
}

// At returns the pixel at column x, row y.
func (p *Plane) At(x, y int) float32 { return p.Data[y*p.StrideElems()+x] }

// Set stores v at column x, row y.
func (p *Plane) Set(x, y int, v float32) { p.Data[y*p.StrideElems()+x] = v }

// Fill sets every visible pixel to v.
func (p *Plane) Fill(v float32) {
	for y := 0; y < p.Height; y++ {
		row := p.Row(y)
		for x := range row {
			row[x] = v
		}
	}
}

// SameShape reports whether q has the same width and height as p.
func (p *Plane) SameShape(q *Plane) bool {
	return q != nil && p.Width == q.Width && p.Height == q.Height
}

// alignedFloats returns n float32 elements whose first element sits on an
// Align-byte boundary.
func alignedFloats(n int) []float32 {
	const pad = Align / ElemSize
	buf := make([]float32, n+pad)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	skip := int((Align-addr%Align)%Align) / ElemSize
	return buf[skip : skip+n : skip+n]
}

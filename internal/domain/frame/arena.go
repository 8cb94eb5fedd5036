package frame

import (
	"fmt"

	"github.com/okian/vmafmotion/pkg/metrics"
)

// Arena owns every plane acquired during one invocation. Planes are
// released together by Release; a failed Acquire releases everything the
// arena already holds, so callers never observe a partial set.
type Arena struct {
	budget int64
	used   int64
	planes []*Plane
}

// ArenaOption applies a configuration option to an Arena.
type ArenaOption func(*Arena)

// WithBudget caps the total bytes an arena may hold. Zero or negative means unlimited.
func WithBudget(bytes int64) ArenaOption {
	return func(a *Arena) {
		if bytes > 0 {
			a.budget = bytes
		}
	}
}

// NewArena creates an empty arena.
func NewArena(opts ...ArenaOption) *Arena {
	a := &Arena{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewPlane allocates one aligned plane with an Align-rounded stride.
func (a *Arena) NewPlane(width, height int) (*Plane, error) {
	stride, err := StrideFor(width)
	if err != nil {
		return nil, err
	}
	if err := CheckGeometry(width, height, stride); err != nil {
		return nil, err
	}
	size := int64(stride) * int64(height)
	if a.budget > 0 && a.used+size > a.budget {
		metrics.RecordPlaneAllocFailure()
		return nil, fmt.Errorf("%w: %d bytes requested, %d of %d in use", ErrOutOfMemory, size, a.used, a.budget)
	}
	p := &Plane{
		Width:  width,
		Height: height,
		Stride: stride,
		Data:   alignedFloats(stride / ElemSize * height),
	}
	a.used += size
	a.planes = append(a.planes, p)
	metrics.AddPlaneBytes(size)
	return p, nil
}

// Acquire allocates n planes of identical geometry. On failure every plane
// the arena holds, including ones from earlier calls, is released.
func (a *Arena) Acquire(n, width, height int) ([]*Plane, error) {
	out := make([]*Plane, 0, n)
	for i := 0; i < n; i++ {
		p, err := a.NewPlane(width, height)
		if err != nil {
			a.Release()
			return nil, fmt.Errorf("plane %d of %d: %w", i+1, n, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Used returns the bytes currently held.
func (a *Arena) Used() int64 { return a.used }

// Len returns the number of planes currently held.
func (a *Arena) Len() int { return len(a.planes) }

// Release drops every plane. It is safe to call more than once.
func (a *Arena) Release() {
	if a == nil || len(a.planes) == 0 {
		return
	}
	for _, p := range a.planes {
		p.Data = nil
	}
	metrics.AddPlaneBytes(-a.used)
	a.planes = nil
	a.used = 0
}

package frame

import "context"

// Sequential asks a Source for the next frame in stream order.
const Sequential = -1

// Source pulls decoded luma frames into caller-owned planes.
//
// ReadFrame fills dst with the frame at index offset, or with the next
// frame when offset is Sequential. scratch has the same geometry as dst and
// may be clobbered. A Source returns ErrEndOfStream once no frame remains;
// any other error is an i/o failure. Sources that cannot seek return an
// error for offset >= 0.
type Source interface {
	ReadFrame(ctx context.Context, dst, scratch *Plane, offset int) error
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, dst, scratch *Plane, offset int) error

// ReadFrame calls f.
func (f SourceFunc) ReadFrame(ctx context.Context, dst, scratch *Plane, offset int) error {
	return f(ctx, dst, scratch, offset)
}

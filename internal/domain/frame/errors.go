package frame

import "errors"

// Sentinel kinds for plane and frame source errors.
var (
	ErrAlignment         = errors.New("stride not aligned to pixel element size")
	ErrInvalidDimensions = errors.New("invalid plane dimensions")
	ErrOutOfMemory       = errors.New("plane allocation failed")
	ErrIO                = errors.New("frame source i/o failed")
	ErrEndOfStream       = errors.New("end of stream")
)

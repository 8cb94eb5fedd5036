package search

import "errors"

// Sentinel kinds for search errors.
var (
	ErrNoCandidate   = errors.New("no candidate frame pair")
	ErrInvalidWindow = errors.New("invalid search window")
)

package service

import "errors"

// Sentinel error kinds for the service.
var (
	ErrNoModels   = errors.New("no models loaded")
	ErrOpenSource = errors.New("open frame source failed")
)

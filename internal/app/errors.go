package service

import "errors"

// Service errors.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrDraining       = errors.New("service is draining")
	ErrInvalidRequest = errors.New("invalid recompute request")
)

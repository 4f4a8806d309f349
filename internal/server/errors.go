package server

import "errors"

// Errors
var (
	ErrRelayClosed   = errors.New("relay closed")
	ErrInvalidConfig = errors.New("invalid config")
)

package domain

import "errors"

// ErrManagerStopped is returned when a socket arrives after shutdown began.
var ErrManagerStopped = errors.New("manager stopped")

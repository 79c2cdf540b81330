// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrTurnInFlight indicates the thread already has a turn running.
var ErrTurnInFlight = errors.New("turn already in flight")

package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrMalformedSnapshot    = errors.New("malformed orderbook snapshot")
	ErrMalformedTransaction = errors.New("malformed transaction")
	ErrSourceUnavailable    = errors.New("event source unavailable")
	ErrInvalidTransition    = errors.New("invalid state transition")
	ErrWSDisconnect         = errors.New("websocket disconnected")
	ErrLeaseHeld            = errors.New("lease held by another instance")
	// ErrInvariantViolation signals a concurrency-discipline bug. It is never
	// returned; it is the panic value when an invariant is broken.
	ErrInvariantViolation = errors.New("internal invariant violation")
)

package domain

import "errors"

// Sentinel errors shared across adapters and services.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidPayload   = errors.New("invalid payload")
	ErrUnknownJobType   = errors.New("unknown job type")
	ErrNotJoined        = errors.New("not joined to conversation")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrQueueUnavailable = errors.New("queue unavailable")
)

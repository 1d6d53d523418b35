package domain

import "errors"

// Lookups and input. The HTTP layer maps ErrNotFound to 404 and
// ErrInvalidInput to 400.
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrAlreadyExists = errors.New("already exists")
)

// Upstream refusals. A rate-limited indexer surfaces as 429, a rejected
// API key as 502.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
)

// ErrFetchFailed wraps failures reading troves or batch data from the chain
// or indexer. Mapped to 502.
var ErrFetchFailed = errors.New("trove data fetch failed")

// ErrUnknownEvent is returned when an interest timeline holds an event type
// the accrual code cannot apply.
var ErrUnknownEvent = errors.New("unknown timeline event")

// ErrLockHeld means another replica owns the lock.
var ErrLockHeld = errors.New("lock held by another replica")

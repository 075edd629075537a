package service

import "errors"

// Soft errors mark normal race outcomes ("someone else got there first" or
// "it expired"); callers abort the flow quietly. Hard errors are surfaced.
var (
	// ErrNotFound: the record is gone — expired, already resolved, or never
	// existed. A soft outcome, not a failure.
	ErrNotFound = errors.New("not found")
	// ErrSessionEnded: a mutation arrived after the session was observed
	// ended; the attempt is a local no-op.
	ErrSessionEnded = errors.New("session has ended")

	// ErrForbidden: authorization failure, fatal for the operation.
	ErrForbidden = errors.New("forbidden")

	ErrUsernameTaken      = errors.New("username taken")
	ErrUsernameInvalid    = errors.New("invalid username")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

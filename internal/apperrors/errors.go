package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Shared error taxonomy. Handlers map these to HTTP statuses; services wrap
// them with %w so errors.Is keeps working across layers.
var (
	ErrValidation         = errors.New("invalid input")
	ErrNotFound           = errors.New("not found")
	ErrExpired            = errors.New("expired")
	ErrAlreadyUsed        = errors.New("already used")
	ErrAttemptsExceeded   = errors.New("attempts exceeded")
	ErrDecryptionFailed   = errors.New("decryption failed")
	ErrAssertionInvalid   = errors.New("assertion invalid")
	ErrCredentialUnusable = errors.New("credential not found or inactive")
	ErrCloneDetected      = errors.New("authenticator clone detected")
	ErrConfiguration      = errors.New("configuration error")
	ErrInternal           = errors.New("internal error")
)

// RateLimitedError tells the caller when it may retry. Safe to expose.
type RateLimitedError struct {
	Scope      string
	RetryAfter time.Duration
	ResetAt    time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited on %s, retry after %s", e.Scope, e.RetryAfter.Round(time.Second))
}

// IsRateLimited extracts a RateLimitedError from an error chain.
func IsRateLimited(err error) (*RateLimitedError, bool) {
	var rle *RateLimitedError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

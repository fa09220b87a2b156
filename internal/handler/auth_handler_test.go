package handler

import (
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"wallet-auth-service/internal/apperrors"
)

func TestWriteErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: bad input", apperrors.ErrValidation), 400},
		{fmt.Errorf("%w: session", apperrors.ErrNotFound), 404},
		{fmt.Errorf("%w: no credential", apperrors.ErrCredentialUnusable), 404},
		{fmt.Errorf("%w: session", apperrors.ErrAlreadyUsed), 409},
		{fmt.Errorf("%w: session", apperrors.ErrExpired), 410},
		{fmt.Errorf("%w: session", apperrors.ErrAttemptsExceeded), 429},
		{fmt.Errorf("%w: sig", apperrors.ErrAssertionInvalid), 401},
		{fmt.Errorf("%w: cred", apperrors.ErrCloneDetected), 403},
		{fmt.Errorf("boom"), 500},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, tc.err)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	}
}

func TestWriteErrorRateLimited(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, &apperrors.RateLimitedError{
		Scope:      "initiate_ip",
		RetryAfter: 42 * time.Second,
		ResetAt:    time.Now().Add(42 * time.Second),
	})

	assert.Equal(t, 429, rec.Code)
	assert.Equal(t, "42", rec.Header().Get("Retry-After"))
}

func TestWriteErrorRateLimitedMinimumRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, &apperrors.RateLimitedError{Scope: "verify_ip"})

	assert.Equal(t, 429, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestClientMetaPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/v1/auth/otp/initiate", nil)
	req.RemoteAddr = "10.0.0.1:52000"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	req.Header.Set("User-Agent", "wallet-app/2.1")

	meta := clientMeta(req, "example.com")
	assert.Equal(t, "203.0.113.9", meta.IPAddress)
	assert.Equal(t, "wallet-app/2.1", meta.UserAgent)
	assert.Equal(t, "example.com", meta.DomainHint)
}

func TestClientMetaFallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/v1/auth/otp/verify", nil)
	req.RemoteAddr = "192.0.2.4:33000"

	meta := clientMeta(req, "")
	assert.Equal(t, "192.0.2.4", meta.IPAddress)
}

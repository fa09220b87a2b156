package models

import (
	"context"
	"time"
)

// OtpSessionRepository is the durable store for OTP sessions. The two
// mutating calls are conditional updates: they apply only when the row still
// matches the expected state, so two concurrent verifies can never both
// succeed.
type OtpSessionRepository interface {
	Create(ctx context.Context, session *OtpSession) error
	Get(ctx context.Context, sessionID string) (*OtpSession, error)
	// IncrementAttempts applies attempts = expected+1 only if the stored row
	// still has attempts == expected and used == false. Returns whether the
	// update was applied.
	IncrementAttempts(ctx context.Context, sessionID string, expected int) (bool, error)
	// MarkUsed flips used only if the row is still unused. Returns whether
	// the update was applied.
	MarkUsed(ctx context.Context, sessionID string, usedAt time.Time) (bool, error)
	// SweepExpired purges rows past their expiry. Idempotent and safe to run
	// concurrently from multiple workers.
	SweepExpired(ctx context.Context) (int, error)
}

// WebAuthnCredentialRepository stores hardware-authenticator credentials.
type WebAuthnCredentialRepository interface {
	Create(ctx context.Context, cred *WebAuthnCredential) error
	Get(ctx context.Context, identifierHash, credentialID string) (*WebAuthnCredential, error)
	ListActive(ctx context.Context, identifierHash string) ([]*WebAuthnCredential, error)
	// UpdateCounter advances the signature counter only if the stored value
	// still equals oldCounter and the credential is active.
	UpdateCounter(ctx context.Context, identifierHash, credentialID string, oldCounter, newCounter uint32, usedAt time.Time) (bool, error)
	// Deactivate permanently disables a credential. There is no reactivation
	// path; the user must register a new authenticator.
	Deactivate(ctx context.Context, identifierHash, credentialID string) error
}

// ChallengeCache holds pending WebAuthn challenges with a short TTL.
type ChallengeCache interface {
	PutChallenge(ctx context.Context, identifierHash, challenge string, ttl time.Duration) error
	// TakeChallenge consumes the pending challenge so it cannot be replayed.
	TakeChallenge(ctx context.Context, identifierHash string) (string, error)
}

// SessionTokenCache stores opaque authenticated-session tokens.
type SessionTokenCache interface {
	PutSession(ctx context.Context, token, identifierHash string, ttl time.Duration) error
	GetSession(ctx context.Context, token string) (string, error)
}

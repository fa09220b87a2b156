package models

import "time"

// Audit event types emitted by the auth core.
const (
	EventOTPIssued           = "otp_issued"
	EventOTPVerified         = "otp_verified"
	EventOTPNotFound         = "otp_not_found"
	EventOTPAlreadyUsed      = "otp_already_used"
	EventOTPExpired          = "otp_expired"
	EventOTPAttemptsExceeded = "otp_attempts_exceeded"
	EventOTPMismatch         = "otp_mismatch"
	EventOTPSwept            = "otp_swept"
	EventRateLimited         = "rate_limited"
	EventWebAuthnChallenge   = "webauthn_challenge_issued"
	EventWebAuthnVerified    = "webauthn_verified"
	EventWebAuthnRejected    = "webauthn_rejected"
	EventCloningDetected     = "cloning_detected"
)

// AuditEvent is append-only. Details never contain raw codes, passphrases,
// or unhashed identifiers.
type AuditEvent struct {
	EventBucket int       `db:"event_bucket"`
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	SubjectHash string    `db:"subject_hash"`
	SessionID   string    `db:"session_id"`
	IPHash      string    `db:"ip_hash"`
	OccurredAt  time.Time `db:"occurred_at"`
	Details     string    `db:"details"`
}

package models

import "time"

// OtpSession stores only hashes: the destination identifier as SHA-256 and
// the 6-digit code salted-hashed. The plaintext code is never persisted.
type OtpSession struct {
	SessionID        string     `db:"session_id"`
	IdentifierHash   string     `db:"identifier_hash"`
	OTPHash          string     `db:"otp_hash"`
	OTPSalt          string     `db:"otp_salt"`
	Attempts         int        `db:"attempts"`
	Used             bool       `db:"used"`
	UsedAt           *time.Time `db:"used_at"`
	CreatedAt        time.Time  `db:"created_at"`
	ExpiresAt        time.Time  `db:"expires_at"`
	ClientUserAgent  string     `db:"client_user_agent"`
	ClientIPHash     string     `db:"client_ip_hash"`
	ClientDomainHint string     `db:"client_domain_hint"`
}

// ClientMeta is the request-scoped context attached to a session.
type ClientMeta struct {
	UserAgent  string `json:"user_agent"`
	IPAddress  string `json:"ip_address"`
	DomainHint string `json:"domain_hint"`
}

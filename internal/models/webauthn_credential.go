package models

import "time"

// WebAuthnCredential mirrors the authenticator-side state we track. The
// signature counter must strictly increase on every accepted assertion; a
// non-increasing counter permanently deactivates the credential.
type WebAuthnCredential struct {
	IdentifierHash string     `db:"identifier_hash"`
	CredentialID   string     `db:"credential_id"`
	PublicKey      []byte     `db:"public_key"`
	Counter        uint32     `db:"counter"`
	IsActive       bool       `db:"is_active"`
	DeviceName     string     `db:"device_name"`
	AAGUID         []byte     `db:"aaguid"`
	CreatedAt      time.Time  `db:"created_at"`
	LastUsedAt     *time.Time `db:"last_used_at"`
}

// Assertion is the parsed, signed authenticator response handed to the
// external FIDO2 verifier. The core never inspects the signature itself.
type Assertion struct {
	CredentialID      string `json:"credential_id"`
	ClientDataJSON    []byte `json:"client_data_json"`
	AuthenticatorData []byte `json:"authenticator_data"`
	Signature         []byte `json:"signature"`
}

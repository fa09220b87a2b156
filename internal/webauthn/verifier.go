package webauthn

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"wallet-auth-service/internal/config"
	"wallet-auth-service/internal/models"
)

const (
	flagUserPresent = 0x01
	authDataMinLen  = 37
	counterOffset   = 33
)

// clientData is the browser-produced collectedClientData structure.
type clientData struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Origin    string `json:"origin"`
}

// ES256Verifier validates assertions signed with ECDSA P-256, the mandatory
// WebAuthn algorithm. Stored public keys are PKIX DER.
type ES256Verifier struct {
	rpIDHash [32]byte
	origin   string
}

func NewES256Verifier(cfg *config.Config) *ES256Verifier {
	return &ES256Verifier{
		rpIDHash: sha256.Sum256([]byte(cfg.WebAuthn.RPID)),
		origin:   cfg.WebAuthn.Origin,
	}
}

// VerifyAssertion checks client data, authenticator data, and the signature
// over authData || sha256(clientDataJSON). Returns the signature counter the
// authenticator reported; monotonicity is the caller's concern.
func (v *ES256Verifier) VerifyAssertion(_ context.Context, cred *models.WebAuthnCredential, challenge string, assertion *models.Assertion) (uint32, error) {
	var cd clientData
	if err := json.Unmarshal(assertion.ClientDataJSON, &cd); err != nil {
		return 0, fmt.Errorf("malformed client data: %w", err)
	}
	if cd.Type != "webauthn.get" {
		return 0, fmt.Errorf("unexpected client data type %q", cd.Type)
	}
	if cd.Challenge != challenge {
		return 0, errors.New("challenge mismatch")
	}
	if cd.Origin != v.origin {
		return 0, fmt.Errorf("origin mismatch: %s", cd.Origin)
	}

	authData := assertion.AuthenticatorData
	if len(authData) < authDataMinLen {
		return 0, errors.New("authenticator data too short")
	}
	if !bytes.Equal(authData[:32], v.rpIDHash[:]) {
		return 0, errors.New("rpId hash mismatch")
	}
	if authData[32]&flagUserPresent == 0 {
		return 0, errors.New("user presence flag not set")
	}
	counter := binary.BigEndian.Uint32(authData[counterOffset : counterOffset+4])

	pub, err := x509.ParsePKIXPublicKey(cred.PublicKey)
	if err != nil {
		return 0, fmt.Errorf("unusable stored public key: %w", err)
	}
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return 0, errors.New("stored public key is not ECDSA")
	}

	clientDataHash := sha256.Sum256(assertion.ClientDataJSON)
	signed := make([]byte, 0, len(authData)+len(clientDataHash))
	signed = append(signed, authData...)
	signed = append(signed, clientDataHash[:]...)
	digest := sha256.Sum256(signed)

	if !ecdsa.VerifyASN1(ecPub, digest[:], assertion.Signature) {
		return 0, errors.New("signature verification failed")
	}

	return counter, nil
}

package webauthn

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet-auth-service/internal/config"
	"wallet-auth-service/internal/models"
)

const (
	testRPID   = "wallet.example.com"
	testOrigin = "https://wallet.example.com"
)

func newVerifier() *ES256Verifier {
	return NewES256Verifier(&config.Config{
		WebAuthn: config.WebAuthnConfig{RPID: testRPID, Origin: testOrigin},
	})
}

func buildAssertion(t *testing.T, key *ecdsa.PrivateKey, challenge, origin, rpID string, flags byte, counter uint32) *models.Assertion {
	t.Helper()

	cd, err := json.Marshal(map[string]string{
		"type":      "webauthn.get",
		"challenge": challenge,
		"origin":    origin,
	})
	require.NoError(t, err)

	rpHash := sha256.Sum256([]byte(rpID))
	authData := make([]byte, 37)
	copy(authData, rpHash[:])
	authData[32] = flags
	binary.BigEndian.PutUint32(authData[33:], counter)

	cdHash := sha256.Sum256(cd)
	signed := append(append([]byte{}, authData...), cdHash[:]...)
	digest := sha256.Sum256(signed)

	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	require.NoError(t, err)

	return &models.Assertion{
		CredentialID:      "cred-1",
		ClientDataJSON:    cd,
		AuthenticatorData: authData,
		Signature:         sig,
	}
}

func testCredential(t *testing.T, key *ecdsa.PrivateKey) *models.WebAuthnCredential {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return &models.WebAuthnCredential{
		CredentialID: "cred-1",
		PublicKey:    der,
		Counter:      5,
		IsActive:     true,
	}
}

func TestVerifyAssertionAccepts(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	v := newVerifier()
	a := buildAssertion(t, key, "challenge-123", testOrigin, testRPID, 0x01, 42)

	counter, err := v.VerifyAssertion(context.Background(), testCredential(t, key), "challenge-123", a)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), counter)
}

func TestVerifyAssertionRejects(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	otherKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	v := newVerifier()
	cred := testCredential(t, key)

	cases := map[string]*models.Assertion{
		"challenge mismatch": buildAssertion(t, key, "stale-challenge", testOrigin, testRPID, 0x01, 42),
		"origin mismatch":    buildAssertion(t, key, "challenge-123", "https://evil.example.com", testRPID, 0x01, 42),
		"rpid mismatch":      buildAssertion(t, key, "challenge-123", testOrigin, "other.example.com", 0x01, 42),
		"user not present":   buildAssertion(t, key, "challenge-123", testOrigin, testRPID, 0x00, 42),
		"wrong key":          buildAssertion(t, otherKey, "challenge-123", testOrigin, testRPID, 0x01, 42),
	}

	for name, a := range cases {
		_, err := v.VerifyAssertion(context.Background(), cred, "challenge-123", a)
		assert.Error(t, err, name)
	}
}

func TestVerifyAssertionTamperedSignature(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	v := newVerifier()
	a := buildAssertion(t, key, "challenge-123", testOrigin, testRPID, 0x01, 42)
	a.Signature[len(a.Signature)-1] ^= 0x01

	_, err = v.VerifyAssertion(context.Background(), testCredential(t, key), "challenge-123", a)
	assert.Error(t, err)
}

func TestVerifyAssertionMalformedInputs(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	v := newVerifier()
	cred := testCredential(t, key)

	_, err = v.VerifyAssertion(context.Background(), cred, "c", &models.Assertion{
		ClientDataJSON: []byte("not json"),
	})
	assert.Error(t, err)

	good := buildAssertion(t, key, "c", testOrigin, testRPID, 0x01, 1)
	good.AuthenticatorData = good.AuthenticatorData[:10]
	_, err = v.VerifyAssertion(context.Background(), cred, "c", good)
	assert.Error(t, err)

	bad := buildAssertion(t, key, "c", testOrigin, testRPID, 0x01, 1)
	credBadKey := &models.WebAuthnCredential{PublicKey: []byte("garbage")}
	_, err = v.VerifyAssertion(context.Background(), credBadKey, "c", bad)
	assert.Error(t, err)
}

package webauthn

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wallet-auth-service/internal/apperrors"
	"wallet-auth-service/internal/audit"
	"wallet-auth-service/internal/config"
	"wallet-auth-service/internal/models"
	"wallet-auth-service/internal/otp"
	"wallet-auth-service/internal/util"
)

const (
	challengeBytes    = 32
	sessionTokenBytes = 32
)

// AssertionVerifier performs the cryptographic FIDO2 verification of an
// assertion: signature over authenticatorData and clientDataJSON, origin and
// RP ID checks. It returns the authenticator's signature counter. Counter
// monotonicity is NOT its job; the detector owns that.
type AssertionVerifier interface {
	VerifyAssertion(ctx context.Context, cred *models.WebAuthnCredential, challenge string, assertion *models.Assertion) (newCounter uint32, err error)
}

// Detector runs the second-factor ceremony and watches the signature counter
// for evidence of a cloned authenticator. A counter that fails to increase
// permanently deactivates the credential.
type Detector struct {
	creds      models.WebAuthnCredentialRepository
	challenges models.ChallengeCache
	sessions   models.SessionTokenCache
	verifier   AssertionVerifier
	auditor    audit.Auditor

	rpID         string
	challengeTTL time.Duration
	timeoutMs    int
	sessionTTL   time.Duration
}

// StartResult carries everything the client needs to run the ceremony.
type StartResult struct {
	Challenge        string
	AllowCredentials []string
	RPID             string
	TimeoutMs        int
}

// CompleteResult is returned on a successful assertion.
type CompleteResult struct {
	SessionToken string
	CredentialID string
}

func NewDetector(cfg *config.Config, creds models.WebAuthnCredentialRepository, challenges models.ChallengeCache, sessions models.SessionTokenCache, verifier AssertionVerifier, auditor audit.Auditor) *Detector {
	return &Detector{
		creds:        creds,
		challenges:   challenges,
		sessions:     sessions,
		verifier:     verifier,
		auditor:      auditor,
		rpID:         cfg.WebAuthn.RPID,
		challengeTTL: cfg.WebAuthn.ChallengeTTL,
		timeoutMs:    cfg.WebAuthn.TimeoutMs,
		sessionTTL:   cfg.WebAuthn.SessionTTL,
	}
}

// StartAuthentication issues a fresh challenge for the identifier's active
// credentials. The challenge is one-shot: the complete step consumes it.
func (d *Detector) StartAuthentication(ctx context.Context, identifier string) (*StartResult, error) {
	if identifier == "" {
		return nil, fmt.Errorf("%w: identifier must not be empty", apperrors.ErrValidation)
	}
	identifierHash := otp.HashIdentifier(identifier)

	creds, err := d.creds.ListActive(ctx, identifierHash)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	if len(creds) == 0 {
		return nil, fmt.Errorf("%w: no active credentials", apperrors.ErrCredentialUnusable)
	}

	buf := make([]byte, challengeBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("%w: failed to generate challenge", apperrors.ErrInternal)
	}
	challenge := base64.RawURLEncoding.EncodeToString(buf)

	if err := d.challenges.PutChallenge(ctx, identifierHash, challenge, d.challengeTTL); err != nil {
		return nil, err
	}

	allowed := make([]string, 0, len(creds))
	for _, c := range creds {
		allowed = append(allowed, c.CredentialID)
	}

	d.auditor.Record(ctx, audit.NewEvent(models.EventWebAuthnChallenge, identifierHash, "", "",
		fmt.Sprintf("credentials=%d", len(allowed))))

	return &StartResult{
		Challenge:        challenge,
		AllowCredentials: allowed,
		RPID:             d.rpID,
		TimeoutMs:        d.timeoutMs,
	}, nil
}

// CompleteAuthentication verifies the assertion and enforces counter
// monotonicity. A counter less than or equal to the stored value means two
// physical devices share the credential's key material: the credential is
// permanently deactivated and the call fails with a clone-detected error.
func (d *Detector) CompleteAuthentication(ctx context.Context, identifier string, assertion *models.Assertion) (*CompleteResult, error) {
	if identifier == "" || assertion == nil || assertion.CredentialID == "" {
		return nil, fmt.Errorf("%w: identifier and assertion are required", apperrors.ErrValidation)
	}
	identifierHash := otp.HashIdentifier(identifier)

	challenge, err := d.challenges.TakeChallenge(ctx, identifierHash)
	if err != nil {
		return nil, err
	}

	cred, err := d.creds.Get(ctx, identifierHash, assertion.CredentialID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown credential", apperrors.ErrCredentialUnusable)
		}
		return nil, err
	}
	if !cred.IsActive {
		d.auditor.Record(ctx, audit.NewEvent(models.EventWebAuthnRejected, identifierHash, "", "",
			"credential inactive"))
		return nil, fmt.Errorf("%w: credential deactivated", apperrors.ErrCredentialUnusable)
	}

	newCounter, err := d.verifier.VerifyAssertion(ctx, cred, challenge, assertion)
	if err != nil {
		d.auditor.Record(ctx, audit.NewEvent(models.EventWebAuthnRejected, identifierHash, "", "",
			"assertion verification failed"))
		return nil, fmt.Errorf("%w: %v", apperrors.ErrAssertionInvalid, err)
	}

	if newCounter <= cred.Counter {
		return nil, d.handleCloneDetected(ctx, cred, newCounter)
	}

	applied, err := d.creds.UpdateCounter(ctx, identifierHash, cred.CredentialID, cred.Counter, newCounter, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to update credential counter: %w", err)
	}
	if !applied {
		// A concurrent assertion moved the counter first. Whatever it moved it
		// to, our assertion was signed against stale state; treat it exactly
		// like a non-increasing counter.
		fresh, ferr := d.creds.Get(ctx, identifierHash, cred.CredentialID)
		if ferr == nil && fresh != nil {
			cred = fresh
		}
		return nil, d.handleCloneDetected(ctx, cred, newCounter)
	}

	token, err := d.mintSession(ctx, identifierHash)
	if err != nil {
		return nil, err
	}

	d.auditor.Record(ctx, audit.NewEvent(models.EventWebAuthnVerified, identifierHash, "", "",
		fmt.Sprintf("counter=%d", newCounter)))

	return &CompleteResult{
		SessionToken: token,
		CredentialID: cred.CredentialID,
	}, nil
}

func (d *Detector) handleCloneDetected(ctx context.Context, cred *models.WebAuthnCredential, newCounter uint32) error {
	d.auditor.Record(ctx, audit.NewEvent(models.EventCloningDetected, cred.IdentifierHash, "", "",
		fmt.Sprintf("stored_counter=%d received_counter=%d", cred.Counter, newCounter)))

	if err := d.creds.Deactivate(ctx, cred.IdentifierHash, cred.CredentialID); err != nil {
		util.Error("Failed to deactivate cloned credential",
			zap.String("credential_id", cred.CredentialID),
			zap.Error(err))
	}

	return fmt.Errorf("%w: credential %s", apperrors.ErrCloneDetected, cred.CredentialID)
}

func (d *Detector) mintSession(ctx context.Context, identifierHash string) (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%w: failed to generate session token", apperrors.ErrInternal)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	if err := d.sessions.PutSession(ctx, token, identifierHash, d.sessionTTL); err != nil {
		return "", err
	}
	return token, nil
}

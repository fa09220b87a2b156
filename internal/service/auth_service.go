package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"wallet-auth-service/internal/audit"
	"wallet-auth-service/internal/config"
	"wallet-auth-service/internal/delivery"
	"wallet-auth-service/internal/models"
	"wallet-auth-service/internal/otp"
	"wallet-auth-service/internal/ratelimit"
	"wallet-auth-service/internal/util"
	"wallet-auth-service/internal/webauthn"
)

// AuthService orchestrates the OTP and WebAuthn flows: rate limiting in
// front, code issuance and delivery, verification, clone detection.
type AuthService struct {
	otpStore *otp.Store
	detector *webauthn.Detector
	limiter  *ratelimit.Limiter
	sender   delivery.CodeSender
	auditor  audit.Auditor

	production bool
}

// InitiateResult is the response to an initiate call. DebugCode is populated
// outside production only, for integration environments without a real
// delivery channel.
type InitiateResult struct {
	SessionID        string
	ExpiresInSeconds int
	DebugCode        string
}

// VerifyOutcome reports a code check to the transport layer.
type VerifyOutcome struct {
	Success           bool
	AttemptsRemaining int
}

func NewAuthService(cfg *config.Config, otpStore *otp.Store, detector *webauthn.Detector, limiter *ratelimit.Limiter, sender delivery.CodeSender, auditor audit.Auditor) *AuthService {
	return &AuthService{
		otpStore:   otpStore,
		detector:   detector,
		limiter:    limiter,
		sender:     sender,
		auditor:    auditor,
		production: cfg.IsProduction(),
	}
}

// Initiate issues an OTP session for the identifier and dispatches the code
// to the delivery channel. A delivery failure does not invalidate the
// session; the user can re-initiate.
func (s *AuthService) Initiate(ctx context.Context, identifier string, meta models.ClientMeta) (*InitiateResult, error) {
	identifierHash := otp.HashIdentifier(identifier)

	if err := s.checkLimit(ctx, ratelimit.ScopeInitiatePerIP, meta.IPAddress, identifierHash); err != nil {
		return nil, err
	}
	if err := s.checkLimit(ctx, ratelimit.ScopeInitiatePerIdentifier, identifierHash, identifierHash); err != nil {
		return nil, err
	}

	issued, err := s.otpStore.Create(ctx, identifier, meta)
	if err != nil {
		return nil, err
	}

	if err := s.sender.SendCode(ctx, identifier, issued.Code, issued.ExpiresAt); err != nil {
		util.Error("Code delivery dispatch failed",
			zap.String("session_id", issued.SessionID),
			zap.Error(err))
	}

	result := &InitiateResult{
		SessionID:        issued.SessionID,
		ExpiresInSeconds: int(time.Until(issued.ExpiresAt).Seconds()),
	}
	if !s.production {
		result.DebugCode = issued.Code
	}

	return result, nil
}

// Verify checks a supplied code. Rate limits are consumed before the session
// is even loaded, so hammering an unknown session still burns budget.
func (s *AuthService) Verify(ctx context.Context, sessionID, code string, meta models.ClientMeta) (*VerifyOutcome, error) {
	if err := s.checkLimit(ctx, ratelimit.ScopeVerifyPerSession, sessionID, ""); err != nil {
		return nil, err
	}
	if err := s.checkLimit(ctx, ratelimit.ScopeVerifyPerIP, meta.IPAddress, ""); err != nil {
		return nil, err
	}

	result, err := s.otpStore.Verify(ctx, sessionID, code, meta)
	if err != nil {
		return nil, err
	}

	return &VerifyOutcome{
		Success:           result.Success,
		AttemptsRemaining: result.AttemptsRemaining,
	}, nil
}

// WebAuthnStart begins a second-factor ceremony.
func (s *AuthService) WebAuthnStart(ctx context.Context, identifier string) (*webauthn.StartResult, error) {
	return s.detector.StartAuthentication(ctx, identifier)
}

// WebAuthnComplete finishes a ceremony and returns an authenticated session
// token.
func (s *AuthService) WebAuthnComplete(ctx context.Context, identifier string, assertion *models.Assertion) (*webauthn.CompleteResult, error) {
	return s.detector.CompleteAuthentication(ctx, identifier, assertion)
}

// SweepExpired runs one cleanup pass over expired OTP sessions.
func (s *AuthService) SweepExpired(ctx context.Context) (int, error) {
	return s.otpStore.SweepExpired(ctx)
}

func (s *AuthService) checkLimit(ctx context.Context, scope ratelimit.Scope, key, subjectHash string) error {
	if key == "" {
		return nil
	}

	decision, err := s.limiter.Allow(ctx, scope, key)
	if err != nil {
		// Fail open on limiter outage.
		util.Error("Rate limit check unavailable",
			zap.String("scope", string(scope)),
			zap.Error(err))
		return nil
	}
	if !decision.Allowed {
		s.auditor.Record(ctx, audit.NewEvent(models.EventRateLimited, subjectHash, "", "",
			string(scope)))
		return ratelimit.Exceeded(scope, decision)
	}
	return nil
}

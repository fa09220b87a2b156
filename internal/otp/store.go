package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"wallet-auth-service/internal/apperrors"
	"wallet-auth-service/internal/audit"
	"wallet-auth-service/internal/config"
	"wallet-auth-service/internal/models"
	"wallet-auth-service/internal/util"
)

const (
	codeMin          = 100000
	codeRange        = 900000
	sessionIDBytes   = 32
	codeSaltBytes    = 16
	maxVerifyRetries = 3
)

// Store issues and verifies six-digit one-time codes. Neither the raw
// identifier nor the raw code is ever persisted: the identifier is stored as
// a SHA-256 hash and the code as a per-session salted hash.
type Store struct {
	repo        models.OtpSessionRepository
	auditor     audit.Auditor
	ttl         time.Duration
	maxAttempts int
}

// IssueResult is returned by Create. Code is handed to the delivery channel
// by the caller and must never be persisted or logged.
type IssueResult struct {
	SessionID      string
	Code           string
	IdentifierHash string
	ExpiresAt      time.Time
}

// VerifyResult reports the outcome of a code check. Success false with a nil
// error means the code did not match; AttemptsRemaining tells the caller how
// many tries are left on the session.
type VerifyResult struct {
	Success           bool
	IdentifierHash    string
	AttemptsRemaining int
}

func NewStore(cfg *config.Config, repo models.OtpSessionRepository, auditor audit.Auditor) *Store {
	return &Store{
		repo:        repo,
		auditor:     auditor,
		ttl:         cfg.OTP.TTL,
		maxAttempts: cfg.OTP.MaxAttempts,
	}
}

// HashIdentifier normalizes and hashes a destination identifier. Everything
// downstream of Create operates on this hash.
func HashIdentifier(identifier string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(identifier))))
	return hex.EncodeToString(sum[:])
}

// Create issues a fresh session: a uniform six-digit code, a per-session
// salt, and an opaque session ID with 256 bits of entropy.
func (s *Store) Create(ctx context.Context, identifier string, meta models.ClientMeta) (*IssueResult, error) {
	if strings.TrimSpace(identifier) == "" {
		return nil, fmt.Errorf("%w: identifier must not be empty", apperrors.ErrValidation)
	}

	code, err := generateCode()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to generate code", apperrors.ErrInternal)
	}

	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to generate session id", apperrors.ErrInternal)
	}

	salt := make([]byte, codeSaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("%w: failed to generate salt", apperrors.ErrInternal)
	}

	now := time.Now().UTC()
	identifierHash := HashIdentifier(identifier)
	session := &models.OtpSession{
		SessionID:        sessionID,
		IdentifierHash:   identifierHash,
		OTPHash:          hashCode(salt, code),
		OTPSalt:          base64.StdEncoding.EncodeToString(salt),
		Attempts:         0,
		Used:             false,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.ttl),
		ClientUserAgent:  meta.UserAgent,
		ClientIPHash:     hashIP(meta.IPAddress),
		ClientDomainHint: meta.DomainHint,
	}

	if err := s.repo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to store OTP session: %w", err)
	}

	s.auditor.Record(ctx, audit.NewEvent(models.EventOTPIssued, identifierHash, sessionID, session.ClientIPHash,
		fmt.Sprintf("ttl_seconds=%d", int(s.ttl.Seconds()))))

	util.Info("OTP session created",
		zap.String("session_id", sessionID),
		zap.Time("expires_at", session.ExpiresAt))

	return &IssueResult{
		SessionID:      sessionID,
		Code:           code,
		IdentifierHash: identifierHash,
		ExpiresAt:      session.ExpiresAt,
	}, nil
}

// Verify checks a supplied code against a session. Precedence of failures:
// not found, already used, expired, attempts exceeded, then the actual code
// comparison. The attempt increment and the terminal used flip are both
// conditional store updates, so two concurrent verifies on one session can
// never both succeed.
func (s *Store) Verify(ctx context.Context, sessionID, suppliedCode string, meta models.ClientMeta) (*VerifyResult, error) {
	ipHash := hashIP(meta.IPAddress)

	for attempt := 0; attempt < maxVerifyRetries; attempt++ {
		session, err := s.repo.Get(ctx, sessionID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				s.auditor.Record(ctx, audit.NewEvent(models.EventOTPNotFound, "", sessionID, ipHash, ""))
				return nil, fmt.Errorf("%w: otp session", apperrors.ErrNotFound)
			}
			return nil, fmt.Errorf("failed to load OTP session: %w", err)
		}

		if session.Used {
			s.auditor.Record(ctx, audit.NewEvent(models.EventOTPAlreadyUsed, session.IdentifierHash, sessionID, ipHash, ""))
			return nil, fmt.Errorf("%w: otp session", apperrors.ErrAlreadyUsed)
		}

		if time.Now().UTC().After(session.ExpiresAt) {
			s.auditor.Record(ctx, audit.NewEvent(models.EventOTPExpired, session.IdentifierHash, sessionID, ipHash, ""))
			return nil, fmt.Errorf("%w: otp session", apperrors.ErrExpired)
		}

		if session.Attempts >= s.maxAttempts {
			s.auditor.Record(ctx, audit.NewEvent(models.EventOTPAttemptsExceeded, session.IdentifierHash, sessionID, ipHash, ""))
			return nil, fmt.Errorf("%w: otp session", apperrors.ErrAttemptsExceeded)
		}

		applied, err := s.repo.IncrementAttempts(ctx, sessionID, session.Attempts)
		if err != nil {
			return nil, fmt.Errorf("failed to increment attempts: %w", err)
		}
		if !applied {
			// Lost the conditional update to a concurrent verify; re-read and
			// re-run the precedence checks against the new state.
			continue
		}

		attempts := session.Attempts + 1
		if s.codeMatches(session, suppliedCode) {
			return s.finishSuccess(ctx, session, ipHash)
		}

		s.auditor.Record(ctx, audit.NewEvent(models.EventOTPMismatch, session.IdentifierHash, sessionID, ipHash,
			fmt.Sprintf("attempts=%d", attempts)))

		return &VerifyResult{
			Success:           false,
			IdentifierHash:    session.IdentifierHash,
			AttemptsRemaining: s.maxAttempts - attempts,
		}, nil
	}

	return nil, fmt.Errorf("%w: otp session contention", apperrors.ErrInternal)
}

func (s *Store) finishSuccess(ctx context.Context, session *models.OtpSession, ipHash string) (*VerifyResult, error) {
	applied, err := s.repo.MarkUsed(ctx, session.SessionID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to mark session used: %w", err)
	}
	if !applied {
		// A concurrent verify flipped the flag between our increment and this
		// update. That verify owns the success.
		s.auditor.Record(ctx, audit.NewEvent(models.EventOTPAlreadyUsed, session.IdentifierHash, session.SessionID, ipHash, ""))
		return nil, fmt.Errorf("%w: otp session", apperrors.ErrAlreadyUsed)
	}

	s.auditor.Record(ctx, audit.NewEvent(models.EventOTPVerified, session.IdentifierHash, session.SessionID, ipHash, ""))

	util.Info("OTP session verified", zap.String("session_id", session.SessionID))

	return &VerifyResult{
		Success:           true,
		IdentifierHash:    session.IdentifierHash,
		AttemptsRemaining: s.maxAttempts - session.Attempts - 1,
	}, nil
}

func (s *Store) codeMatches(session *models.OtpSession, suppliedCode string) bool {
	salt, err := base64.StdEncoding.DecodeString(session.OTPSalt)
	if err != nil {
		return false
	}
	supplied := hashCode(salt, suppliedCode)
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(session.OTPHash)) == 1
}

// SweepExpired purges sessions past their expiry. Safe to run concurrently
// from multiple workers; deletes are idempotent.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	count, err := s.repo.SweepExpired(ctx)
	if err != nil {
		return count, err
	}
	if count > 0 {
		s.auditor.Record(ctx, audit.NewEvent(models.EventOTPSwept, "", "", "",
			fmt.Sprintf("deleted=%d", count)))
	}
	return count, nil
}

// MaxAttempts exposes the configured limit for response payloads.
func (s *Store) MaxAttempts() int {
	return s.maxAttempts
}

// TTL exposes the configured session lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeRange))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}

func generateSessionID() (string, error) {
	buf := make([]byte, sessionIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashCode(salt []byte, code string) string {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(code))
	return hex.EncodeToString(h.Sum(nil))
}

func hashIP(ip string) string {
	if ip == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])
}

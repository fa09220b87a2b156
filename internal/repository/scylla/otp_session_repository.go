package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"wallet-auth-service/internal/apperrors"
	"wallet-auth-service/internal/models"
	"wallet-auth-service/internal/util"
)

// OtpSessionRepository persists OTP sessions. All mutations of attempts/used
// are lightweight transactions so concurrent verifies cannot both apply.
type OtpSessionRepository struct {
	client *ScyllaClient
}

func NewOtpSessionRepository(client *ScyllaClient) *OtpSessionRepository {
	return &OtpSessionRepository{client: client}
}

func (r *OtpSessionRepository) Create(ctx context.Context, session *models.OtpSession) error {
	query := r.client.Prepared.CreateOtpSession.WithContext(ctx).Bind(
		session.SessionID, session.IdentifierHash, session.OTPHash, session.OTPSalt,
		session.Attempts, session.Used, session.UsedAt, session.CreatedAt,
		session.ExpiresAt, session.ClientUserAgent, session.ClientIPHash,
		session.ClientDomainHint)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to create OTP session",
			zap.String("session_id", session.SessionID),
			zap.Error(err))
		return fmt.Errorf("failed to create OTP session: %w", err)
	}

	return nil
}

func (r *OtpSessionRepository) Get(ctx context.Context, sessionID string) (*models.OtpSession, error) {
	session := &models.OtpSession{}

	query := r.client.Prepared.GetOtpSession.WithContext(ctx).Bind(sessionID)

	err := query.Scan(
		&session.SessionID, &session.IdentifierHash, &session.OTPHash,
		&session.OTPSalt, &session.Attempts, &session.Used, &session.UsedAt,
		&session.CreatedAt, &session.ExpiresAt, &session.ClientUserAgent,
		&session.ClientIPHash, &session.ClientDomainHint)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("%w: otp session %s", apperrors.ErrNotFound, sessionID)
		}
		util.Error("Failed to get OTP session",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get OTP session: %w", err)
	}

	return session, nil
}

// IncrementAttempts is a compare-and-set: it applies only when the row still
// holds the expected attempt count and is unused.
func (r *OtpSessionRepository) IncrementAttempts(ctx context.Context, sessionID string, expected int) (bool, error) {
	applied, err := r.client.Session.Query(`
        UPDATE otp_sessions SET attempts = ?
        WHERE session_id = ? IF attempts = ? AND used = false`,
		expected+1, sessionID, expected).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return false, fmt.Errorf("failed to increment OTP attempts: %w", err)
	}
	return applied, nil
}

// MarkUsed flips the terminal used flag; applies only when still unused.
func (r *OtpSessionRepository) MarkUsed(ctx context.Context, sessionID string, usedAt time.Time) (bool, error) {
	applied, err := r.client.Session.Query(`
        UPDATE otp_sessions SET used = true, used_at = ?
        WHERE session_id = ? IF used = false`,
		usedAt, sessionID).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return false, fmt.Errorf("failed to mark OTP session used: %w", err)
	}
	return applied, nil
}

// SweepExpired deletes sessions past their expiry in batches. Concurrent
// sweepers may race over the same rows; deletes are idempotent so that is
// harmless.
func (r *OtpSessionRepository) SweepExpired(ctx context.Context) (int, error) {
	iter := r.client.Session.Query(`
        SELECT session_id FROM otp_sessions
        WHERE expires_at < ? ALLOW FILTERING`, time.Now().UTC()).
		WithContext(ctx).Iter()

	var sessionID string
	deletedCount := 0

	batch := r.client.Session.NewBatch(gocql.UnloggedBatch)
	batchSize := 0

	for iter.Scan(&sessionID) {
		batch.Query(`DELETE FROM otp_sessions WHERE session_id = ?`, sessionID)
		batchSize++

		if batchSize >= 100 {
			if err := r.client.ExecuteBatch(batch); err != nil {
				iter.Close()
				return deletedCount, fmt.Errorf("failed to delete expired OTP sessions: %w", err)
			}
			deletedCount += batchSize
			batch = r.client.Session.NewBatch(gocql.UnloggedBatch)
			batchSize = 0
		}
	}

	if batchSize > 0 {
		if err := r.client.ExecuteBatch(batch); err != nil {
			iter.Close()
			return deletedCount, fmt.Errorf("failed to delete expired OTP sessions: %w", err)
		}
		deletedCount += batchSize
	}

	if err := iter.Close(); err != nil {
		return deletedCount, fmt.Errorf("failed to sweep expired OTP sessions: %w", err)
	}

	if deletedCount > 0 {
		util.Info("Expired OTP sessions swept", zap.Int("deleted_count", deletedCount))
	}
	return deletedCount, nil
}

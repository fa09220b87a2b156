package otp

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet-auth-service/internal/apperrors"
	"wallet-auth-service/internal/config"
	"wallet-auth-service/internal/models"
)

type memorySessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*models.OtpSession
}

func newMemorySessionRepo() *memorySessionRepo {
	return &memorySessionRepo{sessions: make(map[string]*models.OtpSession)}
}

func (r *memorySessionRepo) Create(_ context.Context, s *models.OtpSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.SessionID] = &cp
	return nil
}

func (r *memorySessionRepo) Get(_ context.Context, sessionID string) (*models.OtpSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memorySessionRepo) IncrementAttempts(_ context.Context, sessionID string, expected int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.Used || s.Attempts != expected {
		return false, nil
	}
	s.Attempts++
	return true, nil
}

func (r *memorySessionRepo) MarkUsed(_ context.Context, sessionID string, usedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.Used {
		return false, nil
	}
	s.Used = true
	s.UsedAt = &usedAt
	return true, nil
}

func (r *memorySessionRepo) SweepExpired(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	count := 0
	for id, s := range r.sessions {
		if now.After(s.ExpiresAt) {
			delete(r.sessions, id)
			count++
		}
	}
	return count, nil
}

func (r *memorySessionRepo) expire(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sessionID].ExpiresAt = time.Now().UTC().Add(-time.Second)
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []*models.AuditEvent
}

func (a *recordingAuditor) Record(_ context.Context, e *models.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *recordingAuditor) types() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.events))
	for i, e := range a.events {
		out[i] = e.EventType
	}
	return out
}

func newTestStore() (*Store, *memorySessionRepo, *recordingAuditor) {
	cfg := &config.Config{
		OTP: config.OTPConfig{TTL: 5 * time.Minute, MaxAttempts: 3},
	}
	repo := newMemorySessionRepo()
	auditor := &recordingAuditor{}
	return NewStore(cfg, repo, auditor), repo, auditor
}

func meta() models.ClientMeta {
	return models.ClientMeta{UserAgent: "test-agent", IPAddress: "203.0.113.7"}
}

func TestCreateIssuesSixDigitCode(t *testing.T) {
	store, repo, auditor := newTestStore()

	issued, err := store.Create(context.Background(), "user@example.com", meta())
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), issued.Code)
	assert.GreaterOrEqual(t, len(issued.SessionID), 43) // 32 bytes base64url
	assert.Equal(t, HashIdentifier("user@example.com"), issued.IdentifierHash)

	stored, err := repo.Get(context.Background(), issued.SessionID)
	require.NoError(t, err)
	assert.NotContains(t, stored.OTPHash, issued.Code)
	assert.NotEqual(t, "user@example.com", stored.IdentifierHash)
	assert.Equal(t, 0, stored.Attempts)
	assert.False(t, stored.Used)

	assert.Equal(t, []string{models.EventOTPIssued}, auditor.types())
}

func TestCreateRejectsEmptyIdentifier(t *testing.T) {
	store, _, _ := newTestStore()

	_, err := store.Create(context.Background(), "   ", meta())
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestVerifySucceedsExactlyOnce(t *testing.T) {
	store, _, auditor := newTestStore()

	issued, err := store.Create(context.Background(), "user@example.com", meta())
	require.NoError(t, err)

	result, err := store.Verify(context.Background(), issued.SessionID, issued.Code, meta())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, issued.IdentifierHash, result.IdentifierHash)

	_, err = store.Verify(context.Background(), issued.SessionID, issued.Code, meta())
	assert.ErrorIs(t, err, apperrors.ErrAlreadyUsed)

	assert.Equal(t, []string{
		models.EventOTPIssued,
		models.EventOTPVerified,
		models.EventOTPAlreadyUsed,
	}, auditor.types())
}

func TestVerifyUnknownSession(t *testing.T) {
	store, _, auditor := newTestStore()

	_, err := store.Verify(context.Background(), "no-such-session", "123456", meta())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, []string{models.EventOTPNotFound}, auditor.types())
}

func TestVerifyExpiredSession(t *testing.T) {
	store, repo, auditor := newTestStore()

	issued, err := store.Create(context.Background(), "user@example.com", meta())
	require.NoError(t, err)
	repo.expire(issued.SessionID)

	_, err = store.Verify(context.Background(), issued.SessionID, issued.Code, meta())
	assert.ErrorIs(t, err, apperrors.ErrExpired)
	assert.Equal(t, []string{models.EventOTPIssued, models.EventOTPExpired}, auditor.types())
}

func TestVerifyMismatchCountsAttempts(t *testing.T) {
	store, _, auditor := newTestStore()

	issued, err := store.Create(context.Background(), "user@example.com", meta())
	require.NoError(t, err)

	wrong := "000000"
	if wrong == issued.Code {
		wrong = "000001"
	}

	for i := 1; i <= 3; i++ {
		result, err := store.Verify(context.Background(), issued.SessionID, wrong, meta())
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, 3-i, result.AttemptsRemaining)
	}

	// Exhausted: even the correct code is refused now.
	_, err = store.Verify(context.Background(), issued.SessionID, issued.Code, meta())
	assert.ErrorIs(t, err, apperrors.ErrAttemptsExceeded)

	assert.Equal(t, []string{
		models.EventOTPIssued,
		models.EventOTPMismatch,
		models.EventOTPMismatch,
		models.EventOTPMismatch,
		models.EventOTPAttemptsExceeded,
	}, auditor.types())
}

func TestVerifyConcurrentSingleWinner(t *testing.T) {
	store, _, _ := newTestStore()

	issued, err := store.Create(context.Background(), "user@example.com", meta())
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	var successes int64
	var successMu sync.Mutex

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := store.Verify(context.Background(), issued.SessionID, issued.Code, meta())
			if err == nil && result.Success {
				successMu.Lock()
				successes++
				successMu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), successes)
}

func TestSweepExpired(t *testing.T) {
	store, repo, auditor := newTestStore()

	fresh, err := store.Create(context.Background(), "fresh@example.com", meta())
	require.NoError(t, err)
	stale, err := store.Create(context.Background(), "stale@example.com", meta())
	require.NoError(t, err)
	repo.expire(stale.SessionID)

	count, err := store.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = repo.Get(context.Background(), fresh.SessionID)
	assert.NoError(t, err)
	_, err = repo.Get(context.Background(), stale.SessionID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	assert.Contains(t, auditor.types(), models.EventOTPSwept)
}

func TestGenerateCodeStaysInRange(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		require.GreaterOrEqual(t, code, "100000")
		require.LessOrEqual(t, code, "999999")
	}
}

func TestHashIdentifierNormalizes(t *testing.T) {
	assert.Equal(t,
		HashIdentifier("User@Example.com "),
		HashIdentifier("user@example.com"))
	assert.NotEqual(t,
		HashIdentifier("a@example.com"),
		HashIdentifier("b@example.com"))
}

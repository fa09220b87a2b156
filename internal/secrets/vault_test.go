package secrets

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet-auth-service/internal/apperrors"
	"wallet-auth-service/internal/config"
	"wallet-auth-service/internal/crypto"
)

type memoryBlobStore struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemoryBlobStore() *memoryBlobStore {
	return &memoryBlobStore{entries: make(map[string][]byte)}
}

func (s *memoryBlobStore) Put(_ context.Context, entryID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entryID] = data
	return nil
}

func (s *memoryBlobStore) Fetch(_ context.Context, entryID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.entries[entryID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return data, nil
}

func (s *memoryBlobStore) Remove(_ context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, entryID)
	return nil
}

// xorWrapper is a stand-in for KMS envelope encryption.
type xorWrapper struct{}

func (xorWrapper) Wrap(_ context.Context, plaintext []byte) ([]byte, error) {
	out := make([]byte, len(plaintext))
	for i, b := range plaintext {
		out[i] = b ^ 0x5a
	}
	return out, nil
}

func (w xorWrapper) Unwrap(ctx context.Context, ciphertext []byte) ([]byte, error) {
	return w.Wrap(ctx, ciphertext)
}

func newTestVault(t *testing.T, wrapper Wrapper) (*Vault, *memoryBlobStore) {
	t.Helper()
	cipher, err := crypto.NewCipher(config.KDFConfig{
		Backend:          crypto.BackendPBKDF2,
		PBKDF2Iterations: 1000,
		Timeout:          5 * time.Second,
		MaxConcurrent:    2,
	})
	require.NoError(t, err)
	store := newMemoryBlobStore()
	return NewVault(cipher, store, wrapper), store
}

func TestVaultRoundTrip(t *testing.T) {
	vault, _ := newTestVault(t, nil)

	entryID, err := vault.Store(context.Background(), []byte("seed phrase"), "passphrase")
	require.NoError(t, err)
	require.NotEmpty(t, entryID)

	got, err := vault.Retrieve(context.Background(), entryID, "passphrase")
	require.NoError(t, err)
	assert.Equal(t, []byte("seed phrase"), got)
}

func TestVaultWrongPassphrase(t *testing.T) {
	vault, _ := newTestVault(t, nil)

	entryID, err := vault.Store(context.Background(), []byte("seed phrase"), "right")
	require.NoError(t, err)

	_, err = vault.Retrieve(context.Background(), entryID, "wrong")
	assert.ErrorIs(t, err, apperrors.ErrDecryptionFailed)
}

func TestVaultRejectsEmptyPassphrase(t *testing.T) {
	vault, _ := newTestVault(t, nil)

	_, err := vault.Store(context.Background(), []byte("x"), "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestVaultWrappedRoundTrip(t *testing.T) {
	vault, store := newTestVault(t, xorWrapper{})

	entryID, err := vault.Store(context.Background(), []byte("wrapped secret"), "passphrase")
	require.NoError(t, err)

	raw, err := store.Fetch(context.Background(), entryID)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "wrapped secret")

	got, err := vault.Retrieve(context.Background(), entryID, "passphrase")
	require.NoError(t, err)
	assert.Equal(t, []byte("wrapped secret"), got)
}

func TestVaultWrappedEntryNeedsWrapper(t *testing.T) {
	wrapped, store := newTestVault(t, xorWrapper{})

	entryID, err := wrapped.Store(context.Background(), []byte("secret"), "p")
	require.NoError(t, err)

	// A vault without the wrapper cannot open wrapped entries.
	cipher, err := crypto.NewCipher(config.KDFConfig{
		Backend:          crypto.BackendPBKDF2,
		PBKDF2Iterations: 1000,
		Timeout:          5 * time.Second,
		MaxConcurrent:    2,
	})
	require.NoError(t, err)
	unwrapped := NewVault(cipher, store, nil)

	_, err = unwrapped.Retrieve(context.Background(), entryID, "p")
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestVaultDeleteIsIdempotent(t *testing.T) {
	vault, _ := newTestVault(t, nil)

	entryID, err := vault.Store(context.Background(), []byte("x"), "p")
	require.NoError(t, err)

	require.NoError(t, vault.Delete(context.Background(), entryID))
	require.NoError(t, vault.Delete(context.Background(), entryID))

	_, err = vault.Retrieve(context.Background(), entryID, "p")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

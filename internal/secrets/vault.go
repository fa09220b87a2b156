package secrets

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wallet-auth-service/internal/apperrors"
	"wallet-auth-service/internal/crypto"
	"wallet-auth-service/internal/util"
)

// BlobStore persists serialized vault entries keyed by entry ID.
type BlobStore interface {
	Put(ctx context.Context, entryID string, data []byte) error
	Fetch(ctx context.Context, entryID string) ([]byte, error)
	Remove(ctx context.Context, entryID string) error
}

// Wrapper adds an outer encryption layer around the passphrase-sealed blob,
// typically backed by AWS KMS. Optional.
type Wrapper interface {
	Wrap(ctx context.Context, plaintext []byte) ([]byte, error)
	Unwrap(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// entry is the stored form. When Wrapped is set, Blob holds the KMS-wrapped
// serialization of the inner EncryptedBlob instead of the blob itself.
type entry struct {
	EntryID   string                `json:"entry_id"`
	Wrapped   bool                  `json:"wrapped"`
	Blob      *crypto.EncryptedBlob `json:"blob,omitempty"`
	WrappedB  string                `json:"wrapped_blob,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}

// Vault stores user secrets sealed under a passphrase the service never
// persists. The passphrase seals via the credential cipher; KMS wrapping, if
// configured, protects the blob against store-level compromise.
type Vault struct {
	cipher  *crypto.Cipher
	store   BlobStore
	wrapper Wrapper
}

func NewVault(cipher *crypto.Cipher, store BlobStore, wrapper Wrapper) *Vault {
	return &Vault{cipher: cipher, store: store, wrapper: wrapper}
}

// Store seals a secret under the passphrase and persists it. Returns the new
// entry ID.
func (v *Vault) Store(ctx context.Context, secret []byte, passphrase string) (string, error) {
	if passphrase == "" {
		return "", fmt.Errorf("%w: passphrase must not be empty", apperrors.ErrValidation)
	}

	blob, err := v.cipher.Encrypt(ctx, secret, passphrase)
	if err != nil {
		return "", err
	}

	e := &entry{
		EntryID:   uuid.New().String(),
		CreatedAt: time.Now().UTC(),
	}

	if v.wrapper != nil {
		inner, err := json.Marshal(blob)
		if err != nil {
			return "", fmt.Errorf("failed to marshal vault blob: %w", err)
		}
		wrapped, err := v.wrapper.Wrap(ctx, inner)
		if err != nil {
			return "", fmt.Errorf("failed to wrap vault blob: %w", err)
		}
		e.Wrapped = true
		e.WrappedB = base64.StdEncoding.EncodeToString(wrapped)
	} else {
		e.Blob = blob
	}

	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to marshal vault entry: %w", err)
	}
	if err := v.store.Put(ctx, e.EntryID, data); err != nil {
		return "", fmt.Errorf("failed to persist vault entry: %w", err)
	}

	util.Info("Vault entry stored",
		zap.String("entry_id", e.EntryID),
		zap.Bool("kms_wrapped", e.Wrapped))

	return e.EntryID, nil
}

// Retrieve opens a stored secret. Wrong passphrases and corrupted blobs are
// indistinguishable to the caller.
func (v *Vault) Retrieve(ctx context.Context, entryID, passphrase string) ([]byte, error) {
	data, err := v.store.Fetch(ctx, entryID)
	if err != nil {
		return nil, err
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, apperrors.ErrDecryptionFailed
	}

	blob := e.Blob
	if e.Wrapped {
		if v.wrapper == nil {
			return nil, fmt.Errorf("%w: entry is KMS-wrapped but no wrapper configured", apperrors.ErrConfiguration)
		}
		wrapped, err := base64.StdEncoding.DecodeString(e.WrappedB)
		if err != nil {
			return nil, apperrors.ErrDecryptionFailed
		}
		inner, err := v.wrapper.Unwrap(ctx, wrapped)
		if err != nil {
			return nil, apperrors.ErrDecryptionFailed
		}
		blob = &crypto.EncryptedBlob{}
		if err := json.Unmarshal(inner, blob); err != nil {
			return nil, apperrors.ErrDecryptionFailed
		}
	}
	if blob == nil {
		return nil, apperrors.ErrDecryptionFailed
	}

	return v.cipher.Decrypt(ctx, blob, passphrase)
}

// Delete removes an entry. Idempotent.
func (v *Vault) Delete(ctx context.Context, entryID string) error {
	return v.store.Remove(ctx, entryID)
}

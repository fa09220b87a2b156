package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/semaphore"

	"wallet-auth-service/internal/apperrors"
	"wallet-auth-service/internal/config"
	"wallet-auth-service/internal/util"
)

const (
	saltLength  = 32
	nonceLength = 12
	tagLength   = 16
)

// EncryptedBlob carries an AES-256-GCM payload together with the KDF
// parameters it was derived with. Payload layout after base64 decoding:
// salt[32] || iv[12] || tag[16] || ciphertext.
type EncryptedBlob struct {
	Payload   string    `json:"payload"`
	KDFParams Params    `json:"kdf_params"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// Cipher provides passphrase-based authenticated encryption. The KDF backend
// is chosen once at construction; Encrypt/Decrypt are pure and safe for
// concurrent use. CPU-bound derivations run through a bounded semaphore so
// they never starve request dispatch.
type Cipher struct {
	backend KeyDerivationBackend
	sem     *semaphore.Weighted
	timeout time.Duration
}

func NewCipher(cfg config.KDFConfig) (*Cipher, error) {
	backend, err := NewBackend(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrConfiguration, err)
	}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Cipher{
		backend: backend,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		timeout: timeout,
	}, nil
}

// deriveKey runs the KDF on the bounded pool under the hard timeout. A
// timeout surfaces as ConfigurationError, never a silent hang.
func (c *Cipher) deriveKey(ctx context.Context, backend KeyDerivationBackend, passphrase, salt []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: key derivation queue timed out", apperrors.ErrConfiguration)
	}

	done := make(chan []byte, 1)
	go func() {
		defer c.sem.Release(1)
		done <- backend.DeriveKey(passphrase, salt)
	}()

	select {
	case key := <-done:
		return key, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: key derivation exceeded %s", apperrors.ErrConfiguration, c.timeout)
	}
}

// Encrypt seals plaintext under a key derived from passphrase. A fresh salt
// and nonce are generated on every call; the derived key is never reused
// across calls. Empty plaintext is valid.
func (c *Cipher) Encrypt(ctx context.Context, plaintext []byte, passphrase string) (*EncryptedBlob, error) {
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	nonce := make([]byte, nonceLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	key, err := c.deriveKey(ctx, c.backend, []byte(passphrase), salt)
	if err != nil {
		return nil, err
	}

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	tag := sealed[len(sealed)-tagLength:]
	ciphertext := sealed[:len(sealed)-tagLength]

	payload := make([]byte, 0, saltLength+nonceLength+tagLength+len(ciphertext))
	payload = append(payload, salt...)
	payload = append(payload, nonce...)
	payload = append(payload, tag...)
	payload = append(payload, ciphertext...)

	return &EncryptedBlob{
		Payload:   base64.StdEncoding.EncodeToString(payload),
		KDFParams: c.backend.Params(),
		Version:   "v1",
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Decrypt opens a blob. Malformed payloads, tag mismatches, and wrong
// passphrases are indistinguishable to the caller; detail goes to the debug
// log only. Verification and decryption are a single AEAD operation, so no
// partial plaintext can leak on tag mismatch.
func (c *Cipher) Decrypt(ctx context.Context, blob *EncryptedBlob, passphrase string) ([]byte, error) {
	payload, err := base64.StdEncoding.DecodeString(blob.Payload)
	if err != nil {
		util.Debug("blob payload is not valid base64", util.ErrorField(err))
		return nil, apperrors.ErrDecryptionFailed
	}
	if len(payload) < saltLength+nonceLength+tagLength {
		util.Debug("blob payload too short", util.Int("length", len(payload)))
		return nil, apperrors.ErrDecryptionFailed
	}

	salt := payload[:saltLength]
	nonce := payload[saltLength : saltLength+nonceLength]
	tag := payload[saltLength+nonceLength : saltLength+nonceLength+tagLength]
	ciphertext := payload[saltLength+nonceLength+tagLength:]

	backend, err := BackendFromParams(blob.KDFParams)
	if err != nil {
		util.Debug("blob carries unusable KDF params", util.ErrorField(err))
		return nil, apperrors.ErrDecryptionFailed
	}

	key, err := c.deriveKey(ctx, backend, []byte(passphrase), salt)
	if err != nil {
		return nil, err
	}

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(ciphertext)+tagLength)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, apperrors.ErrDecryptionFailed
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInternal, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInternal, err)
	}
	return aead, nil
}

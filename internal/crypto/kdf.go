package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"

	"wallet-auth-service/internal/config"
)

const (
	BackendArgon2id = "argon2id"
	BackendPBKDF2   = "pbkdf2"

	keyLength     = 32
	phcSaltLength = 16
	argon2Version = 19
)

var ErrInvalidHash = errors.New("invalid hash format")

// Params describes how a key was derived. They are stored alongside every
// encrypted blob so parameter upgrades stay backward-compatible.
type Params struct {
	Backend        string `json:"backend"`
	MemoryExponent int    `json:"memory_exponent,omitempty"`
	TimeCost       int    `json:"time_cost,omitempty"`
	Parallelism    int    `json:"parallelism,omitempty"`
	Iterations     int    `json:"iterations,omitempty"`
}

// KeyDerivationBackend turns a passphrase and salt into a 256-bit key.
// Implementations are pure and safe for concurrent use.
type KeyDerivationBackend interface {
	DeriveKey(passphrase, salt []byte) []byte
	Params() Params
}

type argon2idBackend struct {
	memory  uint32
	time    uint32
	threads uint8
}

func (b *argon2idBackend) DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, b.time, b.memory, b.threads, keyLength)
}

func (b *argon2idBackend) Params() Params {
	exp := 0
	for m := b.memory; m > 1; m >>= 1 {
		exp++
	}
	return Params{
		Backend:        BackendArgon2id,
		MemoryExponent: exp,
		TimeCost:       int(b.time),
		Parallelism:    int(b.threads),
	}
}

type pbkdf2Backend struct {
	iterations int
}

func (b *pbkdf2Backend) DeriveKey(passphrase, salt []byte) []byte {
	return pbkdf2.Key(passphrase, salt, b.iterations, keyLength, sha256.New)
}

func (b *pbkdf2Backend) Params() Params {
	return Params{Backend: BackendPBKDF2, Iterations: b.iterations}
}

// NewBackend builds the backend selected by configuration. Called exactly
// once at startup.
func NewBackend(cfg config.KDFConfig) (KeyDerivationBackend, error) {
	switch cfg.Backend {
	case BackendArgon2id:
		return &argon2idBackend{
			memory:  1 << uint(cfg.MemoryExponent),
			time:    uint32(cfg.TimeCost),
			threads: uint8(cfg.Parallelism),
		}, nil
	case BackendPBKDF2:
		return &pbkdf2Backend{iterations: cfg.PBKDF2Iterations}, nil
	default:
		return nil, fmt.Errorf("unknown KDF backend: %s", cfg.Backend)
	}
}

// BackendFromParams rebuilds the backend a blob was encrypted with, so old
// blobs remain readable after the configured parameters change.
func BackendFromParams(p Params) (KeyDerivationBackend, error) {
	switch p.Backend {
	case BackendArgon2id:
		if p.MemoryExponent < 1 || p.MemoryExponent > 30 || p.TimeCost < 1 || p.Parallelism < 1 {
			return nil, fmt.Errorf("invalid argon2id params")
		}
		return &argon2idBackend{
			memory:  1 << uint(p.MemoryExponent),
			time:    uint32(p.TimeCost),
			threads: uint8(p.Parallelism),
		}, nil
	case BackendPBKDF2:
		if p.Iterations < 1 {
			return nil, fmt.Errorf("invalid pbkdf2 params")
		}
		return &pbkdf2Backend{iterations: p.Iterations}, nil
	default:
		return nil, fmt.Errorf("unknown KDF backend: %s", p.Backend)
	}
}

// HashPassphrase produces a PHC-encoded Argon2id hash with an embedded salt,
// suitable for storage and later VerifyPassphrase calls.
func HashPassphrase(passphrase string, cfg config.KDFConfig) (string, error) {
	salt := make([]byte, phcSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	memory := uint32(1) << uint(cfg.MemoryExponent)
	hash := argon2.IDKey([]byte(passphrase), salt, uint32(cfg.TimeCost), memory, uint8(cfg.Parallelism), keyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version, memory, cfg.TimeCost, cfg.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassphrase reports whether passphrase matches an encoded hash. It
// never returns an error; any parse or derivation failure is a mismatch.
func VerifyPassphrase(passphrase, encodedHash string) bool {
	memory, timeCost, parallelism, salt, hash, err := decodePHC(encodedHash)
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(passphrase), salt, timeCost, memory, parallelism, uint32(len(hash)))
	return subtle.ConstantTimeCompare(computed, hash) == 1
}

func decodePHC(encoded string) (memory, timeCost uint32, parallelism uint8, salt, hash []byte, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return 0, 0, 0, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err = fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2Version {
		return 0, 0, 0, nil, nil, ErrInvalidHash
	}

	var p int
	if _, err = fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &timeCost, &p); err != nil {
		return 0, 0, 0, nil, nil, ErrInvalidHash
	}
	if p < 1 || p > 255 {
		return 0, 0, 0, nil, nil, ErrInvalidHash
	}
	parallelism = uint8(p)

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return 0, 0, 0, nil, nil, ErrInvalidHash
	}
	hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return 0, 0, 0, nil, nil, ErrInvalidHash
	}

	return memory, timeCost, parallelism, salt, hash, nil
}

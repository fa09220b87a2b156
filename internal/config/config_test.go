package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet-auth-service/internal/apperrors"
)

func validConfig(environment string) *Config {
	return &Config{
		Environment: environment,
		KDF: KDFConfig{
			Backend:          "argon2id",
			MemoryExponent:   16,
			TimeCost:         3,
			Parallelism:      1,
			PBKDF2Iterations: 210000,
			Timeout:          5 * time.Second,
			MaxConcurrent:    4,
		},
		OTP:      OTPConfig{TTL: 5 * time.Minute, MaxAttempts: 3},
		WebAuthn: WebAuthnConfig{RPID: "wallet.example.com"},
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	warnings, err := validConfig("production").Validate()
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestValidateKDFRangesFatalInProduction(t *testing.T) {
	for _, mutate := range []func(*Config){
		func(c *Config) { c.KDF.MemoryExponent = 11 },
		func(c *Config) { c.KDF.MemoryExponent = 19 },
		func(c *Config) { c.KDF.TimeCost = 1 },
		func(c *Config) { c.KDF.TimeCost = 11 },
		func(c *Config) { c.KDF.PBKDF2Iterations = 50000 },
	} {
		cfg := validConfig("production")
		mutate(cfg)
		_, err := cfg.Validate()
		assert.ErrorIs(t, err, apperrors.ErrConfiguration)
	}
}

func TestValidateKDFRangesClampedInDevelopment(t *testing.T) {
	cfg := validConfig("development")
	cfg.KDF.MemoryExponent = 25
	cfg.KDF.TimeCost = 1

	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.Len(t, warnings, 2)
	assert.Equal(t, 18, cfg.KDF.MemoryExponent)
	assert.Equal(t, 2, cfg.KDF.TimeCost)
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := validConfig("development")
	cfg.KDF.Backend = "bcrypt"
	_, err := cfg.Validate()
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestValidateOTPSettings(t *testing.T) {
	cfg := validConfig("development")
	cfg.OTP.MaxAttempts = 0
	_, err := cfg.Validate()
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)

	cfg = validConfig("development")
	cfg.OTP.TTL = 0
	_, err = cfg.Validate()
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestValidateKMSRequiresKeyID(t *testing.T) {
	cfg := validConfig("production")
	cfg.KMS.Enabled = true
	_, err := cfg.Validate()
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)

	cfg.KMS.KeyID = "arn:aws:kms:us-east-1:123456789012:key/abc"
	_, err = cfg.Validate()
	assert.NoError(t, err)
}

func TestValidateWarnsOnLocalhostRPIDInProduction(t *testing.T) {
	cfg := validConfig("production")
	cfg.WebAuthn.RPID = "localhost"
	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.NotEmpty(t, warnings)
}

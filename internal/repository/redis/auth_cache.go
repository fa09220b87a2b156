package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wallet-auth-service/internal/apperrors"
	"wallet-auth-service/internal/client"
	"wallet-auth-service/internal/util"
)

const (
	challengePrefix = "webauthn_challenge:"
	sessionPrefix   = "auth_session:"
)

// AuthCache holds short-lived auth state: pending WebAuthn challenges and
// issued session tokens. Expiry is delegated to Redis TTLs.
type AuthCache struct {
	client *client.RedisClient
}

func NewAuthCache(client *client.RedisClient) *AuthCache {
	return &AuthCache{client: client}
}

func (c *AuthCache) PutChallenge(ctx context.Context, identifierHash, challenge string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := challengePrefix + identifierHash
	if err := c.client.Set(ctx, key, challenge, ttl); err != nil {
		util.Error("Failed to store WebAuthn challenge",
			zap.String("identifier_hash", identifierHash),
			zap.Error(err))
		return fmt.Errorf("failed to store challenge: %w", err)
	}

	return nil
}

// TakeChallenge consumes the pending challenge. A second take, or a take
// after the TTL, reports ErrExpired so the caller restarts the ceremony.
func (c *AuthCache) TakeChallenge(ctx context.Context, identifierHash string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	challenge, err := c.client.GetDel(ctx, challengePrefix+identifierHash)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return "", fmt.Errorf("%w: no pending challenge", apperrors.ErrExpired)
		}
		return "", fmt.Errorf("failed to take challenge: %w", err)
	}

	return challenge, nil
}

func (c *AuthCache) PutSession(ctx context.Context, token, identifierHash string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Set(ctx, sessionPrefix+token, identifierHash, ttl); err != nil {
		return fmt.Errorf("failed to store session token: %w", err)
	}

	return nil
}

func (c *AuthCache) GetSession(ctx context.Context, token string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	identifierHash, err := c.client.Get(ctx, sessionPrefix+token)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return "", fmt.Errorf("%w: session token", apperrors.ErrNotFound)
		}
		return "", fmt.Errorf("failed to get session token: %w", err)
	}

	return identifierHash, nil
}

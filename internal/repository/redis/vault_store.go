package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-auth-service/internal/apperrors"
	"wallet-auth-service/internal/client"
)

const vaultPrefix = "vault_entry:"

// VaultStore persists sealed vault entries. Entries carry no TTL; they live
// until explicitly deleted.
type VaultStore struct {
	client *client.RedisClient
}

func NewVaultStore(client *client.RedisClient) *VaultStore {
	return &VaultStore{client: client}
}

func (s *VaultStore) Put(ctx context.Context, entryID string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.client.Set(ctx, vaultPrefix+entryID, string(data), 0); err != nil {
		return fmt.Errorf("failed to store vault entry: %w", err)
	}
	return nil
}

func (s *VaultStore) Fetch(ctx context.Context, entryID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := s.client.Get(ctx, vaultPrefix+entryID)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: vault entry %s", apperrors.ErrNotFound, entryID)
		}
		return nil, fmt.Errorf("failed to fetch vault entry: %w", err)
	}
	return []byte(data), nil
}

func (s *VaultStore) Remove(ctx context.Context, entryID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.client.Del(ctx, vaultPrefix+entryID); err != nil {
		return fmt.Errorf("failed to remove vault entry: %w", err)
	}
	return nil
}

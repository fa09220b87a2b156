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

// WebAuthnCredentialRepository stores hardware-authenticator credentials,
// partitioned by identifier hash.
type WebAuthnCredentialRepository struct {
	client *ScyllaClient
}

func NewWebAuthnCredentialRepository(client *ScyllaClient) *WebAuthnCredentialRepository {
	return &WebAuthnCredentialRepository{client: client}
}

func (r *WebAuthnCredentialRepository) Create(ctx context.Context, cred *models.WebAuthnCredential) error {
	query := r.client.Prepared.CreateCredential.WithContext(ctx).Bind(
		cred.IdentifierHash, cred.CredentialID, cred.PublicKey, cred.Counter,
		cred.IsActive, cred.DeviceName, cred.AAGUID, cred.CreatedAt, cred.LastUsedAt)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to create WebAuthn credential",
			zap.String("credential_id", cred.CredentialID),
			zap.Error(err))
		return fmt.Errorf("failed to create WebAuthn credential: %w", err)
	}

	return nil
}

func (r *WebAuthnCredentialRepository) Get(ctx context.Context, identifierHash, credentialID string) (*models.WebAuthnCredential, error) {
	cred := &models.WebAuthnCredential{}

	query := r.client.Prepared.GetCredential.WithContext(ctx).Bind(identifierHash, credentialID)

	err := query.Scan(
		&cred.IdentifierHash, &cred.CredentialID, &cred.PublicKey, &cred.Counter,
		&cred.IsActive, &cred.DeviceName, &cred.AAGUID, &cred.CreatedAt, &cred.LastUsedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("%w: credential %s", apperrors.ErrNotFound, credentialID)
		}
		return nil, fmt.Errorf("failed to get WebAuthn credential: %w", err)
	}

	return cred, nil
}

func (r *WebAuthnCredentialRepository) ListActive(ctx context.Context, identifierHash string) ([]*models.WebAuthnCredential, error) {
	iter := r.client.Prepared.ListByIdentifier.WithContext(ctx).Bind(identifierHash).Iter()

	var creds []*models.WebAuthnCredential
	for {
		cred := &models.WebAuthnCredential{}
		if !iter.Scan(
			&cred.IdentifierHash, &cred.CredentialID, &cred.PublicKey, &cred.Counter,
			&cred.IsActive, &cred.DeviceName, &cred.AAGUID, &cred.CreatedAt, &cred.LastUsedAt) {
			break
		}
		if cred.IsActive {
			creds = append(creds, cred)
		}
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list WebAuthn credentials: %w", err)
	}

	return creds, nil
}

// UpdateCounter advances the signature counter via compare-and-set so a
// concurrent assertion on the same credential cannot silently win twice.
func (r *WebAuthnCredentialRepository) UpdateCounter(ctx context.Context, identifierHash, credentialID string, oldCounter, newCounter uint32, usedAt time.Time) (bool, error) {
	applied, err := r.client.Session.Query(`
        UPDATE webauthn_credentials SET counter = ?, last_used_at = ?
        WHERE identifier_hash = ? AND credential_id = ?
        IF counter = ? AND is_active = true`,
		newCounter, usedAt, identifierHash, credentialID, oldCounter).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return false, fmt.Errorf("failed to update credential counter: %w", err)
	}
	return applied, nil
}

// Deactivate permanently disables a credential. Unconditional: once flagged
// as cloned the credential must stay dead even under concurrent updates.
func (r *WebAuthnCredentialRepository) Deactivate(ctx context.Context, identifierHash, credentialID string) error {
	err := r.client.Session.Query(`
        UPDATE webauthn_credentials SET is_active = false
        WHERE identifier_hash = ? AND credential_id = ?`,
		identifierHash, credentialID).
		WithContext(ctx).Exec()
	if err != nil {
		util.Error("Failed to deactivate WebAuthn credential",
			zap.String("credential_id", credentialID),
			zap.Error(err))
		return fmt.Errorf("failed to deactivate credential: %w", err)
	}

	util.Warn("WebAuthn credential permanently deactivated",
		zap.String("credential_id", credentialID))
	return nil
}

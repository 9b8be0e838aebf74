package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/nodeflow-go/internal/vault"
)

// Secret is an encrypted connection document at rest. The blob is sealed
// before it reaches this table; the database never sees plaintext.
type Secret struct {
	VaultID   string    `gorm:"primaryKey;column:vault_id"`
	OrgID     string    `gorm:"index"`
	Blob      string    `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GetSecret implements vault.SecretSource.
func (r *Repository) GetSecret(ctx context.Context, vaultID string) (string, error) {
	var secret Secret
	err := r.db.WithContext(ctx).Where("vault_id = ?", vaultID).First(&secret).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", vault.ErrSecretNotFound
	}
	if err != nil {
		return "", err
	}
	return secret.Blob, nil
}

// PutSecret upserts an encrypted blob under a vault id.
func (r *Repository) PutSecret(ctx context.Context, vaultID, orgID, blob string) error {
	secret := Secret{VaultID: vaultID, OrgID: orgID, Blob: blob}
	return r.db.WithContext(ctx).Save(&secret).Error
}

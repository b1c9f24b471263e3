package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	authdomain "maildash-backend/internal/auth/domain"
	"maildash-backend/pkg/utils/crypto"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TokenRepository is the durable half of the token store.
type TokenRepository interface {
	Save(ctx context.Context, token *authdomain.TokenData) error
	Find(ctx context.Context, provider authdomain.Provider, account string) (*authdomain.TokenData, error)
	Delete(ctx context.Context, provider authdomain.Provider, account string) error
}

// tokenRepository persists tokens in postgres with the payload encrypted.
type tokenRepository struct {
	db     *gorm.DB
	cipher *crypto.Cipher
}

func NewTokenRepository(db *gorm.DB, cipher *crypto.Cipher) TokenRepository {
	return &tokenRepository{
		db:     db,
		cipher: cipher,
	}
}

// Save upserts the token row keyed on (provider, account).
func (r *tokenRepository) Save(ctx context.Context, token *authdomain.TokenData) error {
	if err := token.Validate(); err != nil {
		return err
	}
	payload, err := r.cipher.EncryptJSON(token)
	if err != nil {
		return fmt.Errorf("failed to encrypt token: %w", err)
	}

	now := time.Now()
	record := &authdomain.TokenRecord{
		ID:        uuid.New().String(),
		Provider:  string(token.Provider),
		Account:   token.Account,
		Payload:   payload,
		ExpiresAt: token.Expiry(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	// INSERT ... ON CONFLICT (provider, account) DO UPDATE
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "account"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "expires_at", "updated_at"}),
	}).Create(record).Error
}

// Find returns (nil, nil) when no row exists.
func (r *tokenRepository) Find(ctx context.Context, provider authdomain.Provider, account string) (*authdomain.TokenData, error) {
	var record authdomain.TokenRecord
	err := r.db.WithContext(ctx).
		Where("provider = ? AND account = ?", string(provider), account).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var token authdomain.TokenData
	if err := r.cipher.DecryptJSON(record.Payload, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *tokenRepository) Delete(ctx context.Context, provider authdomain.Provider, account string) error {
	return r.db.WithContext(ctx).
		Where("provider = ? AND account = ?", string(provider), account).
		Delete(&authdomain.TokenRecord{}).Error
}

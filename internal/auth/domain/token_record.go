package domain

import "time"

// TokenRecord is the durable row for one provider account. Payload holds the
// encrypted JSON of the full TokenData so refresh tokens never sit in plain text.
type TokenRecord struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Provider  string    `json:"provider" gorm:"uniqueIndex:idx_token_provider_account;not null"`
	Account   string    `json:"account" gorm:"uniqueIndex:idx_token_provider_account;not null"`
	Payload   string    `json:"-" gorm:"type:text;not null"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (TokenRecord) TableName() string {
	return "provider_tokens"
}

package domain

import "time"

// Subscription records a push registration so that webhook notifications,
// which only carry a subscription id, can be traced back to a mailbox.
type Subscription struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Provider  string    `json:"provider" gorm:"index:idx_subscription_account;not null"`
	Account   string    `json:"account" gorm:"index:idx_subscription_account;not null"`
	Resource  string    `json:"resource"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "watch_subscriptions"
}

package repository

import (
	"context"

	emaildomain "maildash-backend/internal/email/domain"
)

// SubscriptionRepository maps push subscription ids back to mailboxes.
type SubscriptionRepository interface {
	// Save creates or replaces the subscription row.
	Save(ctx context.Context, sub *emaildomain.Subscription) error
	// FindByID returns (nil, nil) when the id is unknown.
	FindByID(ctx context.Context, id string) (*emaildomain.Subscription, error)
	// FindByAccount returns the latest subscription for a mailbox.
	FindByAccount(ctx context.Context, provider, account string) (*emaildomain.Subscription, error)
	Delete(ctx context.Context, id string) error
}

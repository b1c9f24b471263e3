package usecase

import (
	"context"

	authdomain "maildash-backend/internal/auth/domain"
	emaildomain "maildash-backend/internal/email/domain"
)

// EmailUsecase defines the interface for email use cases
type EmailUsecase interface {
	ListEmails(ctx context.Context, token *authdomain.TokenData, filter string) ([]*emaildomain.EmailItem, error)
	// ListAll lists every connected mailbox and merges the results newest
	// first. Providers that fail are reported in the map; the rest still list.
	ListAll(ctx context.Context, tokens []*authdomain.TokenData) ([]*emaildomain.EmailItem, map[authdomain.Provider]error)
	GetEmail(ctx context.Context, token *authdomain.TokenData, id string) (*emaildomain.EmailContent, error)
	GetAttachment(ctx context.Context, token *authdomain.TokenData, messageID, attachmentID string) (*emaildomain.AttachmentData, error)

	Watch(ctx context.Context, token *authdomain.TokenData) (*emaildomain.WatchResult, error)
	RenewWatch(ctx context.Context, token *authdomain.TokenData, subscriptionID string) (*emaildomain.WatchResult, error)

	// RefreshMailbox drops cached content for the account and re-lists it.
	RefreshMailbox(ctx context.Context, provider authdomain.Provider, account string) (int, error)
	// RefreshMessage re-fetches one message through the cache.
	RefreshMessage(ctx context.Context, provider authdomain.Provider, account, messageID string) (*emaildomain.EmailContent, error)
	// SubscriptionAccount resolves a push subscription id to its mailbox.
	SubscriptionAccount(ctx context.Context, subscriptionID string) (*emaildomain.Subscription, error)
}

// TokenRefresher refreshes expired credentials before a provider call.
type TokenRefresher interface {
	EnsureFresh(ctx context.Context, token *authdomain.TokenData) (*authdomain.TokenData, error)
}

// GmailWatcher starts Gmail push notifications on a Pub/Sub topic.
type GmailWatcher interface {
	Watch(ctx context.Context, token *authdomain.TokenData, topicName string, onTokenRefresh emaildomain.TokenUpdateFunc) (*emaildomain.WatchResult, error)
}

// OutlookSubscriber manages Graph change notification subscriptions.
type OutlookSubscriber interface {
	CreateSubscription(ctx context.Context, token *authdomain.TokenData, onTokenRefresh emaildomain.TokenUpdateFunc) (*emaildomain.WatchResult, error)
	RenewSubscription(ctx context.Context, token *authdomain.TokenData, subscriptionID string, onTokenRefresh emaildomain.TokenUpdateFunc) (*emaildomain.WatchResult, error)
}

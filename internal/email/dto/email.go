package dto

import (
	"time"

	emaildomain "maildash-backend/internal/email/domain"
)

type EmailsResponse struct {
	Emails []*emaildomain.EmailItem `json:"emails"`
	// Errors lists providers that failed while others still listed.
	Errors map[string]ProviderError `json:"errors,omitempty"`
}

type ProviderError struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

type WatchResponse struct {
	Success      bool                     `json:"success"`
	Subscription *emaildomain.WatchResult `json:"subscription"`
}

// SubscriptionCookie is the encrypted payload of the outlook_subscription cookie.
type SubscriptionCookie struct {
	ID                 string    `json:"id"`
	ExpirationDateTime time.Time `json:"expirationDateTime"`
}

package domain

import (
	"context"
	"time"

	authdomain "maildash-backend/internal/auth/domain"
)

type Address struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// EmailItem is one row of the message list.
type EmailItem struct {
	ID             string              `json:"id"`
	Snippet        string              `json:"snippet"`
	From           string              `json:"from"`
	Subject        string              `json:"subject"`
	Date           time.Time           `json:"date"`
	HasAttachments bool                `json:"hasAttachments"`
	Service        authdomain.Provider `json:"service"`
}

// EmailContent is a fully normalized message. Body is always sanitized HTML.
type EmailContent struct {
	ID          string              `json:"id"`
	Subject     string              `json:"subject"`
	From        string              `json:"from"`
	FromAddress string              `json:"fromAddress,omitempty"`
	To          []Address           `json:"to"`
	Cc          []Address           `json:"cc"`
	Bcc         []Address           `json:"bcc,omitempty"`
	ReplyTo     []Address           `json:"replyTo,omitempty"`
	Date        time.Time           `json:"date"`
	Body        string              `json:"body"`
	ContentType string              `json:"contentType"`
	Attachments []Attachment        `json:"attachments"`
	Service     authdomain.Provider `json:"service"`
}

type Attachment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	IsInline    bool   `json:"isInline,omitempty"`
	ContentID   string `json:"contentId,omitempty"`
}

// AttachmentData is a downloaded attachment.
type AttachmentData struct {
	Attachment
	Data []byte `json:"-"`
}

// WatchResult describes a push registration with the provider.
type WatchResult struct {
	Provider       authdomain.Provider `json:"provider"`
	SubscriptionID string              `json:"id,omitempty"`
	HistoryID      uint64              `json:"historyId,omitempty"`
	Resource       string              `json:"resource,omitempty"`
	ExpiresAt      time.Time           `json:"expirationDateTime"`
}

// TokenUpdateFunc is called whenever a provider refreshes credentials mid-call.
type TokenUpdateFunc func(token *authdomain.TokenData) error

// MailProvider is the read surface every provider exposes to the email usecase.
type MailProvider interface {
	Name() authdomain.Provider
	ListMessages(ctx context.Context, token *authdomain.TokenData, filter string, onTokenRefresh TokenUpdateFunc) ([]*EmailItem, error)
	GetMessage(ctx context.Context, token *authdomain.TokenData, id string, onTokenRefresh TokenUpdateFunc) (*EmailContent, error)
	GetAttachment(ctx context.Context, token *authdomain.TokenData, messageID, attachmentID string, onTokenRefresh TokenUpdateFunc) (*AttachmentData, error)
}

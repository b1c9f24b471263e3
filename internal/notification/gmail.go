// Package notification turns provider push notifications into mailbox and
// message refreshes.
package notification

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	authdomain "maildash-backend/internal/auth/domain"
	"maildash-backend/internal/email/usecase"
	"maildash-backend/pkg/logger"

	"github.com/goccy/go-json"
)

// ErrBadEnvelope marks push bodies that cannot be decoded at all.
var ErrBadEnvelope = errors.New("invalid pub/sub message format")

// HistoryID accepts both the numeric and the string form Gmail sends.
type HistoryID uint64

func (h *HistoryID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*h = 0
		return nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid historyId %q: %w", s, err)
	}
	*h = HistoryID(n)
	return nil
}

type GmailNotification struct {
	EmailAddress string    `json:"emailAddress"`
	HistoryID    HistoryID `json:"historyId"`
}

// PushEnvelope is the body Pub/Sub POSTs to a push endpoint.
type PushEnvelope struct {
	Message struct {
		Data        string            `json:"data"`
		MessageID   string            `json:"messageId"`
		PublishTime string            `json:"publishTime"`
		Attributes  map[string]string `json:"attributes"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// ParsePushEnvelope decodes the envelope and its base64 payload.
func ParsePushEnvelope(body []byte) (*GmailNotification, error) {
	var env PushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if env.Message.Data == "" {
		return nil, fmt.Errorf("%w: missing message data", ErrBadEnvelope)
	}
	data, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		data, err = base64.URLEncoding.DecodeString(env.Message.Data)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: message data is not base64", ErrBadEnvelope)
	}
	return ParseNotification(data)
}

// ParseNotification decodes the inner {emailAddress, historyId} payload.
func ParseNotification(data []byte) (*GmailNotification, error) {
	var n GmailNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	return &n, nil
}

type Outcome string

const (
	OutcomeRefreshed      Outcome = "refreshed"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeUnknownAccount Outcome = "unknown_account"
	OutcomeIncomplete     Outcome = "incomplete"
	OutcomeFailed         Outcome = "failed"
)

// GmailProcessor refreshes the notified mailbox, skipping history ids it has
// already seen for that account.
type GmailProcessor struct {
	emailUsecase usecase.EmailUsecase

	mu sync.Mutex
	// Deduplication: last historyId per account
	lastHistoryID map[string]uint64
}

func NewGmailProcessor(emailUsecase usecase.EmailUsecase) *GmailProcessor {
	return &GmailProcessor{
		emailUsecase:  emailUsecase,
		lastHistoryID: make(map[string]uint64),
	}
}

// claim records id for account and reports whether it is newer than the last one.
func (p *GmailProcessor) claim(account string, id uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if last, ok := p.lastHistoryID[account]; ok && id <= last {
		return false
	}
	p.lastHistoryID[account] = id
	return true
}

func (p *GmailProcessor) release(account string, id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastHistoryID[account] == id {
		delete(p.lastHistoryID, account)
	}
}

// Process never fails for conditions a retry cannot fix; those are reported
// as outcomes so the caller can still acknowledge the message.
func (p *GmailProcessor) Process(ctx context.Context, n *GmailNotification) (Outcome, error) {
	log := logger.Component("gmail_push")
	if n.EmailAddress == "" || n.HistoryID == 0 {
		log.Warn().Str("account", logger.MaskEmail(n.EmailAddress)).Uint64("historyId", uint64(n.HistoryID)).Msg("notification missing fields")
		return OutcomeIncomplete, nil
	}

	l := log.With().Str("account", logger.MaskEmail(n.EmailAddress)).Uint64("historyId", uint64(n.HistoryID)).Logger()
	if !p.claim(n.EmailAddress, uint64(n.HistoryID)) {
		l.Debug().Msg("skipping duplicate notification")
		return OutcomeDuplicate, nil
	}

	count, err := p.emailUsecase.RefreshMailbox(ctx, authdomain.ProviderGmail, n.EmailAddress)
	if err != nil {
		// Let a redelivery of the same history id through.
		p.release(n.EmailAddress, uint64(n.HistoryID))
		if errors.Is(err, usecase.ErrUnknownAccount) {
			l.Warn().Msg("no stored token for notified account")
			return OutcomeUnknownAccount, nil
		}
		l.Error().Err(err).Msg("mailbox refresh failed")
		return "", err
	}

	l.Info().Int("messages", count).Msg("mailbox refreshed from notification")
	return OutcomeRefreshed, nil
}

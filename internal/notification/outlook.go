package notification

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	authdomain "maildash-backend/internal/auth/domain"
	"maildash-backend/internal/email/usecase"
	"maildash-backend/pkg/logger"
)

// ErrClientState rejects a batch carrying a clientState other than ours.
var ErrClientState = errors.New("invalid clientState")

type OutlookNotification struct {
	SubscriptionID                 string        `json:"subscriptionId"`
	SubscriptionExpirationDateTime string        `json:"subscriptionExpirationDateTime"`
	ClientState                    string        `json:"clientState"`
	ChangeType                     string        `json:"changeType"`
	Resource                       string        `json:"resource"`
	TenantID                       string        `json:"tenantId"`
	ResourceData                   *ResourceData `json:"resourceData,omitempty"`
}

type ResourceData struct {
	ODataType string `json:"@odata.type"`
	ID        string `json:"id"`
}

type OutlookBatch struct {
	Value []OutlookNotification `json:"value"`
	// ClientState is accepted at the top level too.
	ClientState string `json:"clientState,omitempty"`
}

type BatchResult struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// MessageIDFromResource returns the last path segment of a Graph resource
// such as "Users/{uid}/Messages/{id}". A trailing slash yields "".
func MessageIDFromResource(resource string) string {
	resource = strings.TrimSpace(resource)
	if i := strings.LastIndexByte(resource, '/'); i >= 0 {
		resource = resource[i+1:]
	}
	// Messages('id') form
	if open := strings.Index(resource, "('"); open >= 0 && strings.HasSuffix(resource, "')") {
		resource = resource[open+2 : len(resource)-2]
	}
	return resource
}

type OutlookProcessor struct {
	emailUsecase usecase.EmailUsecase
	clientState  string
}

func NewOutlookProcessor(emailUsecase usecase.EmailUsecase, clientState string) *OutlookProcessor {
	return &OutlookProcessor{
		emailUsecase: emailUsecase,
		clientState:  clientState,
	}
}

func (p *OutlookProcessor) matches(state string) bool {
	return subtle.ConstantTimeCompare([]byte(state), []byte(p.clientState)) == 1
}

// Validate rejects the whole batch if any notification carries a foreign clientState.
func (p *OutlookProcessor) Validate(batch *OutlookBatch) error {
	if batch.ClientState != "" && !p.matches(batch.ClientState) {
		return ErrClientState
	}
	for i := range batch.Value {
		if !p.matches(batch.Value[i].ClientState) {
			return ErrClientState
		}
	}
	return nil
}

// Process handles notifications one by one; a failing item is logged and
// counted without affecting the rest.
func (p *OutlookProcessor) Process(ctx context.Context, batch *OutlookBatch) BatchResult {
	var result BatchResult
	log := logger.Component("outlook_push")
	for i := range batch.Value {
		n := &batch.Value[i]
		processed, err := p.processOne(ctx, n)
		switch {
		case err != nil:
			result.Failed++
			log.Error().Err(err).Str("subscription", n.SubscriptionID).Str("resource", n.Resource).Msg("notification failed")
		case processed:
			result.Processed++
		default:
			result.Skipped++
		}
	}
	log.Info().Int("received", len(batch.Value)).Int("processed", result.Processed).Int("skipped", result.Skipped).Int("failed", result.Failed).Msg("outlook notifications handled")
	return result
}

func (p *OutlookProcessor) processOne(ctx context.Context, n *OutlookNotification) (processed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notification panicked: %v", r)
		}
	}()
	log := logger.Component("outlook_push")

	messageID := MessageIDFromResource(n.Resource)
	if messageID == "" && n.ResourceData != nil {
		messageID = n.ResourceData.ID
	}
	if messageID == "" {
		return false, fmt.Errorf("could not extract message id from resource %q", n.Resource)
	}

	sub, err := p.emailUsecase.SubscriptionAccount(ctx, n.SubscriptionID)
	if err != nil {
		return false, fmt.Errorf("subscription lookup failed: %w", err)
	}
	if sub == nil {
		log.Warn().Str("subscription", n.SubscriptionID).Msg("unknown subscription")
		return false, nil
	}

	if strings.EqualFold(n.ChangeType, "deleted") {
		// Nothing to fetch; the refresh below would 404.
		return false, nil
	}

	content, err := p.emailUsecase.RefreshMessage(ctx, authdomain.ProviderOutlook, sub.Account, messageID)
	if err != nil {
		if errors.Is(err, usecase.ErrUnknownAccount) {
			log.Warn().Str("account", logger.MaskEmail(sub.Account)).Msg("no stored token for subscription account")
			return false, nil
		}
		return false, err
	}
	log.Debug().Str("message", messageID).Int("attachments", len(content.Attachments)).Msg("message refreshed")
	return true, nil
}

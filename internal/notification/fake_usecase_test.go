package notification_test

import (
	"context"
	"sync"

	authdomain "maildash-backend/internal/auth/domain"
	emaildomain "maildash-backend/internal/email/domain"
	"maildash-backend/internal/email/usecase"
)

// fakeEmailUsecase records refreshes; everything else is unused here.
type fakeEmailUsecase struct {
	usecase.EmailUsecase

	mu            sync.Mutex
	known         map[string]bool
	subscriptions map[string]*emaildomain.Subscription
	failMessage   map[string]error
	mailboxCalls  []string
	messageCalls  []string
	mailboxErr    error
}

func newFakeEmailUsecase() *fakeEmailUsecase {
	return &fakeEmailUsecase{
		known:         map[string]bool{},
		subscriptions: map[string]*emaildomain.Subscription{},
		failMessage:   map[string]error{},
	}
}

func (f *fakeEmailUsecase) RefreshMailbox(_ context.Context, _ authdomain.Provider, account string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mailboxCalls = append(f.mailboxCalls, account)
	if f.mailboxErr != nil {
		return 0, f.mailboxErr
	}
	if !f.known[account] {
		return 0, usecase.ErrUnknownAccount
	}
	return 3, nil
}

func (f *fakeEmailUsecase) RefreshMessage(_ context.Context, _ authdomain.Provider, account, messageID string) (*emaildomain.EmailContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messageCalls = append(f.messageCalls, messageID)
	if err := f.failMessage[messageID]; err != nil {
		return nil, err
	}
	if messageID == "boom" {
		panic("normalizer exploded")
	}
	if !f.known[account] {
		return nil, usecase.ErrUnknownAccount
	}
	return &emaildomain.EmailContent{ID: messageID, Service: authdomain.ProviderOutlook}, nil
}

func (f *fakeEmailUsecase) SubscriptionAccount(_ context.Context, id string) (*emaildomain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscriptions[id], nil
}

func (f *fakeEmailUsecase) MessageCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messageCalls...)
}

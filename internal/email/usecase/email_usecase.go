package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	authdomain "maildash-backend/internal/auth/domain"
	authrepo "maildash-backend/internal/auth/repository"
	"maildash-backend/internal/email/cache"
	emaildomain "maildash-backend/internal/email/domain"
	"maildash-backend/internal/email/repository"
	"maildash-backend/pkg/apperr"
	"maildash-backend/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// ErrUnknownAccount is returned when a notification names a mailbox with no stored token.
var ErrUnknownAccount = errors.New("no stored token for account")

type Config struct {
	GmailTopic      string
	ProviderTimeout time.Duration
}

// emailUsecase implements EmailUsecase interface
type emailUsecase struct {
	providers   map[authdomain.Provider]emaildomain.MailProvider
	tokenStore  *authrepo.TokenStore
	refresher   TokenRefresher
	contents    *cache.ContentCache
	subRepo     repository.SubscriptionRepository
	gmailWatch  GmailWatcher
	outlookSubs OutlookSubscriber
	cfg         Config
}

// NewEmailUsecase creates a new instance of emailUsecase. refresher,
// gmailWatch and outlookSubs may be nil.
func NewEmailUsecase(
	providers []emaildomain.MailProvider,
	tokenStore *authrepo.TokenStore,
	refresher TokenRefresher,
	contents *cache.ContentCache,
	subRepo repository.SubscriptionRepository,
	gmailWatch GmailWatcher,
	outlookSubs OutlookSubscriber,
	cfg Config,
) EmailUsecase {
	u := &emailUsecase{
		providers:   make(map[authdomain.Provider]emaildomain.MailProvider, len(providers)),
		tokenStore:  tokenStore,
		refresher:   refresher,
		contents:    contents,
		subRepo:     subRepo,
		gmailWatch:  gmailWatch,
		outlookSubs: outlookSubs,
		cfg:         cfg,
	}
	for _, p := range providers {
		u.providers[p.Name()] = p
	}
	return u
}

// makeTokenUpdateCallback persists refreshed credentials and tells the
// request's refresh listener about them.
func (u *emailUsecase) makeTokenUpdateCallback(ctx context.Context) emaildomain.TokenUpdateFunc {
	return func(token *authdomain.TokenData) error {
		notifyRefresh(ctx, token)
		return u.tokenStore.Store(context.WithoutCancel(ctx), token)
	}
}

func (u *emailUsecase) provider(token *authdomain.TokenData) (emaildomain.MailProvider, error) {
	if token == nil {
		return nil, apperr.New(apperr.KindNotAuthenticated, "not authenticated")
	}
	p, ok := u.providers[token.Provider]
	if !ok {
		return nil, apperr.New(apperr.KindBadRequest, "unsupported provider: "+string(token.Provider))
	}
	return p, nil
}

// prepare refreshes an expired token before the call.
func (u *emailUsecase) prepare(ctx context.Context, token *authdomain.TokenData) (*authdomain.TokenData, error) {
	if u.refresher == nil {
		return token, nil
	}
	next, err := u.refresher.EnsureFresh(ctx, token)
	if err != nil {
		return nil, err
	}
	if next.AccessToken() != token.AccessToken() {
		notifyRefresh(ctx, next)
	}
	return next, nil
}

func (u *emailUsecase) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if u.cfg.ProviderTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, u.cfg.ProviderTimeout)
}

func (u *emailUsecase) ListEmails(ctx context.Context, token *authdomain.TokenData, filter string) ([]*emaildomain.EmailItem, error) {
	p, err := u.provider(token)
	if err != nil {
		return nil, err
	}
	ctx, cancel := u.withTimeout(ctx)
	defer cancel()

	token, err = u.prepare(ctx, token)
	if err != nil {
		return nil, err
	}
	return p.ListMessages(ctx, token, filter, u.makeTokenUpdateCallback(ctx))
}

func (u *emailUsecase) ListAll(ctx context.Context, tokens []*authdomain.TokenData) ([]*emaildomain.EmailItem, map[authdomain.Provider]error) {
	var (
		mu       sync.Mutex
		all      []*emaildomain.EmailItem
		failures = make(map[authdomain.Provider]error)
	)

	var g errgroup.Group
	for _, token := range tokens {
		g.Go(func() error {
			items, err := u.ListEmails(ctx, token, "")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[token.Provider] = err
				return nil
			}
			all = append(all, items...)
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Date.After(all[j].Date)
	})
	if all == nil {
		all = []*emaildomain.EmailItem{}
	}
	return all, failures
}

func (u *emailUsecase) GetEmail(ctx context.Context, token *authdomain.TokenData, id string) (*emaildomain.EmailContent, error) {
	if id == "" {
		return nil, apperr.New(apperr.KindBadRequest, "message id is required")
	}
	p, err := u.provider(token)
	if err != nil {
		return nil, err
	}

	key := cache.Key(string(token.Provider), token.Account, id)
	return u.contents.GetOrFetch(ctx, key, func(fctx context.Context) (*emaildomain.EmailContent, error) {
		fresh, err := u.prepare(fctx, token)
		if err != nil {
			return nil, err
		}
		return p.GetMessage(fctx, fresh, id, u.makeTokenUpdateCallback(fctx))
	})
}

func (u *emailUsecase) GetAttachment(ctx context.Context, token *authdomain.TokenData, messageID, attachmentID string) (*emaildomain.AttachmentData, error) {
	if messageID == "" || attachmentID == "" {
		return nil, apperr.New(apperr.KindBadRequest, "messageId and attachmentId are required")
	}
	p, err := u.provider(token)
	if err != nil {
		return nil, err
	}
	ctx, cancel := u.withTimeout(ctx)
	defer cancel()

	token, err = u.prepare(ctx, token)
	if err != nil {
		return nil, err
	}
	return p.GetAttachment(ctx, token, messageID, attachmentID, u.makeTokenUpdateCallback(ctx))
}

// Watch starts push notifications for the mailbox and records the
// registration so notifications can be traced back to the account.
func (u *emailUsecase) Watch(ctx context.Context, token *authdomain.TokenData) (*emaildomain.WatchResult, error) {
	if _, err := u.provider(token); err != nil {
		return nil, err
	}
	ctx, cancel := u.withTimeout(ctx)
	defer cancel()

	token, err := u.prepare(ctx, token)
	if err != nil {
		return nil, err
	}

	var result *emaildomain.WatchResult
	switch token.Provider {
	case authdomain.ProviderGmail:
		if u.gmailWatch == nil {
			return nil, apperr.New(apperr.KindConfig, "gmail push notifications are not available")
		}
		result, err = u.gmailWatch.Watch(ctx, token, u.cfg.GmailTopic, u.makeTokenUpdateCallback(ctx))
		if err == nil {
			result.SubscriptionID = string(authdomain.ProviderGmail) + ":" + token.Account
		}
	case authdomain.ProviderOutlook:
		if u.outlookSubs == nil {
			return nil, apperr.New(apperr.KindConfig, "outlook subscriptions are not available")
		}
		result, err = u.outlookSubs.CreateSubscription(ctx, token, u.makeTokenUpdateCallback(ctx))
	}
	if err != nil {
		return nil, err
	}
	if result == nil || result.SubscriptionID == "" {
		return nil, apperr.New(apperr.KindProviderAPI, "provider did not return a subscription")
	}

	u.saveSubscription(ctx, token, result)
	return result, nil
}

func (u *emailUsecase) RenewWatch(ctx context.Context, token *authdomain.TokenData, subscriptionID string) (*emaildomain.WatchResult, error) {
	if token == nil {
		return nil, apperr.New(apperr.KindNotAuthenticated, "not authenticated")
	}
	if token.Provider != authdomain.ProviderOutlook || u.outlookSubs == nil {
		return nil, apperr.New(apperr.KindBadRequest, "only outlook subscriptions can be renewed")
	}
	if subscriptionID == "" {
		return nil, apperr.New(apperr.KindNotFound, "no active subscription found")
	}
	if sub, err := u.subRepo.FindByID(ctx, subscriptionID); err == nil && sub != nil && sub.Account != token.Account {
		return nil, apperr.New(apperr.KindNotFound, "no active subscription found")
	}

	ctx, cancel := u.withTimeout(ctx)
	defer cancel()

	token, err := u.prepare(ctx, token)
	if err != nil {
		return nil, err
	}
	result, err := u.outlookSubs.RenewSubscription(ctx, token, subscriptionID, u.makeTokenUpdateCallback(ctx))
	if err != nil {
		return nil, err
	}
	u.saveSubscription(ctx, token, result)
	return result, nil
}

// saveSubscription is best effort: a lost row only costs webhook routing
// until the next watch call.
func (u *emailUsecase) saveSubscription(ctx context.Context, token *authdomain.TokenData, result *emaildomain.WatchResult) {
	if u.subRepo == nil {
		return
	}
	sub := &emaildomain.Subscription{
		ID:        result.SubscriptionID,
		Provider:  string(token.Provider),
		Account:   token.Account,
		Resource:  result.Resource,
		ExpiresAt: result.ExpiresAt,
	}
	if err := u.subRepo.Save(context.WithoutCancel(ctx), sub); err != nil {
		log := logger.Component("email")
		log.Warn().Err(err).Str("provider", sub.Provider).Str("subscription", sub.ID).Msg("failed to save subscription")
	}
}

func (u *emailUsecase) storedToken(ctx context.Context, provider authdomain.Provider, account string) (*authdomain.TokenData, error) {
	token := u.tokenStore.Retrieve(ctx, provider, account)
	if token == nil {
		return nil, ErrUnknownAccount
	}
	return token, nil
}

func (u *emailUsecase) RefreshMailbox(ctx context.Context, provider authdomain.Provider, account string) (int, error) {
	token, err := u.storedToken(ctx, provider, account)
	if err != nil {
		return 0, err
	}
	dropped := u.contents.InvalidatePrefix(cache.AccountPrefix(string(provider), account))

	items, err := u.ListEmails(ctx, token, "")
	if err != nil {
		return 0, err
	}
	log := logger.Component("email")
	log.Debug().
		Str("provider", string(provider)).
		Str("account", logger.MaskEmail(account)).
		Int("invalidated", dropped).
		Int("listed", len(items)).
		Msg("mailbox refreshed")
	return len(items), nil
}

func (u *emailUsecase) RefreshMessage(ctx context.Context, provider authdomain.Provider, account, messageID string) (*emaildomain.EmailContent, error) {
	token, err := u.storedToken(ctx, provider, account)
	if err != nil {
		return nil, err
	}
	u.contents.Invalidate(cache.Key(string(provider), account, messageID))
	return u.GetEmail(ctx, token, messageID)
}

func (u *emailUsecase) SubscriptionAccount(ctx context.Context, subscriptionID string) (*emaildomain.Subscription, error) {
	if u.subRepo == nil {
		return nil, nil
	}
	return u.subRepo.FindByID(ctx, subscriptionID)
}

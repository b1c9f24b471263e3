package usecase

import (
	"context"
	"strings"
	"sync"

	authdomain "maildash-backend/internal/auth/domain"
	"maildash-backend/internal/auth/repository"
	"maildash-backend/pkg/apperr"
	"maildash-backend/pkg/logger"
	"maildash-backend/pkg/utils/crypto"
)

type configCheck struct {
	once sync.Once
	err  error
}

// authUsecase implements AuthUsecase interface
type authUsecase struct {
	providers map[authdomain.Provider]ProviderAuth
	checks    map[authdomain.Provider]*configCheck
	store     *repository.TokenStore
	cipher    *crypto.Cipher
	stateKey  []byte
}

// NewAuthUsecase creates a new instance of authUsecase
func NewAuthUsecase(store *repository.TokenStore, cipher *crypto.Cipher, providers ...ProviderAuth) AuthUsecase {
	u := &authUsecase{
		providers: make(map[authdomain.Provider]ProviderAuth, len(providers)),
		checks:    make(map[authdomain.Provider]*configCheck, len(providers)),
		store:     store,
		cipher:    cipher,
		stateKey:  cipher.DeriveKey(stateKeyLabel),
	}
	for _, p := range providers {
		u.providers[p.Name()] = p
		u.checks[p.Name()] = &configCheck{}
	}
	return u
}

func (u *authUsecase) provider(name authdomain.Provider) (ProviderAuth, error) {
	p, ok := u.providers[name]
	if !ok {
		return nil, apperr.New(apperr.KindBadRequest, "unsupported provider: "+string(name))
	}
	return p, nil
}

func (u *authUsecase) ValidateConfig(name authdomain.Provider) error {
	p, err := u.provider(name)
	if err != nil {
		return err
	}
	check := u.checks[name]
	check.once.Do(func() {
		if missing := p.MissingConfig(); len(missing) > 0 {
			check.err = apperr.New(apperr.KindConfig, "missing "+string(name)+" configuration: "+strings.Join(missing, ", "))
			log := logger.Component("auth")
			log.Error().Str("provider", string(name)).Strs("missing", missing).Msg("provider is not configured")
		}
	})
	return check.err
}

func (u *authUsecase) BeginAuth(name authdomain.Provider) (string, string, error) {
	if err := u.ValidateConfig(name); err != nil {
		return "", "", err
	}
	p, _ := u.provider(name)
	state, err := u.signState(name)
	if err != nil {
		return "", "", apperr.Wrap(apperr.KindInternal, "failed to sign oauth state", err)
	}
	return p.AuthCodeURL(state), state, nil
}

func (u *authUsecase) CompleteAuth(ctx context.Context, name authdomain.Provider, code string) (*authdomain.TokenData, error) {
	if err := u.ValidateConfig(name); err != nil {
		return nil, err
	}
	if code == "" {
		return nil, apperr.New(apperr.KindBadRequest, "authorization code is required")
	}
	p, _ := u.provider(name)

	token, err := p.Exchange(ctx, code)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			err = apperr.Wrap(apperr.KindAuthExchange, "token exchange failed", err)
		}
		return nil, err
	}
	if err := token.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.KindAuthExchange, "provider returned an unusable token", err)
	}
	if err := u.store.Store(ctx, token); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to store token", err)
	}

	log := logger.Component("auth")
	log.Info().Str("provider", string(name)).Str("account", logger.MaskEmail(token.Account)).Msg("account connected")
	return token, nil
}

// EnsureFresh refreshes an expired token and persists the result.
func (u *authUsecase) EnsureFresh(ctx context.Context, token *authdomain.TokenData) (*authdomain.TokenData, error) {
	p, err := u.provider(token.Provider)
	if err != nil {
		return nil, err
	}
	next, refreshed, err := p.RefreshIfNeeded(ctx, token)
	if err != nil {
		return nil, err
	}
	if refreshed {
		if err := u.store.Store(ctx, next); err != nil {
			log := logger.Component("auth")
			log.Warn().Err(err).Str("provider", string(token.Provider)).Msg("failed to store refreshed token")
		}
	}
	return next, nil
}

func (u *authUsecase) Logout(ctx context.Context, token *authdomain.TokenData) {
	if token == nil {
		return
	}
	u.store.Delete(ctx, token.Provider, token.Account)
}

// EncodeSession encrypts the token for the provider cookie. The id_token is
// dropped to keep the cookie within browser size limits.
func (u *authUsecase) EncodeSession(token *authdomain.TokenData) (string, error) {
	slim := token.Clone()
	if slim.Google != nil {
		slim.Google.IDToken = ""
	}
	return u.cipher.EncryptJSON(slim)
}

func (u *authUsecase) ResolveSession(ctx context.Context, name authdomain.Provider, cookie string) (*authdomain.TokenData, error) {
	var token authdomain.TokenData
	if err := u.cipher.DecryptJSON(cookie, &token); err != nil {
		return nil, apperr.Wrap(apperr.KindDecrypt, "invalid session", err)
	}
	if token.Provider != name {
		return nil, apperr.New(apperr.KindNotAuthenticated, "session belongs to another provider")
	}
	if err := token.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.KindNotAuthenticated, "invalid session", err)
	}

	// The store holds refreshed credentials the cookie may not have seen yet.
	if stored := u.store.Retrieve(ctx, name, token.Account); stored != nil {
		return stored, nil
	}

	// Nothing known server side (memory-only restart): reseed from the cookie.
	if err := u.store.Store(ctx, &token); err != nil {
		log := logger.Component("auth")
		log.Warn().Err(err).Str("provider", string(name)).Msg("failed to reseed token from session")
	}
	return &token, nil
}

func (u *authUsecase) ConfigStatus() map[authdomain.Provider]ProviderStatus {
	out := make(map[authdomain.Provider]ProviderStatus, len(u.providers))
	for name, p := range u.providers {
		missing := p.MissingConfig()
		out[name] = ProviderStatus{Configured: len(missing) == 0, Missing: missing}
	}
	return out
}

package usecase

import (
	"context"

	authdomain "maildash-backend/internal/auth/domain"
)

// ProviderAuth is the token lifecycle each mail provider implements.
type ProviderAuth interface {
	Name() authdomain.Provider
	// MissingConfig lists unset credentials by environment variable name.
	MissingConfig() []string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*authdomain.TokenData, error)
	RefreshIfNeeded(ctx context.Context, token *authdomain.TokenData) (*authdomain.TokenData, bool, error)
}

// AuthUsecase drives the OAuth consent flow and cookie sessions.
type AuthUsecase interface {
	// ValidateConfig is evaluated once per provider and process.
	ValidateConfig(provider authdomain.Provider) error
	// BeginAuth returns the consent URL and the state value to bind to the browser.
	BeginAuth(provider authdomain.Provider) (authURL, state string, err error)
	// VerifyState checks a state value returned to the callback: signature,
	// expiry and provider.
	VerifyState(provider authdomain.Provider, state string) error
	// CompleteAuth exchanges the code and stores the resulting token.
	CompleteAuth(ctx context.Context, provider authdomain.Provider, code string) (*authdomain.TokenData, error)
	// EnsureFresh refreshes an expired token and persists the result.
	EnsureFresh(ctx context.Context, token *authdomain.TokenData) (*authdomain.TokenData, error)
	Logout(ctx context.Context, token *authdomain.TokenData)

	EncodeSession(token *authdomain.TokenData) (string, error)
	// ResolveSession decrypts a session cookie and returns the freshest known
	// token for its account.
	ResolveSession(ctx context.Context, provider authdomain.Provider, cookie string) (*authdomain.TokenData, error)

	// ConfigStatus reports which providers are configured, without secrets.
	ConfigStatus() map[authdomain.Provider]ProviderStatus
}

type ProviderStatus struct {
	Configured bool     `json:"configured"`
	Missing    []string `json:"missing,omitempty"`
}

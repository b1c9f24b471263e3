package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	authdomain "maildash-backend/internal/auth/domain"
	"maildash-backend/internal/auth/repository"
	"maildash-backend/internal/auth/usecase"
	"maildash-backend/pkg/apperr"
	"maildash-backend/pkg/utils/crypto"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name         authdomain.Provider
	missing      []string
	missingCalls int
	exchangeErr  error
	refreshTo    string
}

func (f *fakeProvider) Name() authdomain.Provider { return f.name }

func (f *fakeProvider) MissingConfig() []string {
	f.missingCalls++
	return f.missing
}

func (f *fakeProvider) AuthCodeURL(state string) string {
	return "https://consent.example/" + string(f.name) + "?state=" + state
}

func (f *fakeProvider) Exchange(_ context.Context, code string) (*authdomain.TokenData, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &authdomain.TokenData{
		Provider: f.name,
		Account:  "user@example.com",
		Outlook: &authdomain.OutlookToken{
			AccessToken:  "access-" + code,
			RefreshToken: "refresh",
			ExpiresAt:    time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		},
	}, nil
}

func (f *fakeProvider) RefreshIfNeeded(_ context.Context, token *authdomain.TokenData) (*authdomain.TokenData, bool, error) {
	if f.refreshTo == "" {
		return token, false, nil
	}
	next := token.Clone()
	next.Outlook.AccessToken = f.refreshTo
	return next, true, nil
}

func newUsecase(p *fakeProvider) (usecase.AuthUsecase, *repository.TokenStore) {
	store := repository.NewTokenStore(nil)
	return usecase.NewAuthUsecase(store, crypto.NewCipher("test-secret"), p), store
}

func TestValidateConfig_ListsAllMissingOnce(t *testing.T) {
	p := &fakeProvider{name: authdomain.ProviderOutlook, missing: []string{"OUTLOOK_CLIENT_ID", "OUTLOOK_CLIENT_SECRET"}}
	uc, _ := newUsecase(p)

	err := uc.ValidateConfig(authdomain.ProviderOutlook)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConfig, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "OUTLOOK_CLIENT_ID")
	assert.Contains(t, err.Error(), "OUTLOOK_CLIENT_SECRET")

	// Evaluated once per process.
	_ = uc.ValidateConfig(authdomain.ProviderOutlook)
	_, _, err = uc.BeginAuth(authdomain.ProviderOutlook)
	assert.Error(t, err)
	assert.Equal(t, 1, p.missingCalls)
}

func TestValidateConfig_UnknownProvider(t *testing.T) {
	uc, _ := newUsecase(&fakeProvider{name: authdomain.ProviderOutlook})
	err := uc.ValidateConfig(authdomain.ProviderGmail)
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
}

func TestBeginAuth_ReturnsStateInURL(t *testing.T) {
	uc, _ := newUsecase(&fakeProvider{name: authdomain.ProviderOutlook})
	authURL, state, err := uc.BeginAuth(authdomain.ProviderOutlook)
	require.NoError(t, err)
	assert.NotEmpty(t, state)
	assert.Contains(t, authURL, "state="+state)
}

func TestVerifyState(t *testing.T) {
	uc, _ := newUsecase(&fakeProvider{name: authdomain.ProviderOutlook})
	_, state, err := uc.BeginAuth(authdomain.ProviderOutlook)
	require.NoError(t, err)

	assert.NoError(t, uc.VerifyState(authdomain.ProviderOutlook, state))

	err = uc.VerifyState(authdomain.ProviderGmail, state)
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	err = uc.VerifyState(authdomain.ProviderOutlook, state+"x")
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	err = uc.VerifyState(authdomain.ProviderOutlook, "not-a-token")
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
}

func TestVerifyState_RejectsExpiredAndForeignKeys(t *testing.T) {
	uc, _ := newUsecase(&fakeProvider{name: authdomain.ProviderOutlook})
	sign := func(key []byte, exp time.Time) string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"provider": "outlook",
			"exp":      exp.Unix(),
		})
		s, err := token.SignedString(key)
		require.NoError(t, err)
		return s
	}
	key := crypto.NewCipher("test-secret").DeriveKey("oauth-state")

	assert.NoError(t, uc.VerifyState(authdomain.ProviderOutlook, sign(key, time.Now().Add(time.Minute))))
	assert.Error(t, uc.VerifyState(authdomain.ProviderOutlook, sign(key, time.Now().Add(-time.Minute))))
	assert.Error(t, uc.VerifyState(authdomain.ProviderOutlook, sign([]byte("other-key"), time.Now().Add(time.Minute))))

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"provider": "outlook", "exp": time.Now().Add(time.Minute).Unix()})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	assert.Error(t, uc.VerifyState(authdomain.ProviderOutlook, unsigned))
}

func TestCompleteAuth_StoresToken(t *testing.T) {
	uc, store := newUsecase(&fakeProvider{name: authdomain.ProviderOutlook})

	token, err := uc.CompleteAuth(context.Background(), authdomain.ProviderOutlook, "abc")
	require.NoError(t, err)
	assert.Equal(t, "access-abc", token.AccessToken())

	stored := store.Retrieve(context.Background(), authdomain.ProviderOutlook, "user@example.com")
	require.NotNil(t, stored)
	assert.Equal(t, "access-abc", stored.AccessToken())
}

func TestCompleteAuth_Errors(t *testing.T) {
	uc, _ := newUsecase(&fakeProvider{name: authdomain.ProviderOutlook, exchangeErr: errors.New("invalid_grant")})

	_, err := uc.CompleteAuth(context.Background(), authdomain.ProviderOutlook, "")
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	_, err = uc.CompleteAuth(context.Background(), authdomain.ProviderOutlook, "bad")
	assert.Equal(t, apperr.KindAuthExchange, apperr.KindOf(err))
}

func TestResolveSession(t *testing.T) {
	uc, store := newUsecase(&fakeProvider{name: authdomain.ProviderOutlook})
	ctx := context.Background()

	token, err := uc.CompleteAuth(ctx, authdomain.ProviderOutlook, "abc")
	require.NoError(t, err)
	cookie, err := uc.EncodeSession(token)
	require.NoError(t, err)

	// A refresh stored server side wins over the cookie copy.
	refreshed := token.Clone()
	refreshed.Outlook.AccessToken = "refreshed"
	require.NoError(t, store.Store(ctx, refreshed))

	got, err := uc.ResolveSession(ctx, authdomain.ProviderOutlook, cookie)
	require.NoError(t, err)
	assert.Equal(t, "refreshed", got.AccessToken())

	_, err = uc.ResolveSession(ctx, authdomain.ProviderOutlook, "garbage")
	assert.Equal(t, apperr.KindDecrypt, apperr.KindOf(err))
	assert.Equal(t, 401, apperr.KindOf(err).Status())

	_, err = uc.ResolveSession(ctx, authdomain.ProviderGmail, cookie)
	assert.Equal(t, apperr.KindNotAuthenticated, apperr.KindOf(err))

	foreign, err := crypto.NewCipher("other-secret").EncryptJSON(token)
	require.NoError(t, err)
	_, err = uc.ResolveSession(ctx, authdomain.ProviderOutlook, foreign)
	assert.Error(t, err)
}

func TestResolveSession_ReseedsEmptyStore(t *testing.T) {
	uc, store := newUsecase(&fakeProvider{name: authdomain.ProviderOutlook})
	ctx := context.Background()

	token := &authdomain.TokenData{
		Provider: authdomain.ProviderOutlook,
		Account:  "user@example.com",
		Outlook:  &authdomain.OutlookToken{AccessToken: "from-cookie"},
	}
	cookie, err := uc.EncodeSession(token)
	require.NoError(t, err)

	got, err := uc.ResolveSession(ctx, authdomain.ProviderOutlook, cookie)
	require.NoError(t, err)
	assert.Equal(t, "from-cookie", got.AccessToken())
	assert.NotNil(t, store.Retrieve(ctx, authdomain.ProviderOutlook, "user@example.com"))
}

func TestEnsureFresh_PersistsRefresh(t *testing.T) {
	p := &fakeProvider{name: authdomain.ProviderOutlook, refreshTo: "new-access"}
	uc, store := newUsecase(p)
	ctx := context.Background()

	token, err := uc.CompleteAuth(ctx, authdomain.ProviderOutlook, "abc")
	require.NoError(t, err)

	next, err := uc.EnsureFresh(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "new-access", next.AccessToken())
	assert.Equal(t, "new-access", store.Retrieve(ctx, authdomain.ProviderOutlook, "user@example.com").AccessToken())
}

func TestLogoutDeletesToken(t *testing.T) {
	uc, store := newUsecase(&fakeProvider{name: authdomain.ProviderOutlook})
	ctx := context.Background()
	token, err := uc.CompleteAuth(ctx, authdomain.ProviderOutlook, "abc")
	require.NoError(t, err)

	uc.Logout(ctx, token)
	assert.Nil(t, store.Retrieve(ctx, authdomain.ProviderOutlook, "user@example.com"))
}

func TestConfigStatus(t *testing.T) {
	uc, _ := newUsecase(&fakeProvider{name: authdomain.ProviderOutlook, missing: []string{"OUTLOOK_CLIENT_SECRET"}})
	status := uc.ConfigStatus()
	require.Contains(t, status, authdomain.ProviderOutlook)
	assert.False(t, status[authdomain.ProviderOutlook].Configured)
	assert.Equal(t, []string{"OUTLOOK_CLIENT_SECRET"}, status[authdomain.ProviderOutlook].Missing)
}

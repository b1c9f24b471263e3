package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestValidate(t *testing.T) {
	ok := &TokenData{Provider: ProviderGmail, Account: "a@b.c", Google: &GoogleToken{AccessToken: "x"}}
	require.NoError(t, ok.Validate())

	noAccount := ok.Clone()
	noAccount.Account = ""
	assert.ErrorIs(t, noAccount.Validate(), ErrMissingAccount)

	mismatch := &TokenData{Provider: ProviderOutlook, Account: "a@b.c", Google: &GoogleToken{}}
	assert.ErrorIs(t, mismatch.Validate(), ErrVariantMismatch)

	assert.Error(t, (&TokenData{Provider: "yahoo", Account: "a"}).Validate())
}

func TestOutlookExpiryComputed(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tok := (&oauth2.Token{AccessToken: "at", RefreshToken: "rt", TokenType: "Bearer", ExpiresIn: 3600}).
		WithExtra(map[string]any{"scope": "Mail.Read", "ext_expires_in": float64(7200)})

	td := NewOutlookToken("me@contoso.com", tok, now)

	require.NoError(t, td.Validate())
	assert.Equal(t, "2024-05-01T11:00:00Z", td.Outlook.ExpiresAt)
	assert.Equal(t, int64(7200), td.Outlook.ExtExpiresIn)
	assert.Equal(t, "Mail.Read", td.Outlook.Scope)
	assert.True(t, td.Expiry().Equal(now.Add(time.Hour)))
}

func TestWithOAuth2KeepsRefreshToken(t *testing.T) {
	now := time.Now()
	orig := NewGoogleToken("me@gmail.com", &oauth2.Token{AccessToken: "old", RefreshToken: "rt", Expiry: now})

	next := orig.WithOAuth2(&oauth2.Token{AccessToken: "new", Expiry: now.Add(time.Hour)}, now)

	assert.Equal(t, "new", next.AccessToken())
	assert.Equal(t, "rt", next.RefreshToken())
	assert.Equal(t, "old", orig.AccessToken())
	assert.Equal(t, now.Add(time.Hour).UnixMilli(), next.Google.ExpiryDate)
}

func TestParseProvider(t *testing.T) {
	p, ok := ParseProvider("outlook")
	assert.True(t, ok)
	assert.Equal(t, "outlook_auth_token", p.CookieName())

	_, ok = ParseProvider("yahoo")
	assert.False(t, ok)
}

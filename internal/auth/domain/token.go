package domain

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/oauth2"
)

type Provider string

const (
	ProviderGmail   Provider = "gmail"
	ProviderOutlook Provider = "outlook"
)

// Providers lists every supported provider in display order.
var Providers = []Provider{ProviderGmail, ProviderOutlook}

func ParseProvider(s string) (Provider, bool) {
	switch Provider(s) {
	case ProviderGmail, ProviderOutlook:
		return Provider(s), true
	}
	return "", false
}

// CookieName is the session cookie carrying this provider's encrypted token.
func (p Provider) CookieName() string {
	return string(p) + "_auth_token"
}

// GoogleToken mirrors the credential shape returned by Google's token endpoint.
type GoogleToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	ExpiryDate   int64  `json:"expiry_date,omitempty"` // epoch milliseconds
}

// OutlookToken mirrors the Microsoft identity platform token response plus
// the computed absolute expiry.
type OutlookToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	ExtExpiresIn int64  `json:"ext_expires_in,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"` // RFC 3339
}

// TokenData is a tagged union: exactly one of Google or Outlook is set and
// it must match Provider.
type TokenData struct {
	Provider Provider      `json:"provider"`
	Account  string        `json:"account"`
	Google   *GoogleToken  `json:"google,omitempty"`
	Outlook  *OutlookToken `json:"outlook,omitempty"`
}

var (
	ErrMissingAccount  = errors.New("token has no account")
	ErrVariantMismatch = errors.New("token variant does not match provider")
)

func (t *TokenData) Validate() error {
	if t == nil {
		return errors.New("nil token")
	}
	if t.Account == "" {
		return ErrMissingAccount
	}
	switch t.Provider {
	case ProviderGmail:
		if t.Google == nil || t.Outlook != nil {
			return ErrVariantMismatch
		}
	case ProviderOutlook:
		if t.Outlook == nil || t.Google != nil {
			return ErrVariantMismatch
		}
	default:
		return fmt.Errorf("unknown provider %q", t.Provider)
	}
	return nil
}

// Key identifies the token in stores: provider and account.
func (t *TokenData) Key() string {
	return TokenKey(t.Provider, t.Account)
}

func TokenKey(p Provider, account string) string {
	return string(p) + ":" + account
}

func (t *TokenData) AccessToken() string {
	switch t.Provider {
	case ProviderGmail:
		if t.Google != nil {
			return t.Google.AccessToken
		}
	case ProviderOutlook:
		if t.Outlook != nil {
			return t.Outlook.AccessToken
		}
	}
	return ""
}

func (t *TokenData) RefreshToken() string {
	switch t.Provider {
	case ProviderGmail:
		if t.Google != nil {
			return t.Google.RefreshToken
		}
	case ProviderOutlook:
		if t.Outlook != nil {
			return t.Outlook.RefreshToken
		}
	}
	return ""
}

// Expiry returns the absolute expiry, or the zero time when unknown.
func (t *TokenData) Expiry() time.Time {
	switch t.Provider {
	case ProviderGmail:
		if t.Google != nil && t.Google.ExpiryDate > 0 {
			return time.UnixMilli(t.Google.ExpiryDate)
		}
	case ProviderOutlook:
		if t.Outlook != nil && t.Outlook.ExpiresAt != "" {
			if at, err := time.Parse(time.RFC3339, t.Outlook.ExpiresAt); err == nil {
				return at
			}
		}
	}
	return time.Time{}
}

// OAuth2 converts the token into the oauth2 package representation.
func (t *TokenData) OAuth2() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken(),
		RefreshToken: t.RefreshToken(),
		TokenType:    "Bearer",
		Expiry:       t.Expiry(),
	}
	switch t.Provider {
	case ProviderGmail:
		if t.Google != nil && t.Google.TokenType != "" {
			tok.TokenType = t.Google.TokenType
		}
	case ProviderOutlook:
		if t.Outlook != nil && t.Outlook.TokenType != "" {
			tok.TokenType = t.Outlook.TokenType
		}
	}
	return tok
}

func (t *TokenData) Clone() *TokenData {
	if t == nil {
		return nil
	}
	c := *t
	if t.Google != nil {
		g := *t.Google
		c.Google = &g
	}
	if t.Outlook != nil {
		o := *t.Outlook
		c.Outlook = &o
	}
	return &c
}

// WithOAuth2 returns a copy carrying the refreshed credentials from tok. The
// previous refresh token is kept when the provider does not rotate it.
func (t *TokenData) WithOAuth2(tok *oauth2.Token, now time.Time) *TokenData {
	c := t.Clone()
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = t.RefreshToken()
	}
	switch c.Provider {
	case ProviderGmail:
		if c.Google == nil {
			c.Google = &GoogleToken{}
		}
		c.Google.AccessToken = tok.AccessToken
		c.Google.RefreshToken = refresh
		if tok.TokenType != "" {
			c.Google.TokenType = tok.TokenType
		}
		if !tok.Expiry.IsZero() {
			c.Google.ExpiryDate = tok.Expiry.UnixMilli()
		}
	case ProviderOutlook:
		next := NewOutlookToken(c.Account, tok, now).Outlook
		next.RefreshToken = refresh
		if next.Scope == "" && c.Outlook != nil {
			next.Scope = c.Outlook.Scope
		}
		c.Outlook = next
	}
	return c
}

// NewGoogleToken builds a Gmail token from an oauth2 exchange or refresh result.
func NewGoogleToken(account string, tok *oauth2.Token) *TokenData {
	g := &GoogleToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Scope:        extraString(tok, "scope"),
		IDToken:      extraString(tok, "id_token"),
	}
	if !tok.Expiry.IsZero() {
		g.ExpiryDate = tok.Expiry.UnixMilli()
	}
	return &TokenData{Provider: ProviderGmail, Account: account, Google: g}
}

// NewOutlookToken builds an Outlook token; expires_at is computed as now + expires_in.
func NewOutlookToken(account string, tok *oauth2.Token, now time.Time) *TokenData {
	o := &OutlookToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Scope:        extraString(tok, "scope"),
		ExpiresIn:    tok.ExpiresIn,
		ExtExpiresIn: extraInt(tok, "ext_expires_in"),
	}
	if o.ExpiresIn == 0 {
		o.ExpiresIn = extraInt(tok, "expires_in")
	}
	expiresAt := tok.Expiry
	if o.ExpiresIn > 0 {
		expiresAt = now.Add(time.Duration(o.ExpiresIn) * time.Second)
	} else if !expiresAt.IsZero() {
		o.ExpiresIn = int64(expiresAt.Sub(now).Seconds())
	}
	if !expiresAt.IsZero() {
		o.ExpiresAt = expiresAt.UTC().Format(time.RFC3339)
	}
	return &TokenData{Provider: ProviderOutlook, Account: account, Outlook: o}
}

func extraString(tok *oauth2.Token, key string) string {
	if v, ok := tok.Extra(key).(string); ok {
		return v
	}
	return ""
}

func extraInt(tok *oauth2.Token, key string) int64 {
	switch v := tok.Extra(key).(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

// Package outlook talks to Microsoft Graph for Outlook mailboxes: OAuth
// token lifecycle, message reads and change-notification subscriptions.
package outlook

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	authdomain "maildash-backend/internal/auth/domain"
	emaildomain "maildash-backend/internal/email/domain"
	"maildash-backend/pkg/apperr"
	"maildash-backend/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

const (
	GraphBaseURL = "https://graph.microsoft.com/v1.0"

	DefaultFilter      = "hasAttachments eq true"
	SubscriptionTTL    = 3 * 24 * time.Hour
	subscriptionChange = "created,updated"
	inboxResource      = "me/mailFolders('inbox')/messages"
	listTop            = 20
	listSelect         = "id,subject,bodyPreview,from,receivedDateTime,hasAttachments"
)

// Scopes requested at consent time.
var Scopes = []string{"offline_access", "Mail.Read", "Mail.ReadWrite"}

// TokenUpdateFunc is a callback function that handles token updates
type TokenUpdateFunc = emaildomain.TokenUpdateFunc

type Config struct {
	ClientID        string
	ClientSecret    string
	RedirectURL     string
	TenantID        string
	NotificationURL string
	ClientState     string
	AttachmentBase  string
}

type Service struct {
	oauth          *oauth2.Config
	graphURL       string
	notifyURL      string
	clientState    string
	attachmentBase string
	now            func() time.Time
}

func NewService(cfg Config) *Service {
	tenant := cfg.TenantID
	if tenant == "" {
		tenant = "common"
	}
	return &Service{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       Scopes,
			Endpoint:     microsoft.AzureADEndpoint(tenant),
		},
		graphURL:       GraphBaseURL,
		notifyURL:      cfg.NotificationURL,
		clientState:    cfg.ClientState,
		attachmentBase: cfg.AttachmentBase,
		now:            time.Now,
	}
}

// WithEndpoint redirects Graph calls and, when tokenURL is set, token requests.
func (s *Service) WithEndpoint(graphURL, tokenURL string) *Service {
	s.graphURL = strings.TrimRight(graphURL, "/")
	if tokenURL != "" {
		s.oauth.Endpoint = oauth2.Endpoint{AuthURL: s.oauth.Endpoint.AuthURL, TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams}
	}
	return s
}

// WithClock replaces the time source used for expiry decisions.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Name() authdomain.Provider {
	return authdomain.ProviderOutlook
}

// ClientState is the shared secret expected on every change notification.
func (s *Service) ClientState() string {
	return s.clientState
}

func (s *Service) MissingConfig() []string {
	var missing []string
	if s.oauth.ClientID == "" {
		missing = append(missing, "OUTLOOK_CLIENT_ID")
	}
	if s.oauth.ClientSecret == "" {
		missing = append(missing, "OUTLOOK_CLIENT_SECRET")
	}
	return missing
}

func (s *Service) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("response_mode", "query"))
}

// Exchange trades an authorization code for tokens and resolves the mailbox address.
func (s *Service) Exchange(ctx context.Context, code string) (*authdomain.TokenData, error) {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAuthExchange, "outlook code exchange failed", err)
	}
	if tok.AccessToken == "" {
		return nil, apperr.New(apperr.KindAuthExchange, "outlook returned no access token")
	}

	token := authdomain.NewOutlookToken("", tok, s.now())
	var me graphUser
	if err := s.doGet(ctx, s.client(ctx, token), s.graphURL+"/me?$select=id,displayName,mail,userPrincipalName", &me); err != nil {
		return nil, apperr.Wrap(apperr.KindAuthExchange, "unable to read outlook profile", err)
	}
	token.Account = me.Mail
	if token.Account == "" {
		token.Account = me.UserPrincipalName
	}
	if token.Account == "" {
		return nil, apperr.New(apperr.KindAuthExchange, "outlook profile has no address")
	}
	return token, nil
}

// RefreshIfNeeded refreshes the token once expires_at has passed. Without
// a refresh token an expired credential requires a new consent.
func (s *Service) RefreshIfNeeded(ctx context.Context, token *authdomain.TokenData) (*authdomain.TokenData, bool, error) {
	expiresAt := token.Expiry()
	if !expiresAt.IsZero() && s.now().Before(expiresAt) {
		return token, false, nil
	}
	if token.RefreshToken() == "" {
		return nil, false, apperr.New(apperr.KindReauthRequired, "outlook token expired and no refresh token is available")
	}

	src := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: token.RefreshToken(), Expiry: time.Unix(1, 0)})
	next, err := src.Token()
	if err != nil {
		return nil, false, apperr.Wrap(apperr.KindReauthRequired, "outlook token refresh failed", err)
	}
	log.Debug().Str("account", logger.MaskEmail(token.Account)).Msg("outlook token refreshed")
	return token.WithOAuth2(next, s.now()), true, nil
}

// ensureFresh refreshes if needed and reports the new token through onTokenRefresh.
func (s *Service) ensureFresh(ctx context.Context, token *authdomain.TokenData, onTokenRefresh TokenUpdateFunc) (*authdomain.TokenData, error) {
	next, refreshed, err := s.RefreshIfNeeded(ctx, token)
	if err != nil {
		return nil, err
	}
	if refreshed && onTokenRefresh != nil {
		if err := onTokenRefresh(next.Clone()); err != nil {
			log.Warn().Err(err).Str("account", logger.MaskEmail(token.Account)).Msg("failed to persist refreshed outlook token")
		}
	}
	return next, nil
}

func (s *Service) client(ctx context.Context, token *authdomain.TokenData) *http.Client {
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(token.OAuth2()))
}

// ListMessages returns up to 20 messages matching filter (hasAttachments eq true by default).
func (s *Service) ListMessages(ctx context.Context, token *authdomain.TokenData, filter string, onTokenRefresh TokenUpdateFunc) ([]*emaildomain.EmailItem, error) {
	token, err := s.ensureFresh(ctx, token, onTokenRefresh)
	if err != nil {
		return nil, err
	}
	if filter == "" {
		filter = DefaultFilter
	}

	params := url.Values{}
	params.Set("$top", fmt.Sprintf("%d", listTop))
	params.Set("$select", listSelect)
	params.Set("$filter", filter)

	var resp graphMessageList
	if err := s.doGet(ctx, s.client(ctx, token), s.graphURL+"/me/messages?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	items := make([]*emaildomain.EmailItem, 0, len(resp.Value))
	for i := range resp.Value {
		items = append(items, normalizeList(&resp.Value[i]))
	}
	return items, nil
}

// GetMessage fetches one message with its attachments expanded.
func (s *Service) GetMessage(ctx context.Context, token *authdomain.TokenData, id string, onTokenRefresh TokenUpdateFunc) (*emaildomain.EmailContent, error) {
	token, err := s.ensureFresh(ctx, token, onTokenRefresh)
	if err != nil {
		return nil, err
	}

	var msg graphMessage
	if err := s.doGet(ctx, s.client(ctx, token), s.graphURL+"/me/messages/"+url.PathEscape(id)+"?$expand=attachments", &msg); err != nil {
		return nil, err
	}
	return normalizeDetail(&msg, s.attachmentBase), nil
}

func (s *Service) GetAttachment(ctx context.Context, token *authdomain.TokenData, messageID, attachmentID string, onTokenRefresh TokenUpdateFunc) (*emaildomain.AttachmentData, error) {
	token, err := s.ensureFresh(ctx, token, onTokenRefresh)
	if err != nil {
		return nil, err
	}

	var att graphAttachment
	endpoint := s.graphURL + "/me/messages/" + url.PathEscape(messageID) + "/attachments/" + url.PathEscape(attachmentID)
	if err := s.doGet(ctx, s.client(ctx, token), endpoint, &att); err != nil {
		return nil, err
	}
	if att.ContentBytes == "" {
		return nil, apperr.New(apperr.KindProviderAPI, "outlook: attachment has no content (item or reference attachments are not downloadable)")
	}

	data, err := base64.StdEncoding.DecodeString(att.ContentBytes)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindProviderAPI, "outlook: unable to decode attachment data", err)
	}

	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &emaildomain.AttachmentData{
		Attachment: emaildomain.Attachment{
			ID:          att.ID,
			Name:        att.Name,
			ContentType: contentType,
			Size:        int64(len(data)),
			IsInline:    att.IsInline,
			ContentID:   strings.Trim(att.ContentID, "<>"),
		},
		Data: data,
	}, nil
}

// CreateSubscription registers a Graph change notification on the inbox that
// expires after three days.
func (s *Service) CreateSubscription(ctx context.Context, token *authdomain.TokenData, onTokenRefresh TokenUpdateFunc) (*emaildomain.WatchResult, error) {
	if s.notifyURL == "" {
		return nil, apperr.New(apperr.KindConfig, "OUTLOOK_WEBHOOK_URL is not configured")
	}
	token, err := s.ensureFresh(ctx, token, onTokenRefresh)
	if err != nil {
		return nil, err
	}

	req := graphSubscription{
		ChangeType:         subscriptionChange,
		NotificationURL:    s.notifyURL,
		Resource:           inboxResource,
		ExpirationDateTime: s.now().Add(SubscriptionTTL).UTC(),
		ClientState:        s.clientState,
	}
	var resp graphSubscription
	if err := s.doPost(ctx, s.client(ctx, token), s.graphURL+"/subscriptions", req, &resp); err != nil {
		return nil, err
	}

	return &emaildomain.WatchResult{
		Provider:       authdomain.ProviderOutlook,
		SubscriptionID: resp.ID,
		Resource:       resp.Resource,
		ExpiresAt:      resp.ExpirationDateTime,
	}, nil
}

// RenewSubscription extends an existing subscription by another three days.
func (s *Service) RenewSubscription(ctx context.Context, token *authdomain.TokenData, subscriptionID string, onTokenRefresh TokenUpdateFunc) (*emaildomain.WatchResult, error) {
	token, err := s.ensureFresh(ctx, token, onTokenRefresh)
	if err != nil {
		return nil, err
	}

	body := map[string]string{
		"expirationDateTime": s.now().Add(SubscriptionTTL).UTC().Format(time.RFC3339),
	}
	var resp graphSubscription
	if err := s.doPatch(ctx, s.client(ctx, token), s.graphURL+"/subscriptions/"+url.PathEscape(subscriptionID), body, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		resp.ID = subscriptionID
	}

	return &emaildomain.WatchResult{
		Provider:       authdomain.ProviderOutlook,
		SubscriptionID: resp.ID,
		Resource:       resp.Resource,
		ExpiresAt:      resp.ExpirationDateTime,
	}, nil
}

func (s *Service) doGet(ctx context.Context, client *http.Client, endpoint string, result any) error {
	return s.do(ctx, client, http.MethodGet, endpoint, nil, result)
}

func (s *Service) doPost(ctx context.Context, client *http.Client, endpoint string, body, result any) error {
	return s.do(ctx, client, http.MethodPost, endpoint, body, result)
}

func (s *Service) doPatch(ctx context.Context, client *http.Client, endpoint string, body, result any) error {
	return s.do(ctx, client, http.MethodPatch, endpoint, body, result)
}

func (s *Service) do(ctx context.Context, client *http.Client, method, endpoint string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return wrapError(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return wrapHTTPError(resp.StatusCode, respBody)
	}

	if result != nil && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusAccepted {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return apperr.Wrap(apperr.KindProviderAPI, "outlook: invalid response body", err)
		}
	}
	return nil
}

func wrapError(err error, msg string) error {
	if apperr.KindOf(err) != apperr.KindInternal {
		return err
	}
	return apperr.Wrap(apperr.KindProviderAPI, "outlook: "+msg, err)
}

func wrapHTTPError(statusCode int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	var gerr graphError
	if json.Unmarshal(body, &gerr) == nil && gerr.Error.Message != "" {
		detail = gerr.Error.Code + ": " + gerr.Error.Message
	}

	switch statusCode {
	case http.StatusUnauthorized:
		return apperr.New(apperr.KindReauthRequired, "outlook: authorization expired")
	case http.StatusNotFound:
		return apperr.New(apperr.KindNotFound, "outlook: not found")
	default:
		return apperr.New(apperr.KindProviderAPI, fmt.Sprintf("outlook: HTTP %d: %s", statusCode, detail))
	}
}

package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	authdomain "maildash-backend/internal/auth/domain"
	emaildomain "maildash-backend/internal/email/domain"
	"maildash-backend/pkg/apperr"
	"maildash-backend/pkg/logger"
	"maildash-backend/pkg/mailutil"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	DefaultFilter   = "has:attachment"
	listMaxResults  = 10
	detailFetchPool = 10
)

// TokenUpdateFunc is a callback function that handles token updates
type TokenUpdateFunc = emaildomain.TokenUpdateFunc

type Service struct {
	config         *oauth2.Config
	attachmentBase string
	endpoint       string
	now            func() time.Time
}

type notifyTokenSource struct {
	mu       sync.Mutex
	src      oauth2.TokenSource
	current  *authdomain.TokenData
	callback TokenUpdateFunc
	now      func() time.Time
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindReauthRequired, "gmail token refresh failed", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.AccessToken() != t.AccessToken {
		s.current = s.current.WithOAuth2(t, s.now())
		if s.callback != nil {
			if err := s.callback(s.current.Clone()); err != nil {
				log.Warn().Err(err).Str("account", logger.MaskEmail(s.current.Account)).Msg("failed to persist refreshed gmail token")
			}
		}
	}
	return t, nil
}

// NewService builds the Gmail provider. attachmentBase prefixes the URLs
// inline images are rewritten to.
func NewService(clientID, clientSecret, redirectURL, attachmentBase string) *Service {
	return &Service{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{gmail.GmailReadonlyScope},
			Endpoint:     google.Endpoint,
		},
		attachmentBase: attachmentBase,
		now:            time.Now,
	}
}

// WithEndpoint points API calls (and the token endpoint, when tokenURL is
// set) at another base URL.
func (s *Service) WithEndpoint(apiURL, tokenURL string) *Service {
	s.endpoint = apiURL
	if tokenURL != "" {
		s.config.Endpoint = oauth2.Endpoint{AuthURL: s.config.Endpoint.AuthURL, TokenURL: tokenURL}
	}
	return s
}

func (s *Service) Name() authdomain.Provider {
	return authdomain.ProviderGmail
}

// MissingConfig lists the unset credentials required for the OAuth flow.
func (s *Service) MissingConfig() []string {
	var missing []string
	if s.config.ClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}
	if s.config.ClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}
	return missing
}

func (s *Service) AuthCodeURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange trades an authorization code for tokens and resolves the mailbox address.
func (s *Service) Exchange(ctx context.Context, code string) (*authdomain.TokenData, error) {
	tok, err := s.config.Exchange(ctx, code)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAuthExchange, "gmail code exchange failed", err)
	}
	if tok.AccessToken == "" {
		return nil, apperr.New(apperr.KindAuthExchange, "gmail returned no access token")
	}

	token := authdomain.NewGoogleToken("", tok)
	srv, err := s.GetGmailService(ctx, token, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAuthExchange, "gmail client setup failed", err)
	}
	profile, err := srv.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAuthExchange, "unable to read gmail profile", err)
	}
	token.Account = profile.EmailAddress
	return token, nil
}

// RefreshIfNeeded renews the access token when it has expired. The oauth2
// token source decides expiry, with its usual early-expiry margin.
func (s *Service) RefreshIfNeeded(ctx context.Context, token *authdomain.TokenData) (*authdomain.TokenData, bool, error) {
	current := token.OAuth2()
	if current.Valid() || token.RefreshToken() == "" {
		return token, false, nil
	}
	next, err := s.config.TokenSource(ctx, current).Token()
	if err != nil {
		return nil, false, apperr.Wrap(apperr.KindReauthRequired, "gmail token refresh failed", err)
	}
	if next.AccessToken == current.AccessToken {
		return token, false, nil
	}
	return token.WithOAuth2(next, s.now()), true, nil
}

// GetGmailService creates Gmail service with user's access token
func (s *Service) GetGmailService(ctx context.Context, token *authdomain.TokenData, onTokenRefresh TokenUpdateFunc) (*gmail.Service, error) {
	tokenSource := s.config.TokenSource(ctx, token.OAuth2())

	// Wrap token source to detect refreshes
	wrappedSource := &notifyTokenSource{
		src:      tokenSource,
		current:  token.Clone(),
		callback: onTokenRefresh,
		now:      s.now,
	}

	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, wrappedSource))}
	if s.endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.endpoint))
	}

	srv, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	return srv, nil
}

// ListMessages returns the newest messages matching filter (has:attachment by default).
func (s *Service) ListMessages(ctx context.Context, token *authdomain.TokenData, filter string, onTokenRefresh TokenUpdateFunc) ([]*emaildomain.EmailItem, error) {
	srv, err := s.GetGmailService(ctx, token, onTokenRefresh)
	if err != nil {
		return nil, err
	}
	if filter == "" {
		filter = DefaultFilter
	}

	resp, err := srv.Users.Messages.List("me").Q(filter).MaxResults(listMaxResults).Context(ctx).Do()
	if err != nil {
		return nil, wrapAPIError(err, "unable to retrieve messages")
	}

	// Fetch details in parallel, keeping list order.
	items := make([]*emaildomain.EmailItem, len(resp.Messages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detailFetchPool)
	for i, msg := range resp.Messages {
		g.Go(func() error {
			full, err := srv.Users.Messages.Get("me", msg.Id).Format("full").Context(gctx).Do()
			if err != nil {
				return wrapAPIError(err, "unable to retrieve message "+msg.Id)
			}
			items[i] = NormalizeList(full)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

// GetMessage retrieves a specific message by ID
func (s *Service) GetMessage(ctx context.Context, token *authdomain.TokenData, id string, onTokenRefresh TokenUpdateFunc) (*emaildomain.EmailContent, error) {
	srv, err := s.GetGmailService(ctx, token, onTokenRefresh)
	if err != nil {
		return nil, err
	}

	msg, err := srv.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, wrapAPIError(err, "unable to retrieve message")
	}
	return NormalizeDetail(msg, s.attachmentBase), nil
}

// GetAttachment retrieves an attachment from a message
func (s *Service) GetAttachment(ctx context.Context, token *authdomain.TokenData, messageID, attachmentID string, onTokenRefresh TokenUpdateFunc) (*emaildomain.AttachmentData, error) {
	srv, err := s.GetGmailService(ctx, token, onTokenRefresh)
	if err != nil {
		return nil, err
	}

	// Fetch message to get attachment metadata
	msg, err := srv.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, wrapAPIError(err, "unable to retrieve message details")
	}

	meta := emaildomain.Attachment{ID: attachmentID, Name: "attachment", ContentType: "application/octet-stream"}
	if part := findAttachmentPart(msg.Payload, attachmentID, 0); part != nil {
		if name := mailutil.DecodeHeader(part.Filename); name != "" {
			meta.Name = name
		}
		if part.MimeType != "" {
			meta.ContentType = part.MimeType
		}
		contentID := getHeader(part.Headers, "Content-ID")
		meta.ContentID = strings.Trim(strings.TrimSpace(contentID), "<>")
		meta.IsInline = meta.ContentID != ""
	}

	body, err := srv.Users.Messages.Attachments.Get("me", messageID, attachmentID).Context(ctx).Do()
	if err != nil {
		return nil, wrapAPIError(err, "unable to retrieve attachment")
	}

	data, err := decodeBase64URL(body.Data)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindProviderAPI, "unable to decode attachment data", err)
	}
	meta.Size = int64(len(data))

	return &emaildomain.AttachmentData{Attachment: meta, Data: data}, nil
}

// Watch sets up push notifications for the user's inbox on topicName.
func (s *Service) Watch(ctx context.Context, token *authdomain.TokenData, topicName string, onTokenRefresh TokenUpdateFunc) (*emaildomain.WatchResult, error) {
	if topicName == "" {
		return nil, apperr.New(apperr.KindConfig, "GOOGLE_PUBSUB_TOPIC is not configured")
	}
	srv, err := s.GetGmailService(ctx, token, onTokenRefresh)
	if err != nil {
		return nil, err
	}

	l := logger.Component("gmail").With().Str("account", logger.MaskEmail(token.Account)).Logger()

	// Only one push client is allowed per mailbox, so clear any previous watch.
	if err := srv.Users.Stop("me").Context(ctx).Do(); err != nil {
		l.Debug().Err(err).Msg("stop before watch failed")
	}

	req := &gmail.WatchRequest{
		TopicName: topicName,
		LabelIds:  []string{"INBOX"},
	}
	resp, err := srv.Users.Watch("me", req).Context(ctx).Do()
	if err != nil {
		return nil, wrapAPIError(err, "unable to watch mailbox")
	}
	l.Info().Int64("expiration", resp.Expiration).Uint64("historyId", resp.HistoryId).Msg("watch started")

	return &emaildomain.WatchResult{
		Provider:  authdomain.ProviderGmail,
		HistoryID: resp.HistoryId,
		Resource:  topicName,
		ExpiresAt: time.UnixMilli(resp.Expiration).UTC(),
	}, nil
}

// wrapAPIError classifies googleapi errors: 404 becomes not found, 401 asks
// for reauthentication, the rest surface as provider errors with the
// upstream message.
func wrapAPIError(err error, msg string) error {
	var kind *apperr.Error
	if errors.As(err, &kind) {
		return err
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound:
			return apperr.Wrap(apperr.KindNotFound, "gmail: message not found", err)
		case http.StatusUnauthorized:
			return apperr.Wrap(apperr.KindReauthRequired, "gmail: authorization expired", err)
		}
		return apperr.Wrap(apperr.KindProviderAPI, fmt.Sprintf("gmail: %s: %s", msg, gerr.Message), err)
	}
	return apperr.Wrap(apperr.KindProviderAPI, "gmail: "+msg, err)
}

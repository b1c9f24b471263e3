package outlook

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	authdomain "maildash-backend/internal/auth/domain"
	"maildash-backend/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type fakeGraph struct {
	mu          sync.Mutex
	tokenForms  []url.Values
	authHeaders []string
	lastBody    map[string]any
	lastQuery   url.Values
}

func (f *fakeGraph) serve(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		assert.NoError(t, json.NewEncoder(w).Encode(v))
	}
	record := func(r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
		f.lastQuery = r.URL.Query()
		if r.Body != nil {
			data, _ := io.ReadAll(r.Body)
			f.lastBody = nil
			_ = json.Unmarshal(data, &f.lastBody)
		}
	}

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		f.mu.Lock()
		f.tokenForms = append(f.tokenForms, r.PostForm)
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "new-access", "token_type": "Bearer", "expires_in": 3600, "scope": "Mail.Read",
		})
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		writeJSON(w, http.StatusOK, map[string]any{"id": "u1", "mail": "", "userPrincipalName": "user@contoso.com"})
	})
	mux.HandleFunc("/me/messages", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		writeJSON(w, http.StatusOK, map[string]any{"value": []map[string]any{
			{
				"id": "o1", "subject": "Invoice", "bodyPreview": "see attached", "hasAttachments": true,
				"receivedDateTime": "2024-05-01T09:00:00Z",
				"from":             map[string]any{"emailAddress": map[string]string{"name": "Billing", "address": "billing@contoso.com"}},
			},
		}})
	})
	mux.HandleFunc("/me/messages/o1", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		writeJSON(w, http.StatusOK, map[string]any{
			"id": "o1", "subject": "Invoice", "receivedDateTime": "2024-05-01T09:00:00Z",
			"from":         map[string]any{"emailAddress": map[string]string{"name": "Billing", "address": "billing@contoso.com"}},
			"toRecipients": []map[string]any{{"emailAddress": map[string]string{"name": "Me", "address": "user@contoso.com"}}},
			"body":         map[string]string{"contentType": "html", "content": `<div><img src="cid:Logo@01D9"><a href="javascript:x()">bad</a></div>`},
			"attachments": []map[string]any{
				{"id": "att-logo", "name": "logo.png", "contentType": "image/png", "size": 10, "isInline": true, "contentId": "logo@01d9"},
				{"id": "att-pdf", "name": "invoice.pdf", "contentType": "application/pdf", "size": 20, "isInline": false},
			},
		})
	})
	mux.HandleFunc("/me/messages/o2", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"id": "o2", "body": map[string]string{"contentType": "text", "content": "line1\nline2 <tag>"},
		})
	})
	mux.HandleFunc("/me/messages/o1/attachments/att-pdf", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		writeJSON(w, http.StatusOK, map[string]any{
			"@odata.type": "#microsoft.graph.fileAttachment", "id": "att-pdf", "name": "invoice.pdf",
			"contentType": "application/pdf", "contentBytes": base64.StdEncoding.EncodeToString([]byte("pdf-bytes")),
		})
	})
	mux.HandleFunc("/me/messages/gone", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]string{"code": "ErrorItemNotFound", "message": "not found"}})
	})
	mux.HandleFunc("/me/messages/boom", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": map[string]string{"code": "ServiceUnavailable", "message": "try later"}})
	})
	mux.HandleFunc("/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		writeJSON(w, http.StatusCreated, map[string]any{
			"id": "sub-123", "resource": "me/mailFolders('inbox')/messages", "expirationDateTime": "2024-05-04T10:00:00.0000000Z",
		})
	})
	mux.HandleFunc("/subscriptions/sub-123", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		record(r)
		writeJSON(w, http.StatusOK, map[string]any{"id": "sub-123", "expirationDateTime": "2024-05-04T10:00:00Z"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestService(t *testing.T) (*Service, *fakeGraph) {
	fake := &fakeGraph{}
	srv := fake.serve(t)
	s := NewService(Config{
		ClientID:        "cid",
		ClientSecret:    "secret",
		RedirectURL:     "http://localhost/auth/outlook/callback",
		NotificationURL: "https://api.example.com/webhook/outlook",
		ClientState:     "state-secret",
		AttachmentBase:  "https://api.example.com",
	}).WithEndpoint(srv.URL, srv.URL+"/token").WithClock(func() time.Time { return fixedNow })
	return s, fake
}

func tokenExpiringAt(at time.Time, refresh string) *authdomain.TokenData {
	return &authdomain.TokenData{
		Provider: authdomain.ProviderOutlook,
		Account:  "user@contoso.com",
		Outlook: &authdomain.OutlookToken{
			AccessToken:  "old-access",
			RefreshToken: refresh,
			TokenType:    "Bearer",
			ExpiresAt:    at.Format(time.RFC3339),
		},
	}
}

func TestRefreshIfNeededNotExpired(t *testing.T) {
	s, fake := newTestService(t)

	tok, refreshed, err := s.RefreshIfNeeded(context.Background(), tokenExpiringAt(fixedNow.Add(time.Minute), "rt"))

	require.NoError(t, err)
	assert.False(t, refreshed)
	assert.Equal(t, "old-access", tok.AccessToken())
	assert.Empty(t, fake.tokenForms)
}

func TestRefreshIfNeededExpired(t *testing.T) {
	s, fake := newTestService(t)

	tok, refreshed, err := s.RefreshIfNeeded(context.Background(), tokenExpiringAt(fixedNow.Add(-time.Minute), "rt"))

	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Equal(t, "new-access", tok.AccessToken())
	assert.Equal(t, "rt", tok.RefreshToken())
	assert.Equal(t, "2024-05-01T11:00:00Z", tok.Outlook.ExpiresAt)
	assert.Equal(t, int64(3600), tok.Outlook.ExpiresIn)
	require.Len(t, fake.tokenForms, 1)
	assert.Equal(t, "refresh_token", fake.tokenForms[0].Get("grant_type"))
	assert.Equal(t, "rt", fake.tokenForms[0].Get("refresh_token"))
	assert.Equal(t, "cid", fake.tokenForms[0].Get("client_id"))
}

func TestRefreshIfNeededWithoutRefreshToken(t *testing.T) {
	s, _ := newTestService(t)

	_, _, err := s.RefreshIfNeeded(context.Background(), tokenExpiringAt(fixedNow.Add(-time.Minute), ""))

	assert.True(t, apperr.Is(err, apperr.KindReauthRequired))
}

func TestListMessagesRefreshesFirst(t *testing.T) {
	s, fake := newTestService(t)
	var persisted *authdomain.TokenData

	items, err := s.ListMessages(context.Background(), tokenExpiringAt(fixedNow.Add(-time.Minute), "rt"), "", func(tok *authdomain.TokenData) error {
		persisted = tok
		return nil
	})

	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "o1", items[0].ID)
	assert.Equal(t, "Billing <billing@contoso.com>", items[0].From)
	assert.True(t, items[0].HasAttachments)
	assert.Equal(t, authdomain.ProviderOutlook, items[0].Service)
	require.NotNil(t, persisted)
	assert.Equal(t, "new-access", persisted.AccessToken())
	assert.Equal(t, "Bearer new-access", fake.authHeaders[0])
	assert.Equal(t, "hasAttachments eq true", fake.lastQuery.Get("$filter"))
	assert.Equal(t, "20", fake.lastQuery.Get("$top"))
}

func TestGetMessageNormalizes(t *testing.T) {
	s, fake := newTestService(t)

	content, err := s.GetMessage(context.Background(), tokenExpiringAt(fixedNow.Add(time.Hour), "rt"), "o1", nil)

	require.NoError(t, err)
	assert.Equal(t, "attachments", fake.lastQuery.Get("$expand"))
	assert.Equal(t, "billing@contoso.com", content.FromAddress)
	require.Len(t, content.To, 1)
	assert.Equal(t, "user@contoso.com", content.To[0].Email)
	assert.NotContains(t, content.Body, "cid:")
	assert.Contains(t, content.Body, "attachmentId=att-logo")
	assert.NotContains(t, content.Body, "javascript")
	require.Len(t, content.Attachments, 2)
	assert.True(t, content.Attachments[0].IsInline)
	assert.False(t, content.Attachments[1].IsInline)
}

func TestGetMessagePlainText(t *testing.T) {
	s, _ := newTestService(t)

	content, err := s.GetMessage(context.Background(), tokenExpiringAt(fixedNow.Add(time.Hour), "rt"), "o2", nil)

	require.NoError(t, err)
	assert.Equal(t, "line1<br>line2 &lt;tag&gt;", content.Body)
	assert.Equal(t, "text/plain", content.ContentType)
}

func TestGetMessageErrors(t *testing.T) {
	s, _ := newTestService(t)
	tok := tokenExpiringAt(fixedNow.Add(time.Hour), "rt")

	_, err := s.GetMessage(context.Background(), tok, "gone", nil)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = s.GetMessage(context.Background(), tok, "boom", nil)
	assert.True(t, apperr.Is(err, apperr.KindProviderAPI))
	assert.Contains(t, apperr.Message(err), "ServiceUnavailable: try later")
}

func TestGetMessageHonoursContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	s := NewService(Config{ClientID: "cid", ClientSecret: "secret"}).
		WithEndpoint(srv.URL, srv.URL+"/token").
		WithClock(func() time.Time { return fixedNow })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := s.GetMessage(ctx, tokenExpiringAt(fixedNow.Add(time.Hour), "rt"), "o1", nil)
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("GetMessage ignored the context deadline")
	}
}

func TestGetAttachment(t *testing.T) {
	s, _ := newTestService(t)

	att, err := s.GetAttachment(context.Background(), tokenExpiringAt(fixedNow.Add(time.Hour), "rt"), "o1", "att-pdf", nil)

	require.NoError(t, err)
	assert.Equal(t, []byte("pdf-bytes"), att.Data)
	assert.Equal(t, "invoice.pdf", att.Name)
	assert.Equal(t, "application/pdf", att.ContentType)
}

func TestCreateAndRenewSubscription(t *testing.T) {
	s, fake := newTestService(t)
	tok := tokenExpiringAt(fixedNow.Add(time.Hour), "rt")

	res, err := s.CreateSubscription(context.Background(), tok, nil)
	require.NoError(t, err)
	assert.Equal(t, "sub-123", res.SubscriptionID)
	assert.Equal(t, "created,updated", fake.lastBody["changeType"])
	assert.Equal(t, "state-secret", fake.lastBody["clientState"])
	assert.Equal(t, "https://api.example.com/webhook/outlook", fake.lastBody["notificationUrl"])
	assert.Equal(t, "me/mailFolders('inbox')/messages", fake.lastBody["resource"])
	assert.Equal(t, "2024-05-04T10:00:00Z", fake.lastBody["expirationDateTime"])

	renewed, err := s.RenewSubscription(context.Background(), tok, "sub-123", nil)
	require.NoError(t, err)
	assert.Equal(t, "sub-123", renewed.SubscriptionID)
	assert.Equal(t, "2024-05-04T10:00:00Z", fake.lastBody["expirationDateTime"])
	assert.True(t, renewed.ExpiresAt.Equal(fixedNow.Add(SubscriptionTTL)))
}

func TestExchangeUsesPrincipalName(t *testing.T) {
	s, _ := newTestService(t)

	tok, err := s.Exchange(context.Background(), "auth-code")

	require.NoError(t, err)
	assert.Equal(t, "user@contoso.com", tok.Account)
	assert.Equal(t, "new-access", tok.AccessToken())
	require.NoError(t, tok.Validate())
}

func TestAuthCodeURL(t *testing.T) {
	u := NewService(Config{ClientID: "cid", RedirectURL: "http://localhost/cb"}).AuthCodeURL("st")

	parsed, err := url.Parse(u)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "login.microsoftonline.com", parsed.Host)
	assert.Equal(t, "offline_access Mail.Read Mail.ReadWrite", q.Get("scope"))
	assert.Equal(t, "query", q.Get("response_mode"))
	assert.Equal(t, "st", q.Get("state"))
}

func TestMissingConfig(t *testing.T) {
	assert.Equal(t, []string{"OUTLOOK_CLIENT_ID", "OUTLOOK_CLIENT_SECRET"}, NewService(Config{}).MissingConfig())
}


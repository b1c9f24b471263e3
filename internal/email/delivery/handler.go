package delivery

import (
	"context"
	"mime"
	"net/http"
	"strconv"
	"sync"
	"time"

	authdelivery "maildash-backend/internal/auth/delivery"
	authdomain "maildash-backend/internal/auth/domain"
	authusecase "maildash-backend/internal/auth/usecase"
	emaildomain "maildash-backend/internal/email/domain"
	emaildto "maildash-backend/internal/email/dto"
	"maildash-backend/internal/email/usecase"
	"maildash-backend/pkg/apperr"
	"maildash-backend/pkg/logger"
	"maildash-backend/pkg/utils/crypto"

	"github.com/gin-gonic/gin"
)

const subscriptionCookie = "outlook_subscription"

type EmailHandler struct {
	emailUsecase usecase.EmailUsecase
	authUsecase  authusecase.AuthUsecase
	cipher       *crypto.Cipher
	secure       bool
	dev          bool
}

func NewEmailHandler(emailUsecase usecase.EmailUsecase, authUsecase authusecase.AuthUsecase, cipher *crypto.Cipher, secure, dev bool) *EmailHandler {
	return &EmailHandler{
		emailUsecase: emailUsecase,
		authUsecase:  authUsecase,
		cipher:       cipher,
		secure:       secure,
		dev:          dev,
	}
}

// refreshTracker collects tokens refreshed during a request so the session
// cookies can be rewritten before the response is sent.
type refreshTracker struct {
	mu     sync.Mutex
	tokens map[authdomain.Provider]*authdomain.TokenData
}

func (h *EmailHandler) trackRefresh(c *gin.Context) (context.Context, *refreshTracker) {
	rt := &refreshTracker{tokens: make(map[authdomain.Provider]*authdomain.TokenData)}
	ctx := usecase.WithRefreshListener(c.Request.Context(), func(token *authdomain.TokenData) {
		rt.mu.Lock()
		rt.tokens[token.Provider] = token
		rt.mu.Unlock()
	})
	return ctx, rt
}

func (h *EmailHandler) writeRefreshed(c *gin.Context, rt *refreshTracker) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for p, token := range rt.tokens {
		value, err := h.authUsecase.EncodeSession(token)
		if err != nil {
			log := logger.Component("email")
			log.Warn().Err(err).Str("provider", string(p)).Msg("failed to re-encode refreshed session")
			continue
		}
		authdelivery.SetCookie(c, p.CookieName(), value, authdelivery.SessionMaxAge, h.secure)
	}
}

// selectSession picks the session named by ?service=, or the only one
// connected. Several sessions without a service is ambiguous.
func (h *EmailHandler) selectSession(c *gin.Context) (*authdomain.TokenData, bool) {
	sessions := authdelivery.GetSessions(c)
	if service := c.Query("service"); service != "" {
		p, ok := authdomain.ParseProvider(service)
		if !ok {
			apperr.RespondKind(c, apperr.KindBadRequest, "unsupported service: "+service)
			return nil, false
		}
		token := sessions[p]
		if token == nil {
			apperr.RespondKind(c, apperr.KindNotAuthenticated, "not authenticated with "+service)
			return nil, false
		}
		return token, true
	}

	switch len(sessions) {
	case 0:
		apperr.RespondKind(c, apperr.KindNotAuthenticated, "no connected mail account")
		return nil, false
	case 1:
		for _, token := range sessions {
			return token, true
		}
	}
	apperr.RespondKind(c, apperr.KindBadRequest, "service is required when several accounts are connected")
	return nil, false
}

// ListEmails handles GET /email/list.
func (h *EmailHandler) ListEmails(c *gin.Context) {
	ctx, rt := h.trackRefresh(c)

	if c.Query("service") != "" {
		token, ok := h.selectSession(c)
		if !ok {
			return
		}
		items, err := h.emailUsecase.ListEmails(ctx, token, c.Query("filter"))
		if err != nil {
			apperr.Respond(c, err, h.dev)
			return
		}
		h.writeRefreshed(c, rt)
		c.JSON(http.StatusOK, emaildto.EmailsResponse{Emails: items})
		return
	}

	sessions := authdelivery.GetSessions(c)
	tokens := make([]*authdomain.TokenData, 0, len(sessions))
	for _, p := range authdomain.Providers {
		if token := sessions[p]; token != nil {
			tokens = append(tokens, token)
		}
	}
	if len(tokens) == 0 {
		apperr.RespondKind(c, apperr.KindNotAuthenticated, "no connected mail account")
		return
	}

	items, failures := h.emailUsecase.ListAll(ctx, tokens)
	if len(failures) == len(tokens) {
		apperr.Respond(c, failures[tokens[0].Provider], h.dev)
		return
	}

	resp := emaildto.EmailsResponse{Emails: items}
	if len(failures) > 0 {
		resp.Errors = make(map[string]emaildto.ProviderError, len(failures))
		for p, err := range failures {
			resp.Errors[string(p)] = emaildto.ProviderError{Error: apperr.KindOf(err).Code(), Details: apperr.Message(err)}
		}
	}
	h.writeRefreshed(c, rt)
	c.JSON(http.StatusOK, resp)
}

// GetMessage handles GET /email/message?id=.
func (h *EmailHandler) GetMessage(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		apperr.RespondKind(c, apperr.KindBadRequest, "message id is required")
		return
	}
	token, ok := h.selectSession(c)
	if !ok {
		return
	}

	ctx, rt := h.trackRefresh(c)
	content, err := h.emailUsecase.GetEmail(ctx, token, id)
	if err != nil {
		apperr.Respond(c, err, h.dev)
		return
	}
	h.writeRefreshed(c, rt)
	c.JSON(http.StatusOK, content)
}

// GetAttachment handles GET /email/attachment and streams the raw bytes.
func (h *EmailHandler) GetAttachment(c *gin.Context) {
	messageID := c.Query("messageId")
	attachmentID := c.Query("attachmentId")
	if messageID == "" || attachmentID == "" {
		apperr.RespondKind(c, apperr.KindBadRequest, "messageId and attachmentId are required")
		return
	}
	token, ok := h.selectSession(c)
	if !ok {
		return
	}

	ctx, rt := h.trackRefresh(c)
	att, err := h.emailUsecase.GetAttachment(ctx, token, messageID, attachmentID)
	if err != nil {
		apperr.Respond(c, err, h.dev)
		return
	}
	h.writeRefreshed(c, rt)

	name := att.Name
	if name == "" {
		name = "attachment"
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	c.Header("Content-Length", strconv.Itoa(len(att.Data)))
	c.Header("Cache-Control", "private, max-age=300")
	c.Data(http.StatusOK, att.ContentType, att.Data)
}

// Watch handles POST /watch/:provider.
func (h *EmailHandler) Watch(c *gin.Context) {
	p, ok := authdomain.ParseProvider(c.Param("provider"))
	if !ok {
		apperr.RespondKind(c, apperr.KindBadRequest, "unsupported provider: "+c.Param("provider"))
		return
	}
	token := authdelivery.GetSessions(c)[p]
	if token == nil {
		apperr.RespondKind(c, apperr.KindNotAuthenticated, "not authenticated with "+string(p))
		return
	}

	ctx, rt := h.trackRefresh(c)
	result, err := h.emailUsecase.Watch(ctx, token)
	if err != nil {
		apperr.Respond(c, err, h.dev)
		return
	}
	h.writeRefreshed(c, rt)
	if p == authdomain.ProviderOutlook {
		h.setSubscriptionCookie(c, result)
	}
	c.JSON(http.StatusOK, emaildto.WatchResponse{Success: true, Subscription: result})
}

// RenewWatch handles PATCH /watch/outlook using the subscription cookie.
func (h *EmailHandler) RenewWatch(c *gin.Context) {
	token := authdelivery.GetSessions(c)[authdomain.ProviderOutlook]
	if token == nil {
		apperr.RespondKind(c, apperr.KindNotAuthenticated, "not authenticated with outlook")
		return
	}

	var sub emaildto.SubscriptionCookie
	raw, err := c.Cookie(subscriptionCookie)
	if err != nil || raw == "" || h.cipher.DecryptJSON(raw, &sub) != nil || sub.ID == "" {
		apperr.RespondKind(c, apperr.KindNotFound, "no active subscription found")
		return
	}

	ctx, rt := h.trackRefresh(c)
	result, err := h.emailUsecase.RenewWatch(ctx, token, sub.ID)
	if err != nil {
		apperr.Respond(c, err, h.dev)
		return
	}
	h.writeRefreshed(c, rt)
	h.setSubscriptionCookie(c, result)
	c.JSON(http.StatusOK, emaildto.WatchResponse{Success: true, Subscription: result})
}

// setSubscriptionCookie keeps the cookie alive exactly as long as the subscription.
func (h *EmailHandler) setSubscriptionCookie(c *gin.Context, result *emaildomain.WatchResult) {
	value, err := h.cipher.EncryptJSON(emaildto.SubscriptionCookie{ID: result.SubscriptionID, ExpirationDateTime: result.ExpiresAt})
	if err != nil {
		log := logger.Component("email")
		log.Warn().Err(err).Msg("failed to encode subscription cookie")
		return
	}
	maxAge := int(time.Until(result.ExpiresAt).Seconds())
	if maxAge <= 0 {
		maxAge = authdelivery.SessionMaxAge
	}
	authdelivery.SetCookie(c, subscriptionCookie, value, maxAge, h.secure)
}

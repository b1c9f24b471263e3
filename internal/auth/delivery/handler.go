package delivery

import (
	"net/http"

	authdomain "maildash-backend/internal/auth/domain"
	"maildash-backend/internal/auth/usecase"
	"maildash-backend/pkg/apperr"
	"maildash-backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

const stateMaxAge = 10 * 60

type AuthHandler struct {
	authUsecase usecase.AuthUsecase
	frontendURL string
	secure      bool
	dev         bool
}

func NewAuthHandler(authUsecase usecase.AuthUsecase, frontendURL string, secure, dev bool) *AuthHandler {
	return &AuthHandler{
		authUsecase: authUsecase,
		frontendURL: frontendURL,
		secure:      secure,
		dev:         dev,
	}
}

func stateCookieName(p authdomain.Provider) string {
	return string(p) + "_oauth_state"
}

func (h *AuthHandler) parseProvider(c *gin.Context) (authdomain.Provider, bool) {
	p, ok := authdomain.ParseProvider(c.Param("provider"))
	if !ok {
		apperr.RespondKind(c, apperr.KindBadRequest, "unsupported provider: "+c.Param("provider"))
	}
	return p, ok
}

// Login redirects to the provider consent page.
func (h *AuthHandler) Login(c *gin.Context) {
	p, ok := h.parseProvider(c)
	if !ok {
		return
	}
	authURL, state, err := h.authUsecase.BeginAuth(p)
	if err != nil {
		apperr.Respond(c, err, h.dev)
		return
	}
	SetCookie(c, stateCookieName(p), state, stateMaxAge, h.secure)
	c.Redirect(http.StatusFound, authURL)
}

// Callback completes the consent flow and starts the cookie session.
func (h *AuthHandler) Callback(c *gin.Context) {
	p, ok := h.parseProvider(c)
	if !ok {
		return
	}
	log := logger.Component("auth")

	if p == authdomain.ProviderOutlook && c.Query("error") != "" {
		log.Warn().Str("error", c.Query("error")).Str("description", c.Query("error_description")).Msg("outlook authorization rejected")
		c.Redirect(http.StatusFound, h.frontendURL+"/?error=auth_rejected")
		return
	}

	code := c.Query("code")
	if code == "" {
		apperr.RespondKind(c, apperr.KindBadRequest, "no authorization code provided")
		return
	}

	// The state cookie is only present for flows started by Login.
	state := c.Query("state")
	if expected, err := c.Cookie(stateCookieName(p)); err == nil && expected != "" {
		ClearCookie(c, stateCookieName(p), h.secure)
		if state != expected {
			apperr.RespondKind(c, apperr.KindBadRequest, "oauth state mismatch")
			return
		}
	}
	if state != "" {
		if err := h.authUsecase.VerifyState(p, state); err != nil {
			log.Warn().Err(err).Str("provider", string(p)).Msg("rejecting callback with invalid state")
			apperr.Respond(c, err, h.dev)
			return
		}
	}

	token, err := h.authUsecase.CompleteAuth(c.Request.Context(), p, code)
	if err != nil {
		apperr.Respond(c, err, h.dev)
		return
	}

	value, err := h.authUsecase.EncodeSession(token)
	if err != nil {
		apperr.Respond(c, apperr.Wrap(apperr.KindInternal, "failed to encode session", err), h.dev)
		return
	}
	SetCookie(c, p.CookieName(), value, SessionMaxAge, h.secure)
	c.Redirect(http.StatusFound, h.frontendURL+"/dashboard")
}

// Logout forgets the provider token server side and clears the cookie.
func (h *AuthHandler) Logout(c *gin.Context) {
	p, ok := h.parseProvider(c)
	if !ok {
		return
	}
	if token := GetSessions(c)[p]; token != nil {
		h.authUsecase.Logout(c.Request.Context(), token)
	}
	ClearCookie(c, p.CookieName(), h.secure)
	c.JSON(http.StatusOK, gin.H{"status": "logged_out", "provider": p})
}

// Status lists which providers this browser is connected to.
func (h *AuthHandler) Status(c *gin.Context) {
	sessions := GetSessions(c)
	connected := make(map[authdomain.Provider]string, len(sessions))
	for p, token := range sessions {
		connected[p] = token.Account
	}
	c.JSON(http.StatusOK, gin.H{"connected": connected})
}

// DebugConfig reports provider configuration without exposing secrets.
func (h *AuthHandler) DebugConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.authUsecase.ConfigStatus()})
}

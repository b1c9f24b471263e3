package delivery

import (
	"net/http"

	authdomain "maildash-backend/internal/auth/domain"
	"maildash-backend/internal/auth/usecase"
	"maildash-backend/pkg/apperr"
	"maildash-backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	sessionsKey = "sessions"

	// SessionMaxAge is the lifetime of provider session cookies (7 days).
	SessionMaxAge = 60 * 60 * 24 * 7
)

// Sessions maps each connected provider to its token for this request.
type Sessions map[authdomain.Provider]*authdomain.TokenData

// SessionMiddleware resolves every provider cookie on the request. Corrupt or
// foreign cookies are cleared and ignored rather than failing the request.
func SessionMiddleware(authUsecase usecase.AuthUsecase, secure bool) gin.HandlerFunc {
	log := logger.Component("session")
	return func(c *gin.Context) {
		sessions := make(Sessions)
		for _, p := range authdomain.Providers {
			cookie, err := c.Cookie(p.CookieName())
			if err != nil || cookie == "" {
				continue
			}
			token, err := authUsecase.ResolveSession(c.Request.Context(), p, cookie)
			if err != nil {
				log.Debug().Err(err).Str("provider", string(p)).Msg("dropping invalid session cookie")
				ClearCookie(c, p.CookieName(), secure)
				continue
			}
			sessions[p] = token
		}
		c.Set(sessionsKey, sessions)
		c.Next()
	}
}

// RequireSession rejects requests without at least one connected provider.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(GetSessions(c)) == 0 {
			apperr.RespondKind(c, apperr.KindNotAuthenticated, "no connected mail account")
			return
		}
		c.Next()
	}
}

func GetSessions(c *gin.Context) Sessions {
	if v, ok := c.Get(sessionsKey); ok {
		if s, ok := v.(Sessions); ok {
			return s
		}
	}
	return Sessions{}
}

// SetCookie writes an HttpOnly, SameSite=Lax cookie scoped to the whole site.
func SetCookie(c *gin.Context, name, value string, maxAge int, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, maxAge, "/", "", secure, true)
}

func ClearCookie(c *gin.Context, name string, secure bool) {
	SetCookie(c, name, "", -1, secure)
}

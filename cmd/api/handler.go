package api

import (
	"net/http"
	"strings"

	authDelivery "maildash-backend/internal/auth/delivery"
	authUsecase "maildash-backend/internal/auth/usecase"
	emailDelivery "maildash-backend/internal/email/delivery"
	emailUsecasePkg "maildash-backend/internal/email/usecase"
	"maildash-backend/internal/notification"
	notificationDelivery "maildash-backend/internal/notification/delivery"
	"maildash-backend/pkg/config"
	"maildash-backend/pkg/logger"
	"maildash-backend/pkg/utils/crypto"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	authUsecase    authUsecase.AuthUsecase
	config         *config.Config
	authHandler    *authDelivery.AuthHandler
	emailHandler   *emailDelivery.EmailHandler
	webhookHandler *notificationDelivery.WebhookHandler
}

func NewHandler(authUc authUsecase.AuthUsecase, emailUc emailUsecasePkg.EmailUsecase, cipher *crypto.Cipher, gmailPush *notification.GmailProcessor, outlookPush *notification.OutlookProcessor, gmailAuth notification.PushVerifier, cfg *config.Config) *Handler {
	secure := cfg.IsProduction()
	dev := cfg.IsDevelopment()

	return &Handler{
		authUsecase:    authUc,
		config:         cfg,
		authHandler:    authDelivery.NewAuthHandler(authUc, cfg.FrontendURL, secure, dev),
		emailHandler:   emailDelivery.NewEmailHandler(emailUc, authUc, cipher, secure, dev),
		webhookHandler: notificationDelivery.NewWebhookHandler(gmailPush, outlookPush, gmailAuth),
	}
}

// Router builds the engine with CORS, request logging and session resolution.
func (h *Handler) Router() *gin.Engine {
	if !h.config.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), logger.GinLogger(), corsMiddleware(h.config.FrontendURL))
	r.Use(authDelivery.SessionMiddleware(h.authUsecase, h.config.IsProduction()))

	SetupRoutes(r, h.authHandler, h.emailHandler, h.webhookHandler)
	return r
}

// corsMiddleware admits the dashboard origin with credentials so the
// browser sends the session cookies.
func corsMiddleware(frontendURL string) gin.HandlerFunc {
	allowed := strings.TrimRight(frontendURL, "/")
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && origin == allowed {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Vary", "Origin")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

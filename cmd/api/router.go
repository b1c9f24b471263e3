package api

import (
	"net/http"

	authDelivery "maildash-backend/internal/auth/delivery"
	emailDelivery "maildash-backend/internal/email/delivery"
	notificationDelivery "maildash-backend/internal/notification/delivery"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, authHandler *authDelivery.AuthHandler, emailHandler *emailDelivery.EmailHandler, webhookHandler *notificationDelivery.WebhookHandler) {
	// Health check (no auth required)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/debug/config", authHandler.DebugConfig)

	// Auth routes
	auth := r.Group("/auth")
	{
		auth.GET("/status", authHandler.Status)
		auth.GET("/:provider", authHandler.Login)
		auth.GET("/:provider/callback", authHandler.Callback)
		auth.POST("/:provider/logout", authHandler.Logout)
	}

	// Email routes (protected)
	email := r.Group("/email")
	email.Use(authDelivery.RequireSession())
	{
		email.GET("/list", emailHandler.ListEmails)
		email.GET("/message", emailHandler.GetMessage)
		email.GET("/attachment", emailHandler.GetAttachment)
	}

	// Push subscription management (protected)
	watch := r.Group("/watch")
	watch.Use(authDelivery.RequireSession())
	{
		watch.POST("/:provider", emailHandler.Watch)
		watch.PATCH("/outlook", emailHandler.RenewWatch)
	}

	// Provider push delivery (public, validated per provider)
	webhook := r.Group("/webhook")
	{
		webhook.POST("/:provider", webhookHandler.Receive)
		webhook.GET("/outlook", webhookHandler.Validation)
	}
}

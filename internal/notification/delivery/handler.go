package delivery

import (
	"errors"
	"io"
	"net/http"

	"maildash-backend/internal/notification"
	"maildash-backend/pkg/apperr"
	"maildash-backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
)

// maxWebhookBody bounds notification bodies read into memory.
const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	gmail     *notification.GmailProcessor
	outlook   *notification.OutlookProcessor
	gmailAuth notification.PushVerifier
}

// NewWebhookHandler builds the push endpoints. gmailAuth may be nil, in which
// case Gmail push requests are accepted without an OIDC token.
func NewWebhookHandler(gmail *notification.GmailProcessor, outlook *notification.OutlookProcessor, gmailAuth notification.PushVerifier) *WebhookHandler {
	return &WebhookHandler{
		gmail:     gmail,
		outlook:   outlook,
		gmailAuth: gmailAuth,
	}
}

// Receive handles POST /webhook/:provider.
func (h *WebhookHandler) Receive(c *gin.Context) {
	switch c.Param("provider") {
	case "gmail":
		h.Gmail(c)
	case "outlook":
		h.Outlook(c)
	default:
		apperr.RespondKind(c, apperr.KindBadRequest, "unsupported provider: "+c.Param("provider"))
	}
}

// Gmail acknowledges every notification it can decode, even when nothing is
// done with it or the refresh fails.
func (h *WebhookHandler) Gmail(c *gin.Context) {
	if h.gmailAuth != nil {
		if err := h.gmailAuth.Verify(c.Request.Context(), c.GetHeader("Authorization")); err != nil {
			log := logger.Component("gmail_push")
			log.Warn().Err(err).Msg("rejecting unauthenticated push")
			apperr.RespondKind(c, apperr.KindNotAuthenticated, notification.ErrPushUnauthorized.Error())
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		apperr.RespondKind(c, apperr.KindBadRequest, "unable to read body")
		return
	}

	n, err := notification.ParsePushEnvelope(body)
	if err != nil {
		log := logger.Component("gmail_push")
		log.Warn().Err(err).Msg("rejecting push envelope")
		apperr.RespondKind(c, apperr.KindBadRequest, notification.ErrBadEnvelope.Error())
		return
	}

	outcome, err := h.gmail.Process(c.Request.Context(), n)
	if err != nil {
		// Already logged by the processor; a 5xx would only trigger redelivery.
		outcome = notification.OutcomeFailed
	}
	c.JSON(http.StatusOK, gin.H{"message": "notification received", "outcome": outcome})
}

// Validation handles GET /webhook/outlook subscription handshakes.
func (h *WebhookHandler) Validation(c *gin.Context) {
	if token := c.Query("validationToken"); token != "" {
		c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(token))
		return
	}
	apperr.RespondKind(c, apperr.KindBadRequest, "invalid request")
}

// Outlook handles both the validation handshake and notification batches.
func (h *WebhookHandler) Outlook(c *gin.Context) {
	if token := c.Query("validationToken"); token != "" {
		c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(token))
		return
	}

	var batch notification.OutlookBatch
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil || json.Unmarshal(body, &batch) != nil {
		apperr.RespondKind(c, apperr.KindBadRequest, "invalid notification body")
		return
	}

	if err := h.outlook.Validate(&batch); err != nil {
		log := logger.Component("outlook_push")
		log.Warn().Int("notifications", len(batch.Value)).Msg("rejecting batch with invalid clientState")
		status := http.StatusUnauthorized
		if !errors.Is(err, notification.ErrClientState) {
			status = http.StatusBadRequest
		}
		c.AbortWithStatusJSON(status, gin.H{"error": "invalid_client_state", "details": err.Error()})
		return
	}

	result := h.outlook.Process(c.Request.Context(), &batch)
	c.JSON(http.StatusOK, gin.H{"status": "notifications processed", "result": result})
}

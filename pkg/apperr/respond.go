package apperr

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Respond writes the JSON error body for err and aborts the chain. The
// underlying cause is only included when dev is true.
func Respond(c *gin.Context, err error, dev bool) {
	kind := KindOf(err)
	body := gin.H{
		"error":   kind.Code(),
		"details": Message(err),
	}
	if dev {
		body["cause"] = err.Error()
	}

	status := kind.Status()
	if status >= 500 {
		log.Error().Err(err).Str("path", c.FullPath()).Str("code", kind.Code()).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, body)
}

func RespondKind(c *gin.Context, kind Kind, message string) {
	c.AbortWithStatusJSON(kind.Status(), gin.H{
		"error":   kind.Code(),
		"details": message,
	})
}

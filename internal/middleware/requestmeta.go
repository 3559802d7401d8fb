package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/authgate/authgate/internal/auditctx"
)

// RequestMetadata stamps the caller's network details into the request
// context so audit entries written deep in the service layer can record
// where an action came from.
func RequestMetadata() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := auditctx.Actor{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		}
		c.Request = c.Request.WithContext(auditctx.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

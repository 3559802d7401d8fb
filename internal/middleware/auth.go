package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/authgate/authgate/internal/auditctx"
	iauth "github.com/authgate/authgate/internal/auth"
	"github.com/authgate/authgate/internal/services"
	"github.com/authgate/authgate/pkg/errors"
	"github.com/authgate/authgate/pkg/response"
)

const (
	CtxPrincipalKey = "authPrincipal"
	CtxUserIDKey    = "userID"
)

// Auth enforces bearer-token authentication. A valid token yields a
// principal carrying the verified claims plus the stored account, so
// handlers see fresh profile data rather than whatever the token was
// minted with. Every failure mode collapses to the same 401.
func Auth(jwt *iauth.JWTService, users *services.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			unauthorized(c)
			return
		}

		token := strings.TrimSpace(authz[7:])
		claims, err := jwt.Verify(token)
		if err != nil {
			unauthorized(c)
			return
		}

		principal := &iauth.Principal{Claims: claims}
		if users != nil {
			entity, err := users.GetByID(c.Request.Context(), claims.UserID)
			if err != nil {
				// Token outlived the account.
				unauthorized(c)
				return
			}
			principal.Entity = entity
		}

		c.Set(CtxPrincipalKey, principal)
		c.Set(CtxUserIDKey, claims.UserID)

		// Enrich the audit actor with the authenticated identity.
		if actor, ok := auditctx.FromContext(c.Request.Context()); ok {
			actor.UserID = claims.UserID
			actor.Email = claims.Subject
			c.Request = c.Request.WithContext(auditctx.WithActor(c.Request.Context(), actor))
		}

		c.Next()
	}
}

func unauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", "Bearer")
	response.Error(c, errors.ErrUnauthorized)
	c.Abort()
}

// PrincipalFrom extracts the authenticated principal set by Auth.
func PrincipalFrom(c *gin.Context) (*iauth.Principal, bool) {
	value, ok := c.Get(CtxPrincipalKey)
	if !ok {
		return nil, false
	}
	principal, ok := value.(*iauth.Principal)
	return principal, ok && principal != nil
}

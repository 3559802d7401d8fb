package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	iauth "github.com/authgate/authgate/internal/auth"
	"github.com/authgate/authgate/internal/middleware"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// currentUser resolves the authenticated caller placed in the context by the
// auth middleware. The second return is false for unauthenticated requests.
func currentUser(c *gin.Context) (iauth.CurrentUser, bool) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		return iauth.CurrentUser{}, false
	}
	user, err := principal.Resolve()
	if err != nil {
		return iauth.CurrentUser{}, false
	}
	return user, true
}

package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/authgate/authgate/internal/auth"
	"github.com/authgate/authgate/internal/services"
	"github.com/authgate/authgate/pkg/crypto"
	apperrors "github.com/authgate/authgate/pkg/errors"
	"github.com/authgate/authgate/pkg/logger"
	"github.com/authgate/authgate/pkg/response"
)

const (
	oauthStateCookie = "oauth_state"
	oauthNonceCookie = "oauth_nonce"

	// State cookies only need to survive one round trip to the issuer.
	oauthCookieMaxAge = 600
)

// OAuthHandler drives browser logins through the configured OpenID Connect
// issuer. The flow terminates with a redirect to the frontend carrying the
// freshly minted credential token.
type OAuthHandler struct {
	oidc        *iauth.OIDCService
	auth        *services.AuthService
	frontendURL string
	log         *zap.Logger
}

func NewOAuthHandler(oidc *iauth.OIDCService, auth *services.AuthService, frontendURL string) *OAuthHandler {
	return &OAuthHandler{
		oidc:        oidc,
		auth:        auth,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		log:         logger.WithModule("oauth"),
	}
}

// GET /api/auth/oauth/login
func (h *OAuthHandler) Login(c *gin.Context) {
	state, err := crypto.GenerateToken(24)
	if err != nil {
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}
	nonce, err := crypto.GenerateToken(24)
	if err != nil {
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}

	secure := c.Request.TLS != nil
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthStateCookie, state, oauthCookieMaxAge, "/", "", secure, true)
	c.SetCookie(oauthNonceCookie, nonce, oauthCookieMaxAge, "/", "", secure, true)

	c.Redirect(http.StatusFound, h.oidc.AuthCodeURL(state, nonce))
}

// GET /api/auth/oauth/callback
func (h *OAuthHandler) Callback(c *gin.Context) {
	state, err := c.Cookie(oauthStateCookie)
	if err != nil || state == "" || c.Query("state") != state {
		h.redirectFailure(c, "state_mismatch")
		return
	}
	nonce, _ := c.Cookie(oauthNonceCookie)

	// One shot per state.
	secure := c.Request.TLS != nil
	c.SetCookie(oauthStateCookie, "", -1, "/", "", secure, true)
	c.SetCookie(oauthNonceCookie, "", -1, "/", "", secure, true)

	code := c.Query("code")
	if code == "" {
		h.redirectFailure(c, "missing_code")
		return
	}

	identity, err := h.oidc.Exchange(requestContext(c), code, nonce)
	if err != nil {
		h.log.Warn("code exchange failed", zap.Error(err))
		h.redirectFailure(c, "exchange_failed")
		return
	}

	token, _, err := h.auth.AuthenticateExternal(requestContext(c), identity)
	if err != nil {
		h.log.Warn("external login rejected", zap.Error(err))
		h.redirectFailure(c, "login_rejected")
		return
	}

	c.Redirect(http.StatusFound, h.frontendURL+"/oauth/success?token="+url.QueryEscape(token))
}

func (h *OAuthHandler) redirectFailure(c *gin.Context, reason string) {
	c.Redirect(http.StatusFound, h.frontendURL+"/oauth/error?reason="+url.QueryEscape(reason))
}

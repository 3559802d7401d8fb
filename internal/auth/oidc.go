package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCConfig holds the settings for the external identity provider used for
// OAuth logins. Token introspection and provider-side session management are
// delegated entirely to the issuer.
type OIDCConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	HTTPClient   *http.Client
	Timeout      time.Duration
}

// ExternalIdentity is the profile extracted from a verified ID token.
type ExternalIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	FirstName     string
	LastName      string
	Avatar        string
}

// OIDCService drives the authorization-code flow against a single configured
// OpenID Connect issuer.
type OIDCService struct {
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
	timeout  time.Duration
}

// NewOIDCService performs issuer discovery and prepares the code flow.
func NewOIDCService(ctx context.Context, cfg OIDCConfig) (*OIDCService, error) {
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errors.New("oidc: issuer is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("oidc: client id is required")
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.New("oidc: client secret is required")
	}
	if strings.TrimSpace(cfg.RedirectURL) == "" {
		return nil, errors.New("oidc: redirect url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	if cfg.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, cfg.HTTPClient)
	}

	discoveryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	provider, err := oidc.NewProvider(discoveryCtx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc: discovery failed: %w", err)
	}

	return &OIDCService{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		timeout:  timeout,
	}, nil
}

// AuthCodeURL builds the provider redirect for the given anti-forgery state
// and nonce.
func (s *OIDCService) AuthCodeURL(state, nonce string) string {
	return s.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("nonce", nonce))
}

// Exchange redeems the authorization code, verifies the returned ID token,
// and extracts the external profile. The nonce must match the value issued
// alongside the state.
func (s *OIDCService) Exchange(ctx context.Context, code, nonce string) (*ExternalIdentity, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("oidc: code exchange: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("oidc: token response missing id_token")
	}

	idToken, err := s.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("oidc: verify id token: %w", err)
	}

	if nonce != "" && idToken.Nonce != nonce {
		return nil, errors.New("oidc: nonce mismatch")
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		GivenName     string `json:"given_name"`
		FamilyName    string `json:"family_name"`
		Picture       string `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("oidc: decode claims: %w", err)
	}

	email := strings.ToLower(strings.TrimSpace(claims.Email))
	if email == "" {
		return nil, errors.New("oidc: id token carries no email claim")
	}

	return &ExternalIdentity{
		Subject:       idToken.Subject,
		Email:         email,
		EmailVerified: claims.EmailVerified,
		FirstName:     strings.TrimSpace(claims.GivenName),
		LastName:      strings.TrimSpace(claims.FamilyName),
		Avatar:        strings.TrimSpace(claims.Picture),
	}, nil
}

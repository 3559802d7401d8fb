package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/authgate/authgate/internal/models"
	"github.com/authgate/authgate/internal/services"
	apperrors "github.com/authgate/authgate/pkg/errors"
	"github.com/authgate/authgate/pkg/response"
)

// AuthHandler manages registration and credential login.
type AuthHandler struct {
	auth *services.AuthService
}

func NewAuthHandler(auth *services.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type registerRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	token, user, err := h.auth.Authenticate(requestContext(c), req.Email, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"token": token,
		"user":  userPayload(user),
	})
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.auth.Register(requestContext(c), services.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"user":    userPayload(user),
		"message": "verification code sent",
	})
}

// POST /api/auth/logout
//
// Tokens are stateless and cannot be revoked server-side; the endpoint
// exists so clients have a uniform place to end a session.
func (h *AuthHandler) Logout(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"message": "logged out"})
}

// GET /api/auth/current
func (h *AuthHandler) Current(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"user": user})
}

func userPayload(user *models.User) gin.H {
	payload := gin.H{
		"id":         user.ID,
		"email":      user.Email,
		"first_name": user.FirstName,
		"last_name":  user.LastName,
		"verified":   user.Verified,
		"provider":   user.Provider,
	}
	if user.Avatar != "" {
		payload["avatar"] = user.Avatar
	}
	if user.LastLoginAt != nil {
		payload["last_login_at"] = user.LastLoginAt
	}
	return payload
}

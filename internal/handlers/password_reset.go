package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/authgate/authgate/internal/services"
	"github.com/authgate/authgate/pkg/response"
)

// PasswordResetHandler exposes the credential recovery endpoints.
type PasswordResetHandler struct {
	reset *services.PasswordResetService
}

func NewPasswordResetHandler(reset *services.PasswordResetService) *PasswordResetHandler {
	return &PasswordResetHandler{reset: reset}
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type validateCodeRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

type resetPasswordRequest struct {
	Code        string `json:"code" validate:"required,len=6,numeric"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=72"`
}

// POST /api/user/password/forgot
//
// The response is identical whether or not the email belongs to an account,
// so the endpoint cannot be used to probe for registered addresses.
func (h *PasswordResetHandler) Forgot(c *gin.Context) {
	var req forgotPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.reset.Request(requestContext(c), req.Email); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "if the email is registered, a reset code has been sent"})
}

// POST /api/user/password/validate-code
func (h *PasswordResetHandler) ValidateCode(c *gin.Context) {
	var req validateCodeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.reset.Validate(requestContext(c), req.Code); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"valid": true})
}

// POST /api/user/password/reset
func (h *PasswordResetHandler) Reset(c *gin.Context) {
	var req resetPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.reset.Reset(requestContext(c), req.Code, req.NewPassword); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "password updated"})
}

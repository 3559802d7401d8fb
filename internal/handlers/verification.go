package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/authgate/authgate/internal/services"
	"github.com/authgate/authgate/pkg/response"
)

// VerificationHandler exposes the email confirmation endpoints.
type VerificationHandler struct {
	verification *services.VerificationService
}

func NewVerificationHandler(verification *services.VerificationService) *VerificationHandler {
	return &VerificationHandler{verification: verification}
}

type verifyRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

type resendRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// POST /api/email/verify
//
// A correct code flips the account to verified and logs the caller in: the
// response carries a credential token so no separate login round-trip is
// needed.
func (h *VerificationHandler) Verify(c *gin.Context) {
	var req verifyRequest
	if !bindAndValidate(c, &req) {
		return
	}

	token, user, err := h.verification.Submit(requestContext(c), req.Email, req.Code)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"token": token,
		"user":  userPayload(user),
	})
}

// POST /api/email/resend
func (h *VerificationHandler) Resend(c *gin.Context) {
	var req resendRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.verification.Resend(requestContext(c), req.Email); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "verification code sent"})
}

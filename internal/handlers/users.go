package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/authgate/authgate/internal/services"
	apperrors "github.com/authgate/authgate/pkg/errors"
	"github.com/authgate/authgate/pkg/response"
)

// UserHandler exposes profile endpoints for the authenticated account.
type UserHandler struct {
	users *services.UserService
}

func NewUserHandler(users *services.UserService) *UserHandler {
	return &UserHandler{users: users}
}

type updateProfileRequest struct {
	Email     *string `json:"email" validate:"omitempty,email"`
	FirstName *string `json:"first_name" validate:"omitempty,max=100"`
	LastName  *string `json:"last_name" validate:"omitempty,max=100"`
	Avatar    *string `json:"avatar" validate:"omitempty,url,max=500"`
}

// GET /api/user/profile
func (h *UserHandler) Profile(c *gin.Context) {
	caller, ok := currentUser(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	user, err := h.users.GetByID(requestContext(c), caller.ID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"user": userPayload(user)})
}

// PUT /api/user/profile
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	caller, ok := currentUser(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	var req updateProfileRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.UpdateProfile(requestContext(c), caller.ID, services.UpdateProfileInput{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Avatar:    req.Avatar,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"user": userPayload(user)})
}

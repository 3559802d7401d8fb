package auth

import (
	"errors"

	"github.com/authgate/authgate/internal/models"
)

// CurrentUser is the normalised identity of the authenticated caller. It is
// resolved once at the authentication boundary and passed explicitly through
// call chains; no operation reads ambient global state.
type CurrentUser struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Principal is the tagged source of a caller identity: either token claims
// or a loaded account entity. At least one field is set; when both are,
// the entity wins because it reflects current stored state.
type Principal struct {
	Claims *Claims
	Entity *models.User
}

// ErrNoPrincipal indicates that a Principal carried neither claims nor an entity.
var ErrNoPrincipal = errors.New("auth: principal has no identity")

// Resolve flattens the principal into a CurrentUser. Claim-backed principals
// carry only id and email; entity-backed principals also carry the name.
func (p Principal) Resolve() (CurrentUser, error) {
	switch {
	case p.Entity != nil:
		return CurrentUser{
			ID:        p.Entity.ID,
			Email:     p.Entity.Email,
			FirstName: p.Entity.FirstName,
			LastName:  p.Entity.LastName,
		}, nil
	case p.Claims != nil:
		return CurrentUser{
			ID:    p.Claims.UserID,
			Email: p.Claims.Subject,
		}, nil
	default:
		return CurrentUser{}, ErrNoPrincipal
	}
}

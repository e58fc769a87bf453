// Package identity resolves the logged-in principal from the locally stored
// signed token. Decoding is purely local; no claim is ever defaulted. A
// missing or unreadable token is an authentication error, not a fallback id.
package identity

import (
	"context"
	"errors"
	"fmt"

	"tiffin/globals"
	"tiffin/session"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNotAuthenticated = errors.New("identity: not authenticated")
	ErrMalformedToken   = errors.New("identity: malformed token")
	ErrMissingClaim     = errors.New("identity: missing claim")
)

// Role selects which surface of the app the token belongs to.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleRestaurant Role = "restaurant"
	RoleRider      Role = "rider"
)

// TokenKey returns the session-store key for a role's token.
func (r Role) TokenKey() string {
	switch r {
	case RoleRestaurant:
		return globals.RestaurantTokenKey
	case RoleRider:
		return globals.RiderTokenKey
	default:
		return globals.CustomerTokenKey
	}
}

// Claims mirrors the token payload minted by the backend.
type Claims struct {
	Username string `json:"username"`
	UserID   string `json:"userId"`
	CartID   string `json:"cartId"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is the decoded principal. CartID is set for customers only.
type Identity struct {
	Role   Role
	UserID string
	CartID string
}

// Resolve reads the role's token from the store and decodes its payload.
// The signature is not checked here; the client holds no signing secret and
// the backend re-validates on every call.
func Resolve(ctx context.Context, store session.Store, role Role) (Identity, error) {
	raw, err := store.Get(ctx, role.TokenKey())
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return Identity{}, ErrNotAuthenticated
		}
		return Identity{}, fmt.Errorf("read token: %w", err)
	}
	if raw == "" {
		return Identity{}, ErrNotAuthenticated
	}
	return Decode(raw, role)
}

// Decode parses a raw token string for the given role.
func Decode(raw string, role Role) (Identity, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	if claims.UserID == "" {
		return Identity{}, fmt.Errorf("%w: userId", ErrMissingClaim)
	}
	id := Identity{Role: role, UserID: claims.UserID}
	if role == RoleCustomer {
		if claims.CartID == "" {
			return Identity{}, fmt.Errorf("%w: cartId", ErrMissingClaim)
		}
		id.CartID = claims.CartID
	}
	return id, nil
}

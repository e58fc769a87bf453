// Package auth wraps login, signup and logout for one role, keeping the
// signed token in the session store under that role's key.
package auth

import (
	"context"
	"errors"
	"fmt"

	"tiffin/api"
	"tiffin/identity"
	"tiffin/session"
)

type Service struct {
	API   *api.Client
	Store session.Store
}

func NewService(client *api.Client, store session.Store) *Service {
	return &Service{API: client, Store: store}
}

// TokenSource returns the raw stored token for the role, for wiring into the
// API client. A missing token yields an empty string so unauthenticated calls
// like login and signup still go out; the backend rejects the rest.
func TokenSource(store session.Store, role identity.Role) api.TokenSource {
	return func(ctx context.Context) (string, error) {
		raw, err := store.Get(ctx, role.TokenKey())
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				return "", nil
			}
			return "", fmt.Errorf("read token: %w", err)
		}
		return raw, nil
	}
}

// Login exchanges credentials for a token, persists it, and resolves the
// identity from the token itself so the caller never trusts a raw response id.
func (s *Service) Login(ctx context.Context, role identity.Role, username, password string) (identity.Identity, error) {
	resp, err := s.API.Login(ctx, api.Credentials{Username: username, Password: password, Role: string(role)})
	if err != nil {
		return identity.Identity{}, fmt.Errorf("login: %w", err)
	}
	if err := s.Store.Set(ctx, role.TokenKey(), resp.Token); err != nil {
		return identity.Identity{}, fmt.Errorf("store token: %w", err)
	}
	return identity.Resolve(ctx, s.Store, role)
}

// Register creates the account and logs it in.
func (s *Service) Register(ctx context.Context, role identity.Role, username, password string) (identity.Identity, error) {
	resp, err := s.API.Register(ctx, api.Credentials{Username: username, Password: password, Role: string(role)})
	if err != nil {
		return identity.Identity{}, fmt.Errorf("register: %w", err)
	}
	if err := s.Store.Set(ctx, role.TokenKey(), resp.Token); err != nil {
		return identity.Identity{}, fmt.Errorf("store token: %w", err)
	}
	return identity.Resolve(ctx, s.Store, role)
}

// Logout drops the stored token. Server-side session invalidation is the
// backend's concern.
func (s *Service) Logout(ctx context.Context, role identity.Role) error {
	return s.Store.Delete(ctx, role.TokenKey())
}

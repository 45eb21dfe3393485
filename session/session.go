// Package session supplies the bearer credential and the authenticated identity
// used by the board store.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/golang-jwt/jwt/v4"

	"prism-board/domain"
)

// ErrNoCredential is returned by CurrentUser when no token is set.
var ErrNoCredential = errors.New("no credential")

// Provider exposes the credential of the signed-in user.
type Provider interface {
	// Token returns the bearer token or "" when signed out.
	Token() string
	// CurrentUser resolves the identity behind the token.
	CurrentUser(ctx context.Context) (domain.User, error)
}

// UserLookup resolves the identity for the current credential, usually via /auth/me.
type UserLookup interface {
	CurrentUser(ctx context.Context) (domain.User, error)
}

// Static holds a token set by the caller. The identity is looked up once per
// token and cached.
type Static struct {
	lookup UserLookup

	mu    sync.RWMutex
	token string
	user  *domain.User
}

// NewStatic creates a provider for token. lookup may be nil, in which case the
// identity is taken from the token's subject claim.
func NewStatic(token string, lookup UserLookup) *Static {
	return &Static{token: token, lookup: lookup}
}

// SetLookup installs the identity lookup after construction.
func (s *Static) SetLookup(lookup UserLookup) {
	s.mu.Lock()
	s.lookup = lookup
	s.user = nil
	s.mu.Unlock()
}

// Token implements Provider.
func (s *Static) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken replaces the credential. An empty token signs the user out.
func (s *Static) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.user = nil
	s.mu.Unlock()
}

// CurrentUser implements Provider.
func (s *Static) CurrentUser(ctx context.Context) (domain.User, error) {
	s.mu.RLock()
	token, lookup, cached := s.token, s.lookup, s.user
	s.mu.RUnlock()

	if token == "" {
		return domain.User{}, ErrNoCredential
	}
	if cached != nil {
		return *cached, nil
	}

	var (
		user domain.User
		err  error
	)
	if lookup != nil {
		user, err = lookup.CurrentUser(ctx)
	} else {
		var sub string
		sub, err = SubjectFromToken(token)
		user = domain.User{ID: sub}
	}
	if err != nil {
		return domain.User{}, err
	}

	s.mu.Lock()
	if s.token == token {
		s.user = &user
	}
	s.mu.Unlock()
	return user, nil
}

// SubjectFromToken returns the "sub" claim of a JWT without verifying its
// signature. Verification is the service's job.
func SubjectFromToken(token string) (string, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}

package api

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"prism-board/domain"
)

// SignTestToken returns an HS256 token accepted by NewTestAuth(secret).
// Empty name, email and audience are left out of the claims.
func SignTestToken(secret []byte, user domain.User, audience string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("test secret must be set")
	}
	if user.ID == "" {
		return "", errors.New("user id must be set")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": user.ID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if user.Name != "" {
		claims["name"] = user.Name
	}
	if user.Email != "" {
		claims["email"] = user.Email
	}
	if audience != "" {
		claims["aud"] = audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

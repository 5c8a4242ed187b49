package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kursadbilgin/notification-sync/internal/domain"
)

type tokenClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId"`
	AltID  string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Phone  string `json:"phone"`
}

func (c tokenClaims) user() User {
	id := strings.TrimSpace(c.Subject)
	if id == "" {
		id = strings.TrimSpace(c.UserID)
	}
	if id == "" {
		id = strings.TrimSpace(c.AltID)
	}

	return User{
		ID:    id,
		Email: strings.TrimSpace(c.Email),
		Name:  strings.TrimSpace(c.Name),
		Phone: strings.TrimSpace(c.Phone),
	}
}

// StateFromToken derives the auth state from a bearer token's claims. The
// signature is not checked here; the notification API verifies every call.
func StateFromToken(raw string, now time.Time) (AuthState, error) {
	raw = bearer(raw)
	if raw == "" {
		return Unauthenticated(), fmt.Errorf("%w: token is empty", domain.ErrUnauthenticated)
	}

	claims := new(tokenClaims)
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return Unauthenticated(), fmt.Errorf("%w: parse token: %v", domain.ErrUnauthenticated, err)
	}

	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(now) {
		return Unauthenticated(), fmt.Errorf("%w: token expired at %s", domain.ErrUnauthenticated, claims.ExpiresAt.UTC().Format(time.RFC3339))
	}

	user := claims.user()
	if !user.Valid() {
		return Unauthenticated(), fmt.Errorf("%w: token carries no usable identity", domain.ErrUnauthenticated)
	}

	return Ready(user), nil
}

func bearer(raw string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
}

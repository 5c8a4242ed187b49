package ratelimit

import (
	"context"
	"strings"
)

// RateLimiter throttles gateway reads. A scope is usually one user's query
// kind, see Scope.
type RateLimiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
	Wait(ctx context.Context, scope string) error
}

// Scope joins a user id and a query kind into a limiter scope, e.g. u1:list.
func Scope(userID, kind string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = "anonymous"
	}
	return userID + ":" + strings.TrimSpace(kind)
}

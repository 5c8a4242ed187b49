package gateway

import (
	"context"

	"github.com/kursadbilgin/notification-sync/internal/domain"
)

// Gateway is the remote notification API scoped to the authenticated user.
type Gateway interface {
	List(ctx context.Context, filters domain.Filters) (domain.Page, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	DeleteOne(ctx context.Context, id string) error
	DeleteMany(ctx context.Context, ids []string) error
	DeleteAll(ctx context.Context) error
}

// TokenSource supplies the bearer token for each request.
type TokenSource func() string

type tokenKey struct{}

// WithToken pins the bearer token for requests made with ctx. A pinned token
// wins over the gateway's TokenSource, so work issued under one session keeps
// its credentials after the session changes.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	token, ok := ctx.Value(tokenKey{}).(string)
	return token, ok
}

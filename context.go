package tipio

import (
	"context"
)

type contextKey struct{}

var (
	// userContextKey is the context key for the authenticated user.
	userContextKey = contextKey{}
)

func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

func UserFrom(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(userContextKey).(*User)
	return user, ok
}

package usecase

import (
	"context"

	authdomain "maildash-backend/internal/auth/domain"
)

type refreshListenerKey struct{}

// RefreshListener is told about every token refreshed while serving a request,
// so the caller can rewrite its session cookie.
type RefreshListener func(token *authdomain.TokenData)

func WithRefreshListener(ctx context.Context, fn RefreshListener) context.Context {
	return context.WithValue(ctx, refreshListenerKey{}, fn)
}

func notifyRefresh(ctx context.Context, token *authdomain.TokenData) {
	if fn, ok := ctx.Value(refreshListenerKey{}).(RefreshListener); ok && fn != nil {
		fn(token.Clone())
	}
}

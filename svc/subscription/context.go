package subscription

import "context"

type contextKey struct{ name string }

var userContextKey = contextKey{"subscription.user"}

// WithUser stores the authenticated user in the context. The chat
// application's auth middleware calls this after validating the session.
func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext extracts the authenticated user placed by WithUser.
func UserFromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(userContextKey).(User)
	return user, ok
}

package auth

import (
	"context"
	"strconv"
)

// Identity is the authenticated caller. Handlers resolve it once in
// middleware and pass it to services explicitly.
type Identity struct {
	UserID int64
}

func (i Identity) String() string {
	return "user:" + strconv.FormatInt(i.UserID, 10)
}

type contextKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFrom returns the identity stored by WithIdentity.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

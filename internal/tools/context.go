package tools

import (
	"context"
	"errors"
)

type contextKey string

const ownerKeyKey contextKey = "owner_key"

// ErrNoOwner is returned by owner-scoped tools invoked without an owner
// key in the context.
var ErrNoOwner = errors.New("no conversation owner in context")

// WithOwnerKey scopes tool calls on ctx to a conversation owner.
func WithOwnerKey(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKeyKey, owner)
}

// OwnerKeyFromContext returns the owner key, or "" if unset.
func OwnerKeyFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKeyKey).(string)
	return owner
}

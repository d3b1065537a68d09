package auth

import "context"

type ctxKey int

const ownerKey ctxKey = iota

// WithOwner returns a context carrying the resolved owner id. Used by
// transport layers (HTTP middleware, the MCP mount) to hand the caller to
// handlers without re-verifying the token.
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerKey, ownerID)
}

// OwnerFromContext returns the owner id placed by WithOwner.
func OwnerFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ownerKey).(string)
	return id, ok && id != ""
}

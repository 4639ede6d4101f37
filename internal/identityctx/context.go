// Package identityctx carries the verified caller identity through the
// request context.
package identityctx

import "context"

// Identity is the verified caller the ledger operates on behalf of. The
// engine never sees raw tokens, only this.
type Identity struct {
	AccountID string
	Email     string
	Admin     bool
}

type identityKey struct{}

// WithIdentity stores the caller identity in the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the caller identity, if set.
func FromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok || id.AccountID == "" {
		return Identity{}, false
	}
	return id, true
}

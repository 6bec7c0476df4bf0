// ABOUTME: Authentication context for tracking the admin identity through handlers
// ABOUTME: Provides WithAdmin/FromContext for propagating the verified subject

package auth

import "context"

// Identity is the verified caller of an admin request.
type Identity struct {
	Subject   string
	Anonymous bool // true when the admin API runs without a secret
}

type identityKey struct{}

// WithIdentity returns a new context carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

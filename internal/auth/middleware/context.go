package auth

import "context"

// Identity is the authenticated caller as established by JWTMiddleware:
// the user id from the token's sub claim plus the role that RBAC and
// ownership checks key off.
type Identity struct {
	Subject string
	Role    string
}

type ctxKey int

const identityKey ctxKey = iota

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// SubjectFromContext returns the authenticated user id, or "" when the
// request never passed through JWTMiddleware.
func SubjectFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.Subject
}

// RoleFromContext returns the caller's role, or "" for unauthenticated
// requests.
func RoleFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.Role
}

package auth

import "context"

type identityKey struct{}

type identity struct {
	userID string
	role   Role
}

// WithIdentity stores the authenticated identity on the context.
func WithIdentity(ctx context.Context, userID string, role Role) context.Context {
	return context.WithValue(ctx, identityKey{}, identity{userID: userID, role: role})
}

// UserIDFromContext extracts the authenticated user id, or "" when the
// request carried no identity.
func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(identityKey{}).(identity)
	return id.userID
}

// RoleFromContext extracts the authenticated role, or "" when the
// request carried no identity.
func RoleFromContext(ctx context.Context) Role {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(identityKey{}).(identity)
	return id.role
}

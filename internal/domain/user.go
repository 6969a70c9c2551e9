package domain

import "context"

type ContextKey string

const UserContextKey ContextKey = "user"

const (
	RoleAdmin    = "admin"
	RoleCustomer = "customer"
)

// User is the authenticated caller, taken from the JWT claims.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// UserFromContext returns the caller placed in ctx by the auth middleware.
func UserFromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(UserContextKey).(*User)
	return u, ok && u != nil
}

// ActorID names who performed a change, falling back to SystemActor.
func ActorID(ctx context.Context) string {
	if u, ok := UserFromContext(ctx); ok && u.ID != "" {
		return u.ID
	}
	return SystemActor
}

// WithActor returns ctx carrying user, used by schedulers and tests.
func WithActor(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

package domain

import (
	"context"
	"errors"
)

// Role represents a principal's access level
type Role string

const (
	// RoleCustomer can place and inspect its own orders
	RoleCustomer Role = "customer"
	// RoleAdmin can additionally trigger reconciliation and ledger checks
	RoleAdmin Role = "admin"
)

// IsValid checks if the role is a valid role
func (r Role) IsValid() bool {
	return r == RoleCustomer || r == RoleAdmin
}

// CanOperate checks if the role can run administrative operations
func (r Role) CanOperate() bool {
	return r == RoleAdmin
}

// Principal is the authenticated actor. Issuing it is the job of the auth layer.
type Principal struct {
	AccountID string
	Role      Role
}

// Authentication errors
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInsufficientRole = errors.New("insufficient role for this operation")
)

type principalKey struct{}

// ContextWithPrincipal attaches p to ctx.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal stored by the auth middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

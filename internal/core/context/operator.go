// Package context provides request-scoped values extraction.
package context

import (
	"context"
)

// OperatorContext describes the authenticated caller of the admin API.
type OperatorContext struct {
	Subject string
	Roles   []string
}

type operatorContextKey struct{}

// WithOperator adds OperatorContext to context.
func WithOperator(ctx context.Context, op *OperatorContext) context.Context {
	return context.WithValue(ctx, operatorContextKey{}, op)
}

// GetOperator returns OperatorContext from context.
func GetOperator(ctx context.Context) *OperatorContext {
	if v, ok := ctx.Value(operatorContextKey{}).(*OperatorContext); ok {
		return v
	}
	return nil
}

// HasRole checks if the operator has a specific role.
func HasRole(ctx context.Context, role string) bool {
	op := GetOperator(ctx)
	if op == nil {
		return false
	}
	for _, r := range op.Roles {
		if r == role {
			return true
		}
	}
	return false
}

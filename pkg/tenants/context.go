// Package tenants carries the tenant scope every core call runs in. The
// core never computes scoping itself: the caller (transport, job runner)
// resolves the tenant and actor and attaches them to the context before
// calling in.
package tenants

import (
	"context"
	"errors"
)

type contextKey string

const scopeKey contextKey = "tenant_scope"

// ErrNoScope is returned when a call reaches the core without a tenant
// scope attached.
var ErrNoScope = errors.New("tenants: no tenant scope in context")

// Scope identifies the tenant and actor a call runs as.
type Scope struct {
	TenantID string
	ActorID  string
	// Admin marks publisher administrators; only they may deprecate
	// published versions.
	Admin bool
}

// WithScope attaches a tenant scope to the context.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey, s)
}

// FromContext retrieves the tenant scope from the context.
func FromContext(ctx context.Context) (Scope, error) {
	s, ok := ctx.Value(scopeKey).(Scope)
	if !ok {
		return Scope{}, ErrNoScope
	}
	return s, nil
}

// TenantID returns the scoped tenant id, or "system" when none is set.
// Audit records from background jobs fall back to the system tenant.
func TenantID(ctx context.Context) string {
	s, err := FromContext(ctx)
	if err != nil {
		return "system"
	}
	return s.TenantID
}

// ActorID returns the scoped actor id, or "system" when none is set.
func ActorID(ctx context.Context) string {
	s, err := FromContext(ctx)
	if err != nil {
		return "system"
	}
	return s.ActorID
}

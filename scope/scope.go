// Package scope carries the authenticated tenant through a request context.
//
// Hookline never authenticates callers itself. An upstream middleware
// validates the bearer token and stores the tenant claim with WithTenant.
// Handlers read it back with Tenant.
package scope

import "context"

type tenantKey struct{}

// WithTenant returns a copy of ctx carrying tenantID. An empty tenantID
// leaves ctx unchanged.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	if tenantID == "" {
		return ctx
	}
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// Tenant returns the tenant stored in ctx.
func Tenant(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(tenantKey{}).(string)
	return v, ok && v != ""
}

package tenant

import (
	"context"
	"errors"
)

// contextKey is a private type for context keys to prevent collisions
type contextKey string

const (
	tenantIDKey contextKey = "tenant_id"
	scopeKey    contextKey = "tenant_scope"
)

var (
	// ErrNoTenantInContext is returned when tenant context is missing
	ErrNoTenantInContext = errors.New("no tenant in context")
	// ErrPharmacyNotInScope is returned when a caller touches a pharmacy
	// outside their scope
	ErrPharmacyNotInScope = errors.New("pharmacy not in caller scope")
)

// Role is the staff role attached to a session.
type Role string

const (
	// RoleLead is the lead pharmacist who owns the tenant. Lead scope
	// covers every pharmacy, staff member and ledger of the tenant.
	RoleLead Role = "lead"
	// RoleSenior is a senior pharmacist scoped to one assigned pharmacy.
	RoleSenior Role = "senior"
	// RoleRegular is a regular pharmacist scoped to one assigned pharmacy.
	RoleRegular Role = "regular"
)

// Scope is the resolved authorization scope of a request. Two distinct
// scoping rules coexist: lead sessions see the whole tenant, senior and
// regular sessions see only their assigned pharmacy. Both are enforced at
// the query boundary, never trusted from client-supplied claims alone.
type Scope struct {
	TenantID   string
	UserID     string
	Username   string
	Role       Role
	PharmacyID string // assigned pharmacy, empty for lead sessions
}

// TenantWide reports whether the scope covers every pharmacy of the tenant.
func (s Scope) TenantWide() bool {
	return s.Role == RoleLead
}

// AuthorizePharmacy checks the pharmacy against the scope. Lead sessions
// pass for any pharmacy of their tenant; other roles only for the assigned
// one.
func (s Scope) AuthorizePharmacy(pharmacyID string) error {
	if s.TenantWide() {
		return nil
	}
	if s.PharmacyID == "" || s.PharmacyID != pharmacyID {
		return ErrPharmacyNotInScope
	}
	return nil
}

// WithTenantID adds the tenant ID to the context
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// WithScope adds the full request scope (and its tenant ID) to the context
func WithScope(ctx context.Context, s Scope) context.Context {
	ctx = context.WithValue(ctx, tenantIDKey, s.TenantID)
	return context.WithValue(ctx, scopeKey, s)
}

// TenantID extracts the tenant ID from context.
// Returns ErrNoTenantInContext if it is not found.
func TenantID(ctx context.Context) (string, error) {
	id, ok := ctx.Value(tenantIDKey).(string)
	if !ok || id == "" {
		return "", ErrNoTenantInContext
	}
	return id, nil
}

// ScopeFromContext extracts the request scope from context.
func ScopeFromContext(ctx context.Context) (Scope, error) {
	s, ok := ctx.Value(scopeKey).(Scope)
	if !ok || s.TenantID == "" {
		return Scope{}, ErrNoTenantInContext
	}
	return s, nil
}

// MustTenantID extracts the tenant ID and panics if not found.
// Use only where a missing tenant is a programming error.
func MustTenantID(ctx context.Context) string {
	id, err := TenantID(ctx)
	if err != nil {
		panic("tenant ID not found in context")
	}
	return id
}

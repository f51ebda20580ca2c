package shared

import "context"

type organizationContextKey struct{}
type actorContextKey struct{}

// ContextWithOrganization scopes ledger reads and writes to an organization.
func ContextWithOrganization(ctx context.Context, orgID int64) context.Context {
	return context.WithValue(ctx, organizationContextKey{}, orgID)
}

// OrganizationFromContext returns the organization filter, nil when unscoped.
func OrganizationFromContext(ctx context.Context) *int64 {
	id, ok := ctx.Value(organizationContextKey{}).(int64)
	if !ok || id == 0 {
		return nil
	}
	return &id
}

// ContextWithActor stores the acting user id for audit records.
func ContextWithActor(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actorID)
}

// ActorFromContext returns the acting user id or zero.
func ActorFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(actorContextKey{}).(int64)
	return id
}

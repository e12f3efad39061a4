package engine

import "context"

// ActorKind distinguishes interactive users from trusted system paths such
// as channel ingestion and maintenance jobs.
type ActorKind string

const (
	ActorUser   ActorKind = "user"
	ActorSystem ActorKind = "system"
)

// Actor is the identity an operation is attributed to. It is passed
// explicitly on every engine call; the engine never reaches into ambient
// state to find out who is acting. The zero Actor means "no session"
// (background work without an identity) and is valid input: writes made by
// it carry no actor stamps and no tenant unless the payload supplies one
// through the system-override path.
type Actor struct {
	UserID   string
	TenantID string
	Kind     ActorKind
}

// IsZero reports whether no identity was resolved.
func (a Actor) IsZero() bool {
	return a.UserID == "" && a.TenantID == ""
}

// IsSystem reports whether the actor is a trusted system path. Only system
// actors may carry an explicit tenant_id in write payloads past the tenant
// interceptor.
func (a Actor) IsSystem() bool {
	return a.Kind == ActorSystem
}

// UserActor returns an interactive actor bound to a tenant.
func UserActor(userID, tenantID string) Actor {
	return Actor{UserID: userID, TenantID: tenantID, Kind: ActorUser}
}

// SystemActor returns a trusted system actor. tenantID may be empty when
// the tenant is supplied per payload (ingestion fan-out).
func SystemActor(tenantID string) Actor {
	return Actor{UserID: "system", TenantID: tenantID, Kind: ActorSystem}
}

// ResolverFunc resolves the acting identity for an in-flight request.
// Callers that hold a session adapt it to an Actor here; when no session is
// active the resolver returns the zero Actor rather than an error.
type ResolverFunc func(ctx context.Context) Actor

type actorCtxKey struct{}

// WithActor attaches an actor to the context. This is a convenience for the
// HTTP layer; the engine itself always receives the actor as an explicit
// argument.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorCtxKey{}, a)
}

// ActorFromContext returns the actor attached by WithActor, or the zero
// Actor.
func ActorFromContext(ctx context.Context) Actor {
	a, _ := ctx.Value(actorCtxKey{}).(Actor)
	return a
}

package types

import "context"

// ActorType identifies the kind of authenticated entity making a request.
type ActorType string

const (
	// ActorTypeAccount is an end-user request authenticated with an account token.
	ActorTypeAccount ActorType = "account"
	// ActorTypeInternal is a privileged service-to-service caller (job workers)
	// authenticated with the internal API key.
	ActorTypeInternal ActorType = "internal"
)

// Actor represents the authenticated entity performing an operation.
type Actor struct {
	ID        string
	Type      ActorType
	AccountID string
}

// Privileged reports whether the actor may call internal endpoints.
func (a Actor) Privileged() bool {
	return a.Type == ActorTypeInternal
}

type contextKey string

const (
	actorKey     contextKey = "actor"
	requestIDKey contextKey = "request_id"
)

// WithActor stores the Actor in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActor retrieves the Actor from the context.
func GetActor(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

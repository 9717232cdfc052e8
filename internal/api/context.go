package api

import (
	"context"
)

type contextKey string

const actorContextKey contextKey = "actor"

// Actor is the authenticated caller of a request
type Actor struct {
	Subject string
}

// ActorFromContext extracts the Actor from context
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey).(Actor)
	return actor, ok
}

// ContextWithActor adds the Actor to context
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

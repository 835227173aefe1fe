// Package context carries request-scoped correlation values used by logs and traces.
package context

import "context"

type ctxKey int

const (
	requestIDKey ctxKey = iota
	actorIDKey
	actorRoleKey
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

func WithActor(ctx context.Context, actorID, role string) context.Context {
	ctx = context.WithValue(ctx, actorIDKey, actorID)
	return context.WithValue(ctx, actorRoleKey, role)
}

func ActorFromContext(ctx context.Context) (actorID string, role string) {
	actorID, _ = ctx.Value(actorIDKey).(string)
	role, _ = ctx.Value(actorRoleKey).(string)
	return actorID, role
}

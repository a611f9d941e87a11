package models

import "context"

// Actor identifies who triggered a review action. The engine does not
// authenticate actors; the external authorization layer hands us an
// opaque identifier which we record for audit purposes only.
type Actor struct {
	ID     string
	System bool
}

// SystemActor is recorded for actions the matcher takes on its own,
// such as suggesting a candidate during a batch run.
var SystemActor = Actor{ID: "system:matcher", System: true}

type actorContextKey struct{}

// WithActor stores the acting identity in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// GetActor retrieves the acting identity from the context.
func GetActor(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

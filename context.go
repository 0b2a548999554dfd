package circulate

import (
	"context"

	"github.com/xraph/circulate/id"
)

type actorKey struct{}

// WithActor returns a context carrying the member performing the current
// action. The circulation service reads it for permission checks and the
// journal records it for attribution.
func WithActor(ctx context.Context, member id.MemberID) context.Context {
	return context.WithValue(ctx, actorKey{}, member)
}

// ActorFromContext returns the acting member recorded on the context, or
// the nil ID when none was set.
func ActorFromContext(ctx context.Context) id.MemberID {
	if v, ok := ctx.Value(actorKey{}).(id.MemberID); ok {
		return v
	}
	return id.Nil
}

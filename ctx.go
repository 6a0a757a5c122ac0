package paygate

import (
	"context"

	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

var userCtxKey = &contextKey{"user"}
var actorCtxKey = &contextKey{"actor"}

type contextKey struct {
	name string
}

// ActorContext is the verified caller attached to a request after the gate
// admitted it. Tier and PaymentState come from the authoritative store
// record, not from token claims.
type ActorContext struct {
	UserID       uuid.UUID
	Tier         PricingTier
	PaymentState PaymentState
}

// IsPaid reports whether the caller holds the paid capability.
func (a *ActorContext) IsPaid() bool {
	return a != nil && a.PaymentState == PaymentStatePaid
}

// Ref adapts the actor for activity events.
func (a *ActorContext) Ref() ActorRef {
	if a == nil {
		return ActorRef{Type: "anonymous"}
	}
	return ActorRef{ID: a.UserID.String(), Type: "user"}
}

// WithContext sets the User in the given context
func WithContext(r context.Context, user *User) context.Context {
	return context.WithValue(r, userCtxKey, user)
}

// FromContext finds the user from the context.
func FromContext(ctx context.Context) (*User, bool) {
	raw, ok := ctx.Value(userCtxKey).(*User)
	return raw, ok
}

// WithActorContext sets the verified actor in the given context
func WithActorContext(r context.Context, actor *ActorContext) context.Context {
	return context.WithValue(r, actorCtxKey, actor)
}

// ActorFromContext extracts the verified actor from the standard context
func ActorFromContext(ctx context.Context) (*ActorContext, bool) {
	raw, ok := ctx.Value(actorCtxKey).(*ActorContext)
	return raw, ok
}

// RouterActor extracts the verified actor from the router context
func RouterActor(ctx router.Context, key string) (*ActorContext, bool) {
	if key == "" {
		key = ActorLocalsKey
	}
	raw := ctx.Locals(key)
	if raw == nil {
		return nil, false
	}
	actor, ok := raw.(*ActorContext)
	return actor, ok
}

package paygate

import (
	"context"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// Capability is the access level a route demands.
type Capability string

const (
	// CapabilityNone admits any request, no token needed.
	CapabilityNone Capability = "none"
	// CapabilityAuthenticated requires a valid, unexpired session token.
	CapabilityAuthenticated Capability = "authenticated"
	// CapabilityPaid additionally requires a settled payment on the current
	// store record. Claims alone never satisfy it.
	CapabilityPaid Capability = "paid"
)

// ActorLocalsKey is where Protected stores the verified actor on the
// router context.
const ActorLocalsKey = "actor"

// Gate decides whether a caller holds a required capability. Token checks
// are stateless; the paid capability is always re-checked against the
// authoritative record, so a stale token can never unlock paid routes after
// the fact, nor block an account that settled since issuance.
type Gate struct {
	tokens       TokenService
	users        Users
	logger       Logger
	errorHandler func(router.Context, error) error
}

// GateOption customizes gate construction.
type GateOption func(*Gate)

// WithGateLogger overrides the default logger.
func WithGateLogger(logger Logger) GateOption {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGateErrorHandler overrides how middleware rejections are written.
func WithGateErrorHandler(handler func(router.Context, error) error) GateOption {
	return func(g *Gate) {
		if handler != nil {
			g.errorHandler = handler
		}
	}
}

// NewGate creates a gate around the token service and credential store.
func NewGate(tokens TokenService, users Users, opts ...GateOption) *Gate {
	g := &Gate{
		tokens:       tokens,
		users:        users,
		logger:       defLogger{},
		errorHandler: RespondWithError,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	return g
}

// Authorize verifies the token and checks the capability against the
// current store record. For CapabilityNone it admits immediately with no
// actor. A valid token whose subject no longer exists fails authentication,
// not lookup.
func (g *Gate) Authorize(ctx context.Context, token string, capability Capability) (*ActorContext, error) {
	if capability == CapabilityNone || capability == "" {
		return nil, nil
	}

	claims, err := g.tokens.Validate(token)
	if err != nil {
		return nil, err
	}

	userID, err := uuid.Parse(claims.UserID())
	if err != nil {
		return nil, ErrTokenMalformed.WithMetadata(map[string]any{
			"reason": "subject is not a valid user id",
		})
	}

	user, err := g.users.GetByID(ctx, userID)
	if err != nil {
		if goerrors.Is(err, ErrUserNotFound) {
			return nil, ErrIdentityNotFound
		}
		return nil, err
	}
	user.EnsurePaymentState()

	actor := &ActorContext{
		UserID:       user.ID,
		Tier:         user.Tier,
		PaymentState: user.PaymentState,
	}

	if capability == CapabilityPaid && !actor.IsPaid() {
		return nil, ErrPaymentRequired.WithMetadata(map[string]any{
			"payment_state": user.PaymentState,
		})
	}

	return actor, nil
}

// Protected returns middleware that enforces the capability and attaches
// the verified actor to the router context and the request context.
func (g *Gate) Protected(capability Capability) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			if capability == CapabilityNone || capability == "" {
				return c.Next()
			}

			token, err := ExtractBearerToken(c)
			if err != nil {
				return g.errorHandler(c, err)
			}

			actor, err := g.Authorize(c.Context(), token, capability)
			if err != nil {
				return g.errorHandler(c, err)
			}

			c.Locals(ActorLocalsKey, actor)
			c.SetContext(WithActorContext(c.Context(), actor))

			return c.Next()
		}
	}
}

// ExtractBearerToken pulls the bearer token from the Authorization header.
func ExtractBearerToken(c router.Context) (string, error) {
	return ParseBearerHeader(c.GetString(router.HeaderAuthorization, ""))
}

// ParseBearerHeader extracts the token from a raw Authorization header value.
func ParseBearerHeader(header string) (string, error) {
	const scheme = "Bearer"
	l := len(scheme)
	if len(header) > l+1 && strings.EqualFold(header[:l], scheme) {
		return strings.TrimSpace(header[l:]), nil
	}
	return "", ErrTokenMalformed.WithMetadata(map[string]any{
		"reason": "missing or malformed authorization header",
	})
}

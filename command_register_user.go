package paygate

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/nyaruka/phonenumbers"
)

// DefaultPhoneRegion is used to parse phone numbers given without a
// country prefix.
var DefaultPhoneRegion = "KE"

type RegisterUserMessage struct {
	Name         string   `json:"name"`
	Email        string   `json:"email"`
	Phone        string   `json:"phone_number"`
	Password     string   `json:"password"`
	Tier         string   `json:"tier"`
	Age          int      `json:"age"`
	Profession   string   `json:"profession"`
	Hobbies      []string `json:"hobbies"`
	ProfilePhoto string   `json:"profile_photo"`
	UseHashid    bool
}

func (e RegisterUserMessage) Type() string { return "user.register" }

// RegisterUserHandler creates accounts. The pricing policy runs exactly once
// here: the amount it yields is frozen on the record and later tier or
// policy changes never alter it.
type RegisterUserHandler struct {
	store   Users
	pricing PricingPolicy
	logger  Logger
	sink    ActivitySink
}

var _ AccountRegistrerer = (*RegisterUserHandler)(nil)

// RegisterHandlerOption customizes handler construction.
type RegisterHandlerOption func(*RegisterUserHandler)

// WithRegisterPricingPolicy overrides the tier to amount mapping.
func WithRegisterPricingPolicy(policy PricingPolicy) RegisterHandlerOption {
	return func(h *RegisterUserHandler) {
		if policy != nil {
			h.pricing = policy
		}
	}
}

// WithRegisterLogger overrides the default logger.
func WithRegisterLogger(logger Logger) RegisterHandlerOption {
	return func(h *RegisterUserHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithRegisterActivitySink sets the sink for registration events.
func WithRegisterActivitySink(sink ActivitySink) RegisterHandlerOption {
	return func(h *RegisterUserHandler) {
		h.sink = normalizeActivitySink(sink)
	}
}

// NewRegisterUserHandler builds the handler with the default pricing policy.
func NewRegisterUserHandler(store Users, opts ...RegisterHandlerOption) *RegisterUserHandler {
	h := &RegisterUserHandler{
		store:   store,
		pricing: DefaultPricingPolicy(),
		logger:  defLogger{},
		sink:    noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	return h
}

// RegisterUser creates the account and returns the stored record.
func (h *RegisterUserHandler) RegisterUser(ctx context.Context, event RegisterUserMessage) (*User, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	tier, ok := ParseTier(event.Tier)
	if !ok {
		return nil, goerrors.New("unknown pricing tier", goerrors.CategoryValidation).
			WithTextCode("INVALID_TIER").
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(map[string]any{"tier": event.Tier})
	}

	amount, err := h.pricing(tier)
	if err != nil {
		return nil, err
	}

	hash, err := HashPassword(event.Password)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	user := &User{
		Name:          strings.TrimSpace(event.Name),
		Email:         NormalizeEmail(event.Email),
		PasswordHash:  hash,
		Tier:          tier,
		PaymentAmount: amount,
		PaymentState:  PaymentStateUnpaid,
		Phone:         NormalizePhone(event.Phone, DefaultPhoneRegion),
		Age:           event.Age,
		Profession:    strings.TrimSpace(event.Profession),
		Hobbies:       event.Hobbies,
		ProfilePhoto:  event.ProfilePhoto,
	}

	if event.UseHashid {
		if id, err := hashid.NewUUID(user.Email); err == nil {
			user.ID = id
		}
	}

	created, err := h.store.Create(ctx, user)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user")
	}

	h.recordRegistration(ctx, created)

	return created, nil
}

func (h *RegisterUserHandler) recordRegistration(ctx context.Context, user *User) {
	event := ActivityEvent{
		EventType:  ActivityEventUserRegistered,
		Actor:      ActorRef{ID: user.ID.String(), Type: "user"},
		UserID:     user.ID.String(),
		ToState:    user.PaymentState,
		OccurredAt: time.Now(),
		Metadata: map[string]any{
			"tier":   string(user.Tier),
			"amount": user.PaymentAmount.String(),
		},
	}

	if err := normalizeActivitySink(h.sink).Record(ctx, event); err != nil {
		h.logger.Warn("registration activity sink error: %v", err)
	}
}

// NormalizePhone renders the number in E.164 when it parses; otherwise the
// trimmed input is kept as-is so registration never fails on a phone number.
func NormalizePhone(raw, region string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	num, err := phonenumbers.Parse(trimmed, region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return trimmed
	}

	return phonenumbers.Format(num, phonenumbers.E164)
}

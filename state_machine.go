package paygate

import (
	"context"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// ActorRef identifies who/what triggered a transition.
type ActorRef struct {
	ID   string
	Type string
}

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor ActorRef
	User  *User
	From  PaymentState
	To    PaymentState
	Meta  TransitionMetadata
}

// TransitionHook is executed before or after a transition.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionHookPhase identifies whether a hook ran before or after persistence.
type TransitionHookPhase string

const (
	HookPhaseBefore TransitionHookPhase = "before_transition"
	HookPhaseAfter  TransitionHookPhase = "after_transition"
)

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

// PaymentReceipt is the outcome of a completion attempt. AlreadyCompleted
// marks the idempotent path: the account was settled before this call, and
// Record is the original ledger entry.
type PaymentReceipt struct {
	User             *User
	Record           *PaymentRecord
	AlreadyCompleted bool
}

// PaymentStateMachine owns the one-time activation payment lifecycle. Every
// operation runs inside the per-user executor section, so concurrent
// initiations and completions for the same account serialize and the ledger
// gains at most one completed entry per user.
type PaymentStateMachine interface {
	Initiate(ctx context.Context, actor ActorRef, userID uuid.UUID, opts ...TransitionOption) (*User, error)
	Complete(ctx context.Context, actor ActorRef, userID uuid.UUID, opts ...TransitionOption) (*PaymentReceipt, error)
	CurrentState(user *User) PaymentState
}

// HookErrorHandler handles errors surfaced by transition hooks.
type HookErrorHandler func(ctx context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*paymentStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *paymentStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *paymentStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineHookErrorHandler overrides how hook failures are propagated.
// Provide a handler to convert hook errors into domain-specific responses,
// otherwise the default handler panics with guidance for developers.
func WithStateMachineHookErrorHandler(handler HookErrorHandler) StateMachineOption {
	return func(sm *paymentStateMachine) {
		if handler != nil {
			sm.hookErrorHandler = handler
		}
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *paymentStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithTransactionIDFunc overrides how completion transaction ids are minted.
func WithTransactionIDFunc(fn func() string) StateMachineOption {
	return func(sm *paymentStateMachine) {
		if fn != nil {
			sm.transactionID = fn
		}
	}
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithTransactionID uses a caller-supplied transaction id for the ledger
// entry instead of a minted one, e.g. when an external gateway already
// assigned one.
func WithTransactionID(id string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.transactionID = id
	}
}

// WithForceTransition bypasses validation rules (use sparingly).
func WithForceTransition() TransitionOption {
	return func(opts *transitionOptions) {
		opts.force = true
	}
}

// WithBeforeTransitionHook adds a hook executed before the state update.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the state update succeeds.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// NewPaymentStateMachine returns the default implementation backed by the
// provided repositories.
func NewPaymentStateMachine(repos RepositoryManager, opts ...StateMachineOption) PaymentStateMachine {
	sm := &paymentStateMachine{
		repos: repos,
		transitions: map[PaymentState]map[PaymentState]struct{}{
			PaymentStateUnpaid: {
				PaymentStateProcessing: {},
				PaymentStatePaid:       {},
			},
			PaymentStateProcessing: {
				PaymentStatePaid: {},
			},
		},
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
		transactionID: func() string {
			return "TXN-" + uuid.NewString()
		},
		hookErrorHandler: func(ctx context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error {
			return defaultHookErrorHandler(ctx, phase, err, tc)
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type paymentStateMachine struct {
	repos            RepositoryManager
	transitions      map[PaymentState]map[PaymentState]struct{}
	now              func() time.Time
	activitySink     ActivitySink
	logger           Logger
	transactionID    func() string
	hookErrorHandler HookErrorHandler
}

type transitionOptions struct {
	metadata      TransitionMetadata
	force         bool
	transactionID string
	beforeHooks   []TransitionHook
	afterHooks    []TransitionHook
}

func (o *transitionOptions) cloneMetadata() TransitionMetadata {
	var cloned map[string]any
	if len(o.metadata.Metadata) > 0 {
		cloned = make(map[string]any, len(o.metadata.Metadata))
		for k, v := range o.metadata.Metadata {
			cloned[k] = v
		}
	}

	return TransitionMetadata{
		Reason:   o.metadata.Reason,
		Metadata: cloned,
	}
}

// Initiate moves the account into the processing state. Calling it again
// while a payment is in flight is a no-op; calling it on a settled account
// fails with ErrAlreadyPaid.
func (sm *paymentStateMachine) Initiate(ctx context.Context, actor ActorRef, userID uuid.UUID, opts ...TransitionOption) (*User, error) {
	options := sm.buildTransitionOptions(opts...)

	var result *User
	err := sm.repos.Executor().Do(ctx, userID.String(), func(ctx context.Context) error {
		user, err := sm.repos.Users().GetByID(ctx, userID)
		if err != nil {
			return err
		}
		user.EnsurePaymentState()

		switch user.PaymentState {
		case PaymentStatePaid:
			return ErrAlreadyPaid.WithMetadata(map[string]any{
				"user_id": userID.String(),
			})
		case PaymentStateProcessing:
			result = user
			return nil
		}

		return sm.transition(ctx, actor, user, PaymentStateProcessing, options, func(ctx context.Context, user *User) error {
			saved, err := sm.repos.Users().Save(ctx, user)
			if err != nil {
				return err
			}
			result = saved
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Complete settles the account. The transition, ledger insert, and state
// write happen inside one executor section, and the ledger entry and user
// record are persisted as one atomic write, so out of any number of
// concurrent completions exactly one settles, the rest observe the
// already-completed receipt, and a failed settlement leaves neither side
// behind. The settled amount is the one fixed at registration; it is copied
// to the ledger, never recomputed.
func (sm *paymentStateMachine) Complete(ctx context.Context, actor ActorRef, userID uuid.UUID, opts ...TransitionOption) (*PaymentReceipt, error) {
	options := sm.buildTransitionOptions(opts...)

	var receipt *PaymentReceipt
	err := sm.repos.Executor().Do(ctx, userID.String(), func(ctx context.Context) error {
		user, err := sm.repos.Users().GetByID(ctx, userID)
		if err != nil {
			return err
		}
		user.EnsurePaymentState()

		if user.IsPaid() {
			record, err := sm.repos.Payments().CompletedByUser(ctx, userID)
			if err != nil && !goerrors.Is(err, ErrUserNotFound) {
				return err
			}
			receipt = &PaymentReceipt{
				User:             user,
				Record:           record,
				AlreadyCompleted: true,
			}
			return nil
		}

		transactionID := options.transactionID
		if transactionID == "" {
			transactionID = sm.transactionID()
		}

		return sm.transition(ctx, actor, user, PaymentStatePaid, options, func(ctx context.Context, user *User) error {
			now := sm.now()
			saved, record, err := sm.repos.Settle(ctx, user, &PaymentRecord{
				UserID:        userID,
				Amount:        user.PaymentAmount,
				TransactionID: transactionID,
				Status:        PaymentStatusCompleted,
				CreatedAt:     &now,
			})
			if err != nil {
				return err
			}

			receipt = &PaymentReceipt{
				User:   saved,
				Record: record,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return receipt, nil
}

// CurrentState reports the account's payment state.
func (sm *paymentStateMachine) CurrentState(user *User) PaymentState {
	if user == nil {
		return ""
	}
	user.EnsurePaymentState()
	return user.PaymentState
}

// transition validates the state change, runs hooks around the persist
// callback, and publishes the activity event. Callers already hold the
// executor section for the user.
func (sm *paymentStateMachine) transition(ctx context.Context, actor ActorRef, user *User, target PaymentState, options *transitionOptions, persist func(ctx context.Context, user *User) error) error {
	from := user.PaymentState

	if !options.force && !sm.canTransition(from, target) {
		return ErrInvalidTransition.WithMetadata(map[string]any{
			"from": from,
			"to":   target,
		})
	}

	ctxData := TransitionContext{
		Actor: actor,
		User:  user,
		From:  from,
		To:    target,
		Meta:  options.cloneMetadata(),
	}

	if err := sm.runHooks(ctx, options.beforeHooks, ctxData, HookPhaseBefore); err != nil {
		return err
	}

	user.PaymentState = target
	if err := persist(ctx, user); err != nil {
		user.PaymentState = from
		return err
	}

	if err := sm.runHooks(ctx, options.afterHooks, ctxData, HookPhaseAfter); err != nil {
		return err
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventPaymentStateChanged,
		Actor:     actor,
		UserID:    user.ID.String(),
		FromState: from,
		ToState:   target,
		Metadata:  sm.transitionMetadata(ctxData.Meta),
	})

	return nil
}

func (sm *paymentStateMachine) runHooks(ctx context.Context, hooks []TransitionHook, data TransitionContext, phase TransitionHookPhase) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, data); err != nil {
			if sm.hookErrorHandler == nil {
				return err
			}
			return sm.hookErrorHandler(ctx, phase, err, data)
		}
	}
	return nil
}

func (sm *paymentStateMachine) canTransition(from, to PaymentState) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *paymentStateMachine) buildTransitionOptions(opts ...TransitionOption) *transitionOptions {
	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}

func defaultHookErrorHandler(_ context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error {
	panic(fmt.Sprintf(
		"paygate: %s transition hook failed: %v\nUserID: %s from=%s to=%s reason=%s\nProvide paygate.WithStateMachineHookErrorHandler to customize error handling in production.",
		phase,
		err,
		tc.User.ID,
		tc.From,
		tc.To,
		tc.Meta.Reason,
	))
}

func (sm *paymentStateMachine) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = sm.now()
	}

	sink := normalizeActivitySink(sm.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		sm.logger.Warn("state machine activity sink error: %v", err)
	}
}

func (sm *paymentStateMachine) transitionMetadata(meta TransitionMetadata) map[string]any {
	if meta.Reason == "" && len(meta.Metadata) == 0 {
		return nil
	}

	result := map[string]any{}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}

package paygate

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// DefaultCompletionDelay is how long a simulated payment stays in the
// processing state before it settles.
const DefaultCompletionDelay = 2 * time.Second

// ScheduledCompletion is a handle to a deferred settlement. Done is closed
// once the completion attempt finished or the job was cancelled.
type ScheduledCompletion struct {
	userID uuid.UUID
	timer  *time.Timer

	mu        sync.Mutex
	done      chan struct{}
	finished  bool
	cancelled bool
	err       error
}

// Cancel stops the pending settlement. It reports false when the job
// already fired or was cancelled before.
func (s *ScheduledCompletion) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished || s.cancelled {
		return false
	}
	if !s.timer.Stop() {
		// Timer fired concurrently; the run callback owns completion.
		return false
	}

	s.cancelled = true
	close(s.done)
	return true
}

// Done is closed when the job fired or was cancelled.
func (s *ScheduledCompletion) Done() <-chan struct{} {
	return s.done
}

// Err returns the completion error, if any. Only meaningful after Done.
func (s *ScheduledCompletion) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancelled reports whether the job was stopped before firing.
func (s *ScheduledCompletion) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// CompletionScheduler defers payment settlement, simulating an external
// gateway callback. Each user holds at most one pending job; scheduling
// again replaces the previous one. A job that fires after the account was
// settled through another path lands on the idempotent completion and is a
// no-op.
type CompletionScheduler struct {
	machine PaymentStateMachine
	delay   time.Duration
	logger  Logger
	sink    ActivitySink
	pending *xsync.MapOf[string, *ScheduledCompletion]
}

// SchedulerOption customizes scheduler construction.
type SchedulerOption func(*CompletionScheduler)

// WithSchedulerDelay overrides the settlement delay.
func WithSchedulerDelay(d time.Duration) SchedulerOption {
	return func(s *CompletionScheduler) {
		if d > 0 {
			s.delay = d
		}
	}
}

// WithSchedulerLogger overrides the default logger.
func WithSchedulerLogger(logger Logger) SchedulerOption {
	return func(s *CompletionScheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSchedulerActivitySink sets the sink used for schedule and cancel events.
func WithSchedulerActivitySink(sink ActivitySink) SchedulerOption {
	return func(s *CompletionScheduler) {
		s.sink = normalizeActivitySink(sink)
	}
}

// NewCompletionScheduler creates a scheduler around the payment state machine.
func NewCompletionScheduler(machine PaymentStateMachine, opts ...SchedulerOption) *CompletionScheduler {
	s := &CompletionScheduler{
		machine: machine,
		delay:   DefaultCompletionDelay,
		logger:  defLogger{},
		sink:    noopActivitySink{},
		pending: xsync.NewMapOf[string, *ScheduledCompletion](),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

// Schedule queues a deferred settlement for the user. Any previously pending
// job for the same user is cancelled first. The settlement runs detached
// from the caller's request lifetime.
func (s *CompletionScheduler) Schedule(ctx context.Context, actor ActorRef, userID uuid.UUID, opts ...TransitionOption) *ScheduledCompletion {
	s.CancelPending(userID)

	job := &ScheduledCompletion{
		userID: userID,
		done:   make(chan struct{}),
	}

	runCtx := context.WithoutCancel(ctx)
	job.timer = time.AfterFunc(s.delay, func() {
		s.run(runCtx, actor, job, opts...)
	})

	s.pending.Store(userID.String(), job)

	s.record(ctx, ActivityEvent{
		EventType: ActivityEventPaymentScheduled,
		Actor:     actor,
		UserID:    userID.String(),
		Metadata:  map[string]any{"delay": s.delay.String()},
	})

	return job
}

// CancelPending stops the user's pending settlement, if any.
func (s *CompletionScheduler) CancelPending(userID uuid.UUID) bool {
	job, ok := s.pending.LoadAndDelete(userID.String())
	if !ok {
		return false
	}

	if !job.Cancel() {
		return false
	}

	s.record(context.Background(), ActivityEvent{
		EventType: ActivityEventPaymentCancelled,
		Actor:     ActorRef{Type: "system"},
		UserID:    userID.String(),
	})
	return true
}

// Shutdown cancels every pending settlement.
func (s *CompletionScheduler) Shutdown() {
	s.pending.Range(func(key string, job *ScheduledCompletion) bool {
		s.pending.Delete(key)
		job.Cancel()
		return true
	})
}

func (s *CompletionScheduler) run(ctx context.Context, actor ActorRef, job *ScheduledCompletion, opts ...TransitionOption) {
	s.pending.Compute(job.userID.String(), func(current *ScheduledCompletion, loaded bool) (*ScheduledCompletion, bool) {
		// Only clear our own registration; a replacement job stays. The
		// delete flag must also cover the absent-key case: returning false
		// there would store the nil zero value into the map.
		return current, !loaded || current == job
	})

	_, err := s.machine.Complete(ctx, actor, job.userID, opts...)
	if err != nil && !goerrors.Is(err, ErrUserNotFound) {
		s.logger.Error("scheduled payment completion failed for user %s: %v", job.userID.String(), err)
	}

	job.mu.Lock()
	if !job.cancelled {
		job.err = err
		job.finished = true
		close(job.done)
	}
	job.mu.Unlock()
}

func (s *CompletionScheduler) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	if err := normalizeActivitySink(s.sink).Record(ctx, event); err != nil {
		s.logger.Warn("completion scheduler activity sink error: %v", err)
	}
}

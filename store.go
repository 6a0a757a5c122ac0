package paygate

import (
	"context"

	"github.com/google/uuid"
)

// UserMutation is applied to the latest snapshot of a record while the
// record's update lock is held. Returning an error aborts the write.
type UserMutation func(user *User) error

// Users is the credential store. Implementations own email uniqueness:
// Create is an atomic check-and-insert, so two concurrent registrations for
// the same address can never both succeed. Reads return snapshots that never
// alias store-internal state.
type Users interface {
	Create(ctx context.Context, record *User) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context) ([]*User, error)

	// ApplyUpdate runs a serialized read-latest, mutate, durable-write
	// sequence against the record and returns the post-write snapshot.
	// Fails with ErrUserNotFound for missing records.
	ApplyUpdate(ctx context.Context, id uuid.UUID, mutation UserMutation) (*User, error)

	// Save persists the full record without acquiring the update lock.
	// Only call while already inside an executor section for the record's
	// key; every other caller wants ApplyUpdate.
	Save(ctx context.Context, record *User) (*User, error)
}

// PaymentRecords is the append-only payment ledger.
type PaymentRecords interface {
	Create(ctx context.Context, record *PaymentRecord) (*PaymentRecord, error)
	// CompletedByUser returns the settled entry for the user, or
	// ErrUserNotFound when none exists.
	CompletedByUser(ctx context.Context, userID uuid.UUID) (*PaymentRecord, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*PaymentRecord, error)
}

// RepositoryManager exposes all repositories plus the shared update
// executor that serializes mutations per user.
type RepositoryManager interface {
	Users() Users
	Payments() PaymentRecords
	Executor() *UpdateExecutor

	// Settle persists the completed ledger entry and the updated user
	// record as one atomic write: neither side is ever visible without
	// the other. Returns the post-write snapshots.
	Settle(ctx context.Context, user *User, record *PaymentRecord) (*User, *PaymentRecord, error)
}

package paygate

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/uptrace/bun"
)

type mngr struct {
	db       *bun.DB
	users    *bunUsers
	payments *bunPayments
	executor *UpdateExecutor
}

// NewRepositoryManager wires the SQL-backed repositories around a shared
// update executor so every mutation path serializes through the same
// per-user locks.
func NewRepositoryManager(db *bun.DB) RepositoryManager {
	executor := NewUpdateExecutor()
	return &mngr{
		db:       db,
		users:    newBunUsers(db, executor),
		payments: newBunPayments(db),
		executor: executor,
	}
}

func (m mngr) Validate() error {
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.payments == nil {
		return errors.New("repository payments should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) Payments() PaymentRecords {
	return m.payments
}

func (m mngr) Executor() *UpdateExecutor {
	return m.executor
}

// Settle inserts the ledger entry and writes the user record inside one
// database transaction: the entry commits with the state change or not at
// all.
func (m mngr) Settle(ctx context.Context, user *User, record *PaymentRecord) (*User, *PaymentRecord, error) {
	var savedUser *User
	var savedRecord *PaymentRecord

	err := m.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		if savedRecord, err = m.payments.createTx(ctx, tx, record); err != nil {
			return err
		}
		savedUser, err = m.users.saveTx(ctx, tx, user)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return savedUser, savedRecord, nil
}

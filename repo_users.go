package paygate

import (
	"context"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type bunUsers struct {
	repo     repository.Repository[*User]
	db       *bun.DB
	executor *UpdateExecutor
}

var _ Users = (*bunUsers)(nil)

// NewBunUsersRepository builds the SQL-backed credential store. The executor
// serializes ApplyUpdate sequences per user id; the database enforces email
// uniqueness through its constraint.
func NewBunUsersRepository(db *bun.DB, executor *UpdateExecutor) Users {
	return newBunUsers(db, executor)
}

func newBunUsers(db *bun.DB, executor *UpdateExecutor) *bunUsers {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	if executor == nil {
		executor = NewUpdateExecutor()
	}

	return &bunUsers{
		repo:     repo,
		db:       db,
		executor: executor,
	}
}

func (a *bunUsers) Create(ctx context.Context, record *User) (*User, error) {
	if record == nil {
		return nil, goerrors.New("user record is required", goerrors.CategoryBadInput)
	}

	record.Email = NormalizeEmail(record.Email)
	record.EnsurePaymentState()
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	created, err := a.repo.CreateTx(ctx, a.db, record)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to create user")
	}

	return created, nil
}

func (a *bunUsers) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	record := &User{}
	err := a.db.NewSelect().Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to load user")
	}
	return record, nil
}

func (a *bunUsers) GetByEmail(ctx context.Context, email string) (*User, error) {
	record := &User{}
	err := a.db.NewSelect().Model(record).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to load user")
	}
	return record, nil
}

func (a *bunUsers) List(ctx context.Context) ([]*User, error) {
	var records []*User
	err := a.db.NewSelect().Model(&records).
		Order("email ASC").
		Scan(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to list users")
	}
	return records, nil
}

func (a *bunUsers) ApplyUpdate(ctx context.Context, id uuid.UUID, mutation UserMutation) (*User, error) {
	if mutation == nil {
		return nil, goerrors.New("mutation is required", goerrors.CategoryBadInput)
	}

	var updated *User
	err := a.executor.Do(ctx, id.String(), func(ctx context.Context) error {
		record, err := a.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := mutation(record); err != nil {
			return err
		}
		updated, err = a.Save(ctx, record)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (a *bunUsers) Save(ctx context.Context, record *User) (*User, error) {
	return a.saveTx(ctx, a.db, record)
}

// saveTx is Save against an arbitrary executor so settlement can run the
// write inside a surrounding transaction.
func (a *bunUsers) saveTx(ctx context.Context, idb bun.IDB, record *User) (*User, error) {
	if record == nil {
		return nil, goerrors.New("user record is required", goerrors.CategoryBadInput)
	}

	record.Email = NormalizeEmail(record.Email)
	record.EnsurePaymentState()

	updated, err := a.repo.UpdateTx(ctx, idb, record, repository.UpdateByID(record.ID.String()))
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrUserNotFound
		}
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to save user")
	}
	return updated, nil
}

// isUniqueViolation matches constraint errors across the drivers we run
// against. sqlite and postgres phrase these differently and neither exposes
// a portable sentinel.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

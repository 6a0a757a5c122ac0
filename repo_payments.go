package paygate

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type bunPayments struct {
	repo repository.Repository[*PaymentRecord]
	db   *bun.DB
}

var _ PaymentRecords = (*bunPayments)(nil)

// NewBunPaymentsRepository builds the SQL-backed payment ledger. Entries are
// insert-only; the transaction id constraint rejects replays at the database.
func NewBunPaymentsRepository(db *bun.DB) PaymentRecords {
	return newBunPayments(db)
}

func newBunPayments(db *bun.DB) *bunPayments {
	repo := repository.NewRepository[*PaymentRecord](db, repository.ModelHandlers[*PaymentRecord]{
		NewRecord: func() *PaymentRecord { return &PaymentRecord{} },
		GetID: func(r *PaymentRecord) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *PaymentRecord, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
		GetIdentifier: func() string {
			return "transaction_id"
		},
	})

	return &bunPayments{
		repo: repo,
		db:   db,
	}
}

func (a *bunPayments) Create(ctx context.Context, record *PaymentRecord) (*PaymentRecord, error) {
	return a.createTx(ctx, a.db, record)
}

// createTx is Create against an arbitrary executor so settlement can run
// the insert inside a surrounding transaction.
func (a *bunPayments) createTx(ctx context.Context, idb bun.IDB, record *PaymentRecord) (*PaymentRecord, error) {
	if record == nil {
		return nil, goerrors.New("payment record is required", goerrors.CategoryBadInput)
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	created, err := a.repo.CreateTx(ctx, idb, record)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, goerrors.New("transaction already recorded", goerrors.CategoryConflict).
				WithMetadata(map[string]any{"transaction_id": record.TransactionID})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to create payment record")
	}

	return created, nil
}

func (a *bunPayments) CompletedByUser(ctx context.Context, userID uuid.UUID) (*PaymentRecord, error) {
	record := &PaymentRecord{}
	err := a.db.NewSelect().Model(record).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.status = ?", PaymentStatusCompleted).
		Order("created_at ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to load payment record")
	}
	return record, nil
}

func (a *bunPayments) ListByUser(ctx context.Context, userID uuid.UUID) ([]*PaymentRecord, error) {
	var records []*PaymentRecord
	err := a.db.NewSelect().Model(&records).
		Where("?TableAlias.user_id = ?", userID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to list payment records")
	}
	return records, nil
}

package paygate_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	paygate "github.com/goliatone/go-paygate"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentStoreCreateAndLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := seedUser(t, store.Users(), "alice@example.com", "premium", "password123")
	require.NotEqual(t, uuid.Nil, user.ID)
	assert.Equal(t, paygate.PaymentStateUnpaid, user.PaymentState)
	assert.True(t, user.PaymentAmount.Equal(decimal.NewFromInt(100)))

	byID, err := store.Users().GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Email, byID.Email)

	byEmail, err := store.Users().GetByEmail(ctx, "  ALICE@Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)
}

func TestDocumentStoreDuplicateEmail(t *testing.T) {
	store := newTestStore(t)

	seedUser(t, store.Users(), "alice@example.com", "premium", "password123")

	handler := paygate.NewRegisterUserHandler(store.Users())
	_, err := handler.RegisterUser(context.Background(), paygate.RegisterUserMessage{
		Name:     "Impostor",
		Email:    "ALICE@example.com",
		Password: "password456",
		Tier:     "standard",
	})
	assert.ErrorIs(t, err, paygate.ErrDuplicateEmail)
}

func TestDocumentStoreSnapshotIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := seedUser(t, store.Users(), "alice@example.com", "premium", "password123")

	snapshot, err := store.Users().GetByID(ctx, user.ID)
	require.NoError(t, err)
	snapshot.Name = "Mutated Locally"
	snapshot.PaymentState = paygate.PaymentStatePaid

	fresh, err := store.Users().GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Test User", fresh.Name)
	assert.Equal(t, paygate.PaymentStateUnpaid, fresh.PaymentState)
}

func TestDocumentStoreApplyUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := seedUser(t, store.Users(), "alice@example.com", "premium", "password123")

	updated, err := store.Users().ApplyUpdate(ctx, user.ID, func(u *paygate.User) error {
		u.Profession = "engineer"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "engineer", updated.Profession)

	fresh, err := store.Users().GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "engineer", fresh.Profession)
}

func TestDocumentStoreApplyUpdateMissingUser(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Users().ApplyUpdate(context.Background(), uuid.New(), func(u *paygate.User) error {
		return nil
	})
	assert.ErrorIs(t, err, paygate.ErrUserNotFound)
}

func TestDocumentStoreApplyUpdateAborts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := seedUser(t, store.Users(), "alice@example.com", "premium", "password123")

	_, err := store.Users().ApplyUpdate(ctx, user.ID, func(u *paygate.User) error {
		u.Name = "Should Not Persist"
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	fresh, err := store.Users().GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Test User", fresh.Name)
}

func TestDocumentStorePayments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := seedUser(t, store.Users(), "alice@example.com", "premium", "password123")

	_, err := store.Payments().CompletedByUser(ctx, user.ID)
	assert.ErrorIs(t, err, paygate.ErrUserNotFound)

	record, err := store.Payments().Create(ctx, &paygate.PaymentRecord{
		UserID:        user.ID,
		Amount:        user.PaymentAmount,
		TransactionID: "TXN-1",
		Status:        paygate.PaymentStatusCompleted,
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, record.ID)

	_, err = store.Payments().Create(ctx, &paygate.PaymentRecord{
		UserID:        user.ID,
		Amount:        user.PaymentAmount,
		TransactionID: "TXN-1",
		Status:        paygate.PaymentStatusCompleted,
	})
	assert.Error(t, err, "replayed transaction id must be rejected")

	completed, err := store.Payments().CompletedByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "TXN-1", completed.TransactionID)

	list, err := store.Payments().ListByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDocumentStoreSettle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := seedUser(t, store.Users(), "alice@example.com", "premium", "password123")
	user.PaymentState = paygate.PaymentStatePaid

	savedUser, savedRecord, err := store.Settle(ctx, user, &paygate.PaymentRecord{
		UserID:        user.ID,
		Amount:        user.PaymentAmount,
		TransactionID: "TXN-settle",
		Status:        paygate.PaymentStatusCompleted,
	})
	require.NoError(t, err)
	assert.Equal(t, paygate.PaymentStatePaid, savedUser.PaymentState)
	require.NotEqual(t, uuid.Nil, savedRecord.ID)
	require.NotNil(t, savedRecord.CreatedAt)

	fresh, err := store.Users().GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, fresh.IsPaid())

	completed, err := store.Payments().CompletedByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "TXN-settle", completed.TransactionID)
}

func TestDocumentStoreSettleDuplicateTransaction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := seedUser(t, store.Users(), "alice@example.com", "premium", "password123")

	_, err := store.Payments().Create(ctx, &paygate.PaymentRecord{
		UserID:        user.ID,
		Amount:        user.PaymentAmount,
		TransactionID: "TXN-dup",
		Status:        paygate.PaymentStatusCompleted,
	})
	require.NoError(t, err)

	user.PaymentState = paygate.PaymentStatePaid
	_, _, err = store.Settle(ctx, user, &paygate.PaymentRecord{
		UserID:        user.ID,
		Amount:        user.PaymentAmount,
		TransactionID: "TXN-dup",
		Status:        paygate.PaymentStatusCompleted,
	})
	require.Error(t, err)

	// The rejected settlement must not touch the user record.
	fresh, err := store.Users().GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, paygate.PaymentStateUnpaid, fresh.PaymentState)
}

func TestDocumentStoreSettleMissingUser(t *testing.T) {
	store := newTestStore(t)

	_, _, err := store.Settle(context.Background(), &paygate.User{ID: uuid.New()}, &paygate.PaymentRecord{
		TransactionID: "TXN-ghost",
		Status:        paygate.PaymentStatusCompleted,
	})
	assert.ErrorIs(t, err, paygate.ErrUserNotFound)
}

func TestDocumentStoreSettleRollsBackOnPersistFailure(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snap")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	ctx := context.Background()

	store, err := paygate.NewDocumentStore(paygate.WithStorePath(filepath.Join(dir, "store.json")))
	require.NoError(t, err)

	user := seedUser(t, store.Users(), "alice@example.com", "premium", "password123")

	// Snapshot writes land in the store directory; removing it fails them.
	require.NoError(t, os.RemoveAll(dir))

	user.PaymentState = paygate.PaymentStatePaid
	_, _, err = store.Settle(ctx, user, &paygate.PaymentRecord{
		UserID:        user.ID,
		Amount:        user.PaymentAmount,
		TransactionID: "TXN-rollback",
		Status:        paygate.PaymentStatusCompleted,
	})
	require.Error(t, err)

	fresh, err := store.Users().GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, paygate.PaymentStateUnpaid, fresh.PaymentState)

	records, err := store.Payments().ListByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, records)

	// The transaction id was released, so a retry can reuse it.
	require.NoError(t, os.MkdirAll(dir, 0o755))
	_, saved, err := store.Settle(ctx, user, &paygate.PaymentRecord{
		UserID:        user.ID,
		Amount:        user.PaymentAmount,
		TransactionID: "TXN-rollback",
		Status:        paygate.PaymentStatusCompleted,
	})
	require.NoError(t, err)
	assert.Equal(t, "TXN-rollback", saved.TransactionID)
}

func TestDocumentStorePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	ctx := context.Background()

	store, err := paygate.NewDocumentStore(paygate.WithStorePath(path))
	require.NoError(t, err)

	user := seedUser(t, store.Users(), "alice@example.com", "standard", "password123")
	_, err = store.Payments().Create(ctx, &paygate.PaymentRecord{
		UserID:        user.ID,
		Amount:        user.PaymentAmount,
		TransactionID: "TXN-persist",
		Status:        paygate.PaymentStatusCompleted,
	})
	require.NoError(t, err)

	reopened, err := paygate.NewDocumentStore(paygate.WithStorePath(path))
	require.NoError(t, err)

	restored, err := reopened.Users().GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, restored.ID)
	assert.True(t, restored.PaymentAmount.Equal(decimal.NewFromInt(50)))

	// Credentials must survive the round trip.
	assert.NoError(t, paygate.ComparePasswordAndHash("password123", restored.PasswordHash))

	payments, err := reopened.Payments().ListByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

func TestDocumentStoreList(t *testing.T) {
	store := newTestStore(t)

	seedUser(t, store.Users(), "bob@example.com", "standard", "password123")
	seedUser(t, store.Users(), "alice@example.com", "premium", "password123")

	users, err := store.Users().List(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice@example.com", users[0].Email)
	assert.Equal(t, "bob@example.com", users[1].Email)
}

func TestUserSanitizeHidesCredentials(t *testing.T) {
	store := newTestStore(t)

	user := seedUser(t, store.Users(), "alice@example.com", "premium", "password123")
	view := user.Sanitize()

	_, exposed := view["password_hash"]
	assert.False(t, exposed)
	assert.Equal(t, false, view["is_paid"])
	assert.Equal(t, "100", view["payment_amount"])
}

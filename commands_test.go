package paygate_test

import (
	"context"
	"testing"

	paygate "github.com/goliatone/go-paygate"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterUserFreezesTierAmount(t *testing.T) {
	store := newTestStore(t)
	handler := paygate.NewRegisterUserHandler(store.Users())
	ctx := context.Background()

	premium, err := handler.RegisterUser(ctx, paygate.RegisterUserMessage{
		Name:     "Alice",
		Email:    "alice@example.com",
		Password: "password123",
		Tier:     "premium",
	})
	require.NoError(t, err)
	assert.True(t, premium.PaymentAmount.Equal(decimal.NewFromInt(100)))

	standard, err := handler.RegisterUser(ctx, paygate.RegisterUserMessage{
		Name:     "Bob",
		Email:    "bob@example.com",
		Password: "password123",
		Tier:     "standard",
	})
	require.NoError(t, err)
	assert.True(t, standard.PaymentAmount.Equal(decimal.NewFromInt(50)))
}

func TestRegisterUserHashesPassword(t *testing.T) {
	store := newTestStore(t)
	handler := paygate.NewRegisterUserHandler(store.Users())

	user, err := handler.RegisterUser(context.Background(), paygate.RegisterUserMessage{
		Name:     "Alice",
		Email:    "alice@example.com",
		Password: "password123",
		Tier:     "premium",
	})
	require.NoError(t, err)

	assert.NotEqual(t, "password123", user.PasswordHash)
	assert.True(t, paygate.IsHashed(user.PasswordHash))
	assert.NoError(t, paygate.ComparePasswordAndHash("password123", user.PasswordHash))
}

func TestRegisterUserNormalizesInput(t *testing.T) {
	store := newTestStore(t)
	handler := paygate.NewRegisterUserHandler(store.Users())

	user, err := handler.RegisterUser(context.Background(), paygate.RegisterUserMessage{
		Name:     "  Alice  ",
		Email:    "  ALICE@Example.COM ",
		Phone:    "0712345678",
		Password: "password123",
		Tier:     "Premium",
	})
	require.NoError(t, err)

	assert.Equal(t, "Alice", user.Name)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, "+254712345678", user.Phone)
	assert.Equal(t, paygate.TierPremium, user.Tier)
	assert.Equal(t, paygate.PaymentStateUnpaid, user.PaymentState)
}

func TestRegisterUserRejectsUnknownTier(t *testing.T) {
	store := newTestStore(t)
	handler := paygate.NewRegisterUserHandler(store.Users())

	_, err := handler.RegisterUser(context.Background(), paygate.RegisterUserMessage{
		Name:     "Alice",
		Email:    "alice@example.com",
		Password: "password123",
		Tier:     "gold",
	})
	assert.Error(t, err)
}

func TestRegisterUserDuplicateEmail(t *testing.T) {
	store := newTestStore(t)
	handler := paygate.NewRegisterUserHandler(store.Users())
	ctx := context.Background()

	_, err := handler.RegisterUser(ctx, paygate.RegisterUserMessage{
		Name: "Alice", Email: "alice@example.com", Password: "password123", Tier: "premium",
	})
	require.NoError(t, err)

	_, err = handler.RegisterUser(ctx, paygate.RegisterUserMessage{
		Name: "Other", Email: "Alice@Example.com ", Password: "password456", Tier: "standard",
	})
	assert.ErrorIs(t, err, paygate.ErrDuplicateEmail)
}

func TestRegisterUserDeterministicID(t *testing.T) {
	store := newTestStore(t)
	handler := paygate.NewRegisterUserHandler(store.Users())

	user, err := handler.RegisterUser(context.Background(), paygate.RegisterUserMessage{
		Name:      "Alice",
		Email:     "alice@example.com",
		Password:  "password123",
		Tier:      "premium",
		UseHashid: true,
	})
	require.NoError(t, err)

	want, err := hashid.NewUUID("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, want, user.ID)
}

func TestRegisterUserCustomPricingPolicy(t *testing.T) {
	store := newTestStore(t)
	handler := paygate.NewRegisterUserHandler(store.Users(),
		paygate.WithRegisterPricingPolicy(paygate.PricingPolicyFromAmounts(map[paygate.PricingTier]int64{
			paygate.TierPremium:  500,
			paygate.TierStandard: 200,
		})),
	)

	user, err := handler.RegisterUser(context.Background(), paygate.RegisterUserMessage{
		Name: "Alice", Email: "alice@example.com", Password: "password123", Tier: "premium",
	})
	require.NoError(t, err)
	assert.True(t, user.PaymentAmount.Equal(decimal.NewFromInt(500)))
}

func TestRegisterUserEmitsActivity(t *testing.T) {
	store := newTestStore(t)
	sink := &capturingSink{}
	handler := paygate.NewRegisterUserHandler(store.Users(), paygate.WithRegisterActivitySink(sink))

	user, err := handler.RegisterUser(context.Background(), paygate.RegisterUserMessage{
		Name: "Alice", Email: "alice@example.com", Password: "password123", Tier: "premium",
	})
	require.NoError(t, err)

	events := sink.ByType(paygate.ActivityEventUserRegistered)
	require.Len(t, events, 1)
	assert.Equal(t, user.ID.String(), events[0].UserID)
	assert.Equal(t, "premium", events[0].Metadata["tier"])
	assert.Equal(t, "100", events[0].Metadata["amount"])
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		region string
		want   string
	}{
		{"local kenyan", "0712345678", "KE", "+254712345678"},
		{"already e164", "+254712345678", "KE", "+254712345678"},
		{"spaces trimmed", "  0712 345 678 ", "KE", "+254712345678"},
		{"unparseable kept verbatim", "not-a-number", "KE", "not-a-number"},
		{"empty", "", "KE", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, paygate.NormalizePhone(tt.raw, tt.region))
		})
	}
}

func strptr(s string) *string { return &s }

func TestUpdateProfileWhitelistedFields(t *testing.T) {
	store := newTestStore(t)
	handler := paygate.NewUpdateProfileHandler(store.Users())
	ctx := context.Background()

	user := seedUser(t, store.Users(), "alice@example.com", "premium", "password123")

	age := 33
	hobbies := []string{"chess", "running"}
	updated, err := handler.UpdateProfile(ctx, paygate.UpdateProfileMessage{
		UserID:     user.ID,
		Name:       strptr("Alice Updated"),
		Phone:      strptr("0712345678"),
		Age:        &age,
		Profession: strptr(" engineer "),
		Hobbies:    &hobbies,
	})
	require.NoError(t, err)

	assert.Equal(t, "Alice Updated", updated.Name)
	assert.Equal(t, "+254712345678", updated.Phone)
	assert.Equal(t, 33, updated.Age)
	assert.Equal(t, "engineer", updated.Profession)
	assert.Equal(t, hobbies, updated.Hobbies)

	// Untouched fields survive, financial state included.
	assert.Equal(t, user.Email, updated.Email)
	assert.Equal(t, paygate.TierPremium, updated.Tier)
	assert.True(t, updated.PaymentAmount.Equal(user.PaymentAmount))
	assert.Equal(t, paygate.PaymentStateUnpaid, updated.PaymentState)
}

func TestUpdateProfilePartialUpdate(t *testing.T) {
	store := newTestStore(t)
	handler := paygate.NewUpdateProfileHandler(store.Users())
	ctx := context.Background()

	user := seedUser(t, store.Users(), "alice@example.com", "premium", "password123")

	updated, err := handler.UpdateProfile(ctx, paygate.UpdateProfileMessage{
		UserID:     user.ID,
		Profession: strptr("doctor"),
	})
	require.NoError(t, err)

	assert.Equal(t, "doctor", updated.Profession)
	assert.Equal(t, "Test User", updated.Name)
}

func TestUpdateProfilePasswordRehash(t *testing.T) {
	store := newTestStore(t)
	handler := paygate.NewUpdateProfileHandler(store.Users())
	ctx := context.Background()

	user := seedUser(t, store.Users(), "alice@example.com", "premium", "password123")

	updated, err := handler.UpdateProfile(ctx, paygate.UpdateProfileMessage{
		UserID:   user.ID,
		Password: strptr("new-password"),
	})
	require.NoError(t, err)

	assert.True(t, paygate.IsHashed(updated.PasswordHash))
	assert.NoError(t, paygate.ComparePasswordAndHash("new-password", updated.PasswordHash))
	assert.Error(t, paygate.ComparePasswordAndHash("password123", updated.PasswordHash))
}

func TestUpdateProfilePasswordAlreadyHashed(t *testing.T) {
	store := newTestStore(t)
	handler := paygate.NewUpdateProfileHandler(store.Users())
	ctx := context.Background()

	user := seedUser(t, store.Users(), "alice@example.com", "premium", "password123")

	hash, err := paygate.HashPassword("pre-hashed-secret")
	require.NoError(t, err)

	updated, err := handler.UpdateProfile(ctx, paygate.UpdateProfileMessage{
		UserID:   user.ID,
		Password: &hash,
	})
	require.NoError(t, err)

	// A hash is stored verbatim, never hashed twice.
	assert.Equal(t, hash, updated.PasswordHash)
	assert.NoError(t, paygate.ComparePasswordAndHash("pre-hashed-secret", updated.PasswordHash))
}

func TestUpdateProfileMissingUser(t *testing.T) {
	store := newTestStore(t)
	handler := paygate.NewUpdateProfileHandler(store.Users())

	_, err := handler.UpdateProfile(context.Background(), paygate.UpdateProfileMessage{
		UserID: uuid.New(),
		Name:   strptr("Nobody"),
	})
	assert.ErrorIs(t, err, paygate.ErrUserNotFound)
}

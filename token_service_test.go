package paygate_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	paygate "github.com/goliatone/go-paygate"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenIdentity struct {
	id    string
	email string
	tier  paygate.PricingTier
}

func (i tokenIdentity) ID() string                { return i.id }
func (i tokenIdentity) Email() string             { return i.email }
func (i tokenIdentity) Tier() paygate.PricingTier { return i.tier }

func newTokenService(t *testing.T, opts ...paygate.TokenServiceOption) paygate.TokenService {
	t.Helper()
	ts, err := paygate.NewTokenService([]byte("test-signing-key"), paygate.DefaultTokenExpiration, "paygate-test", []string{"api"}, opts...)
	require.NoError(t, err)
	return ts
}

func TestTokenServiceRequiresSigningKey(t *testing.T) {
	_, err := paygate.NewTokenService(nil, 0, "", nil)
	assert.ErrorIs(t, err, paygate.ErrMissingSigningKey)
}

func TestTokenServiceRoundTrip(t *testing.T) {
	ts := newTokenService(t)

	identity := tokenIdentity{
		id:    uuid.NewString(),
		email: "alice@example.com",
		tier:  paygate.TierPremium,
	}

	token, err := ts.Issue(identity)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ts.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, identity.id, claims.Subject())
	assert.Equal(t, identity.id, claims.UserID())
	assert.Equal(t, paygate.TierPremium, claims.Tier())
}

func TestTokenServiceSevenDayLifetime(t *testing.T) {
	issuedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	clock := issuedAt
	ts := newTokenService(t, paygate.WithTokenClock(func() time.Time {
		return clock
	}))

	identity := tokenIdentity{id: uuid.NewString(), email: "alice@example.com", tier: paygate.TierStandard}

	token, expiresAt, err := ts.Mint(identity, paygate.TokenOptions{IssuedAt: issuedAt})
	require.NoError(t, err)
	assert.Equal(t, issuedAt.Add(7*24*time.Hour), expiresAt)

	// Still valid just before expiry.
	clock = expiresAt.Add(-time.Minute)
	_, err = ts.Validate(token)
	assert.NoError(t, err)

	// Expired right after.
	clock = expiresAt.Add(time.Minute)
	_, err = ts.Validate(token)
	assert.ErrorIs(t, err, paygate.ErrTokenExpired)
}

func TestTokenServiceMintTTLOverride(t *testing.T) {
	issuedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ts := newTokenService(t)

	identity := tokenIdentity{id: uuid.NewString(), tier: paygate.TierPremium}

	_, expiresAt, err := ts.Mint(identity, paygate.TokenOptions{
		IssuedAt: issuedAt,
		TTL:      time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, issuedAt.Add(time.Hour), expiresAt)

	_, _, err = ts.Mint(identity, paygate.TokenOptions{TTL: -time.Hour})
	assert.Error(t, err)
}

func TestTokenServiceRejectsForeignSignature(t *testing.T) {
	ts := newTokenService(t)

	other, err := paygate.NewTokenService([]byte("some-other-key"), 0, "paygate-test", []string{"api"})
	require.NoError(t, err)

	identity := tokenIdentity{id: uuid.NewString(), tier: paygate.TierPremium}
	token, err := other.Issue(identity)
	require.NoError(t, err)

	_, err = ts.Validate(token)
	assert.True(t, paygate.IsMalformedError(err))
}

func TestTokenServiceRejectsGarbage(t *testing.T) {
	ts := newTokenService(t)

	_, err := ts.Validate("not-a-token")
	assert.True(t, paygate.IsMalformedError(err))

	_, err = ts.Validate("")
	assert.Error(t, err)
}

func TestTokenServiceRejectsUnexpectedSigningMethod(t *testing.T) {
	logger := &captureLogger{}
	ts := newTokenService(t, paygate.WithTokenLogger(logger))

	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject: uuid.NewString(),
		Issuer:  "paygate-test",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ts.Validate(token)
	assert.True(t, paygate.IsMalformedError(err))

	// The rejected algorithm lands in the log through a format verb.
	lines := logger.Lines()
	require.NotEmpty(t, lines)
	for _, line := range lines {
		assert.NotContains(t, line, "%!", line)
	}
}

func TestTokenServiceRejectsNilIdentity(t *testing.T) {
	ts := newTokenService(t)

	_, _, err := ts.Mint(nil, paygate.TokenOptions{})
	assert.Error(t, err)
}

package paygate

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthClaims is the verified content of a session token. Verification is
// purely cryptographic: claims certify who the caller is, not their current
// capability. Payment state must always be re-checked against the store.
type AuthClaims interface {
	Subject() string
	UserID() string
	Tier() PricingTier
	Expires() time.Time
	IssuedAt() time.Time
}

// JWTClaims is the concrete implementation of AuthClaims
type JWTClaims struct {
	jwt.RegisteredClaims
	UID      string `json:"uid,omitempty"`
	UserTier string `json:"tier,omitempty"`
}

// Verify interface compliance
var _ AuthClaims = (*JWTClaims)(nil)

// Subject returns the subject claim
func (c *JWTClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// UserID returns the user ID
func (c *JWTClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject()
}

// Tier returns the pricing tier captured at issuance time.
func (c *JWTClaims) Tier() PricingTier {
	return PricingTier(c.UserTier)
}

// Expires returns the expiration time
func (c *JWTClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *JWTClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

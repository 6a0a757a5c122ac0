package paygate

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// PricingTier is the immutable classification used once, at registration,
// to derive the fixed payment amount.
type PricingTier string

const (
	// TierPremium is charged the full activation amount
	TierPremium PricingTier = "premium"
	// TierStandard is charged the reduced activation amount
	TierStandard PricingTier = "standard"
)

// ParseTier maps a raw string to a known tier.
func ParseTier(raw string) (PricingTier, bool) {
	switch PricingTier(strings.ToLower(strings.TrimSpace(raw))) {
	case TierPremium:
		return TierPremium, true
	case TierStandard:
		return TierStandard, true
	}
	return "", false
}

// PaymentState tracks the one-time activation payment lifecycle.
type PaymentState string

const (
	// PaymentStateUnpaid is the initial state
	PaymentStateUnpaid PaymentState = "unpaid"
	// PaymentStateProcessing is the optional intermediate state
	PaymentStateProcessing PaymentState = "processing"
	// PaymentStatePaid is terminal
	PaymentStatePaid PaymentState = "paid"
)

// PaymentStatus is the ledger entry status; v1 only persists completions.
type PaymentStatus string

// PaymentStatusCompleted marks a settled ledger entry.
const PaymentStatusCompleted PaymentStatus = "completed"

// User is the account record
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	ID            uuid.UUID       `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name          string          `bun:"name,notnull" json:"name,omitempty"`
	Email         string          `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash  string          `bun:"password_hash" json:"-"`
	Tier          PricingTier     `bun:"tier,notnull" json:"tier,omitempty"`
	PaymentAmount decimal.Decimal `bun:"payment_amount,notnull,type:numeric" json:"payment_amount"`
	PaymentState  PaymentState    `bun:"payment_state,notnull" json:"payment_state,omitempty"`
	Phone         string          `bun:"phone_number" json:"phone_number,omitempty"`
	Age           int             `bun:"age" json:"age,omitempty"`
	Profession    string          `bun:"profession" json:"profession,omitempty"`
	Hobbies       []string        `bun:"hobbies,type:jsonb" json:"hobbies,omitempty"`
	ProfilePhoto  string          `bun:"profile_photo" json:"profile_photo,omitempty"`
	CreatedAt     *time.Time      `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time      `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// EnsurePaymentState backfills the zero value with the initial state.
func (u *User) EnsurePaymentState() {
	if u.PaymentState == "" {
		u.PaymentState = PaymentStateUnpaid
	}
}

// IsPaid reports whether the one-time payment has settled.
func (u *User) IsPaid() bool {
	return u.PaymentState == PaymentStatePaid
}

// Clone returns a deep copy so callers can hand out snapshots without
// exposing store-internal records.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	clone := *u
	if u.Hobbies != nil {
		clone.Hobbies = append([]string(nil), u.Hobbies...)
	}
	if u.CreatedAt != nil {
		t := *u.CreatedAt
		clone.CreatedAt = &t
	}
	if u.UpdatedAt != nil {
		t := *u.UpdatedAt
		clone.UpdatedAt = &t
	}
	return &clone
}

// Sanitize returns the client-safe view of the record. The password hash
// never leaves the process boundary.
func (u *User) Sanitize() map[string]any {
	if u == nil {
		return nil
	}
	u.EnsurePaymentState()
	out := map[string]any{
		"id":             u.ID.String(),
		"name":           u.Name,
		"email":          u.Email,
		"tier":           u.Tier,
		"payment_amount": u.PaymentAmount.String(),
		"payment_state":  u.PaymentState,
		"is_paid":        u.IsPaid(),
	}
	if u.Phone != "" {
		out["phone_number"] = u.Phone
	}
	if u.Age > 0 {
		out["age"] = u.Age
	}
	if u.Profession != "" {
		out["profession"] = u.Profession
	}
	if len(u.Hobbies) > 0 {
		out["hobbies"] = u.Hobbies
	}
	if u.ProfilePhoto != "" {
		out["profile_photo"] = u.ProfilePhoto
	}
	if u.CreatedAt != nil {
		out["created_at"] = u.CreatedAt
	}
	return out
}

// NormalizeEmail is the canonical form used for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// PaymentRecord is an append-only ledger entry; entries are never updated
// or deleted once created.
type PaymentRecord struct {
	bun.BaseModel `bun:"table:payment_records,alias:pay"`
	ID            uuid.UUID       `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        uuid.UUID       `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	Amount        decimal.Decimal `bun:"amount,notnull,type:numeric" json:"amount"`
	TransactionID string          `bun:"transaction_id,notnull,unique" json:"transaction_id,omitempty"`
	Status        PaymentStatus   `bun:"status,notnull" json:"status,omitempty"`
	CreatedAt     *time.Time      `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Clone returns a copy of the ledger entry.
func (r *PaymentRecord) Clone() *PaymentRecord {
	if r == nil {
		return nil
	}
	clone := *r
	if r.CreatedAt != nil {
		t := *r.CreatedAt
		clone.CreatedAt = &t
	}
	return &clone
}

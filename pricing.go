package paygate

import (
	goerrors "github.com/goliatone/go-errors"
	"github.com/shopspring/decimal"
)

// PricingPolicy derives the one-time activation amount from a tier. The
// amount is applied exactly once at registration; later policy changes never
// retroactively affect existing accounts.
type PricingPolicy func(tier PricingTier) (decimal.Decimal, error)

var defaultTierAmounts = map[PricingTier]int64{
	TierPremium:  100,
	TierStandard: 50,
}

// DefaultPricingPolicy prices premium at 100 and standard at 50.
func DefaultPricingPolicy() PricingPolicy {
	return PricingPolicyFromAmounts(defaultTierAmounts)
}

// PricingPolicyFromAmounts builds a policy from a tier to amount table.
func PricingPolicyFromAmounts(amounts map[PricingTier]int64) PricingPolicy {
	table := make(map[PricingTier]decimal.Decimal, len(amounts))
	for tier, amount := range amounts {
		table[tier] = decimal.NewFromInt(amount)
	}

	return func(tier PricingTier) (decimal.Decimal, error) {
		amount, ok := table[tier]
		if !ok {
			return decimal.Zero, goerrors.New("unknown pricing tier", goerrors.CategoryValidation).
				WithCode(goerrors.CodeBadRequest).
				WithMetadata(map[string]any{"tier": tier})
		}
		return amount, nil
	}
}

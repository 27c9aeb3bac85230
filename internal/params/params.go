package params

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrOutOfRange is returned when a parameter update falls outside its
// declared closed range. Values are rejected, never clamped.
var ErrOutOfRange = errors.New("parameter out of range")

// Params holds the bounded configuration of the policy engine and the
// boardroom. All rates are fractions (0.03 == 3%) unless noted.
type Params struct {
	// Peg is the target reference price of the cash asset.
	Peg decimal.Decimal `json:"peg"`

	// BootstrapRounds is the number of initial rounds during which every
	// epoch expands supply at BootstrapRate regardless of price.
	BootstrapRounds int64           `json:"bootstrap_rounds"`
	BootstrapRate   decimal.Decimal `json:"bootstrap_rate"`

	// ExpansionRate scales the price deviation into an expansion
	// percentage; the result is capped by MaxExpansionRate or, while the
	// reserve is under-collateralized, MaxExpansionRateDebtPhase.
	ExpansionRate             decimal.Decimal `json:"expansion_rate"`
	MaxExpansionRate          decimal.Decimal `json:"max_expansion_rate"`
	MaxExpansionRateDebtPhase decimal.Decimal `json:"max_expansion_rate_debt_phase"`

	// DepletionFloorRatio decides when outstanding debt counts as paid
	// down: reserve >= bondSupply * ratio.
	DepletionFloorRatio decimal.Decimal `json:"depletion_floor_ratio"`

	// SeigniorageFloorRatio is the boardroom's share of debt-phase
	// expansion; the remainder builds the reserve after scaling by
	// DebtPaydownMultiplier (intentionally allowed to exceed 1).
	SeigniorageFloorRatio decimal.Decimal `json:"seigniorage_floor_ratio"`
	DebtPaydownMultiplier decimal.Decimal `json:"debt_paydown_multiplier"`

	// ContractionCap bounds per-round bond issuance as a fraction of cash
	// supply; MaxDebtRatio bounds total bond supply against cash supply.
	ContractionCap decimal.Decimal `json:"contraction_cap"`
	MaxDebtRatio   decimal.Decimal `json:"max_debt_ratio"`

	// Buyback routing.
	BuybackRate   decimal.Decimal `json:"buyback_rate"`
	MaxBuybackCap decimal.Decimal `json:"max_buyback_cap"`

	// TriggerSalary is the fixed per-trigger incentive minted to whoever
	// calls the epoch trigger.
	TriggerSalary decimal.Decimal `json:"trigger_salary"`

	// Bond pricing: discount = min(peg/price, MaxDiscountRate) below peg,
	// premium = min(price/peg, MaxPremiumRate) at or above peg,
	// RedemptionPenaltyRate (< 1) applies to below-peg redemptions.
	MaxDiscountRate       decimal.Decimal `json:"max_discount_rate"`
	MaxPremiumRate        decimal.Decimal `json:"max_premium_rate"`
	RedemptionPenaltyRate decimal.Decimal `json:"redemption_penalty_rate"`

	// Boardroom lockups, in rounds.
	WithdrawLockupRounds int64 `json:"withdraw_lockup_rounds"`
	RewardLockupRounds   int64 `json:"reward_lockup_rounds"`
}

// Default returns the launch configuration.
func Default() Params {
	return Params{
		Peg:                       decimal.NewFromInt(1),
		BootstrapRounds:           21,
		BootstrapRate:             dec("0.03"),
		ExpansionRate:             decimal.NewFromInt(1),
		MaxExpansionRate:          dec("0.10"),
		MaxExpansionRateDebtPhase: dec("0.12"),
		DepletionFloorRatio:       dec("0.8"),
		SeigniorageFloorRatio:     dec("0.5"),
		DebtPaydownMultiplier:     dec("1.5"),
		ContractionCap:            dec("0.35"),
		MaxDebtRatio:              dec("0.35"),
		BuybackRate:               dec("0.01"),
		MaxBuybackCap:             dec("0.05"),
		TriggerSalary:             decimal.NewFromInt(50),
		MaxDiscountRate:           dec("2"),
		MaxPremiumRate:            dec("2"),
		RedemptionPenaltyRate:     dec("0.9"),
		WithdrawLockupRounds:      4,
		RewardLockupRounds:        3,
	}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type bound struct {
	name     string
	value    decimal.Decimal
	min, max decimal.Decimal
}

// Validate checks every field against its closed range.
func (p Params) Validate() error {
	one := decimal.NewFromInt(1)
	bounds := []bound{
		{"peg", p.Peg, dec("0.1"), decimal.NewFromInt(10)},
		{"bootstrap_rate", p.BootstrapRate, decimal.Zero, dec("0.2")},
		{"expansion_rate", p.ExpansionRate, dec("0.01"), decimal.NewFromInt(10)},
		{"max_expansion_rate", p.MaxExpansionRate, dec("0.001"), dec("0.15")},
		{"max_expansion_rate_debt_phase", p.MaxExpansionRateDebtPhase, dec("0.001"), dec("0.30")},
		{"depletion_floor_ratio", p.DepletionFloorRatio, dec("0.5"), one},
		{"seigniorage_floor_ratio", p.SeigniorageFloorRatio, dec("0.25"), dec("0.75")},
		{"debt_paydown_multiplier", p.DebtPaydownMultiplier, one, decimal.NewFromInt(2)},
		{"contraction_cap", p.ContractionCap, dec("0.001"), dec("0.35")},
		{"max_debt_ratio", p.MaxDebtRatio, dec("0.001"), dec("0.5")},
		{"buyback_rate", p.BuybackRate, decimal.Zero, dec("0.10")},
		{"max_buyback_cap", p.MaxBuybackCap, dec("0.001"), dec("0.10")},
		{"trigger_salary", p.TriggerSalary, decimal.Zero, decimal.NewFromInt(1000)},
		{"max_discount_rate", p.MaxDiscountRate, one, decimal.NewFromInt(3)},
		{"max_premium_rate", p.MaxPremiumRate, one, decimal.NewFromInt(3)},
		{"redemption_penalty_rate", p.RedemptionPenaltyRate, dec("0.5"), dec("0.999")},
	}
	for _, b := range bounds {
		if b.value.LessThan(b.min) || b.value.GreaterThan(b.max) {
			return fmt.Errorf("%w: %s = %s, allowed [%s, %s]",
				ErrOutOfRange, b.name, b.value, b.min, b.max)
		}
	}

	if p.BootstrapRounds < 0 || p.BootstrapRounds > 90 {
		return fmt.Errorf("%w: bootstrap_rounds = %d, allowed [0, 90]", ErrOutOfRange, p.BootstrapRounds)
	}
	if p.WithdrawLockupRounds < 0 || p.WithdrawLockupRounds > 56 {
		return fmt.Errorf("%w: withdraw_lockup_rounds = %d, allowed [0, 56]", ErrOutOfRange, p.WithdrawLockupRounds)
	}
	if p.RewardLockupRounds < 0 || p.RewardLockupRounds > 56 {
		return fmt.Errorf("%w: reward_lockup_rounds = %d, allowed [0, 56]", ErrOutOfRange, p.RewardLockupRounds)
	}
	return nil
}

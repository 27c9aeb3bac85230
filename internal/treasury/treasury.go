// Package treasury is the epoch-driven policy engine. Once per round it
// reads the time-weighted price, decides between bootstrap, expansion and
// debt-phase allocation, routes minted cash to the boardroom, the reserve
// and the buyback sink, and re-arms the bond contraction budget. It also
// hosts the bond market: below-peg issuance against the contraction budget
// and redemption against the reserve.
//
// Below-peg redemption deliberately mints fresh supply at the penalty rate
// instead of refusing: redemptions are always honored, even when the price
// signal argues for contraction. See README for the rationale.
package treasury

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/terminal-bench/pegflow/internal/chain"
	"github.com/terminal-bench/pegflow/internal/guard"
	"github.com/terminal-bench/pegflow/internal/oracle"
	"github.com/terminal-bench/pegflow/internal/params"
	"github.com/terminal-bench/pegflow/internal/token"
	"github.com/terminal-bench/pegflow/pkg/messaging"
)

var (
	ErrZeroAmount       = errors.New("amount must be positive")
	ErrEpochNotOpen     = errors.New("epoch is not open yet")
	ErrNotReady         = errors.New("treasury does not operate the token ledgers yet")
	ErrStaleQuote       = errors.New("target price no longer matches the observed price")
	ErrPriceNotEligible = errors.New("price is not eligible for bond purchase")
	ErrBudgetExceeded   = errors.New("amount exceeds the remaining contraction budget")
	ErrDebtCeiling      = errors.New("bond supply would exceed the debt ceiling")
	ErrReserveShort     = errors.New("reserve cannot cover the redemption payout")
)

// Board is the seigniorage sink: the boardroom's allocation entry point.
type Board interface {
	AllocateSeigniorage(ctx context.Context, caller chain.Caller, amount decimal.Decimal) error
}

// Config wires the treasury's collaborators.
type Config struct {
	Clock  chain.Clock
	Guard  *guard.Guard
	Params *params.Store
	Cash   token.Ledger
	Bonds  token.Ledger
	Oracle oracle.Oracle
	Board  Board
	Events *messaging.Client

	// Account is the treasury's own identity on the ledgers; the reserve
	// lives on this account.
	Account string
	// BuybackSink receives buyback mints.
	BuybackSink string
	// StartTime anchors the epoch schedule; Period is the round length.
	StartTime time.Time
	Period    time.Duration
}

// Treasury is the policy engine.
type Treasury struct {
	cfg Config

	mu                 sync.RWMutex
	ready              bool
	round              int64
	previousRoundPrice decimal.Decimal
	seigniorageSaved   decimal.Decimal
	contractionLeft    decimal.Decimal
}

func New(cfg Config) *Treasury {
	return &Treasury{
		cfg:                cfg,
		previousRoundPrice: decimal.Zero,
		seigniorageSaved:   decimal.Zero,
		contractionLeft:    decimal.Zero,
	}
}

// Activate marks the treasury as the operator of both token ledgers.
// TriggerEpoch refuses to run before activation.
func (t *Treasury) Activate() {
	t.mu.Lock()
	t.ready = true
	t.mu.Unlock()
}

// Round returns the current round counter.
func (t *Treasury) Round() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.round
}

// NextRoundPoint returns when the current round's trigger opens.
func (t *Treasury) NextRoundPoint() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nextRoundPointLocked()
}

func (t *Treasury) nextRoundPointLocked() time.Time {
	return t.cfg.StartTime.Add(time.Duration(t.round) * t.cfg.Period)
}

// Status is a read-only snapshot for the API surface.
type Status struct {
	Round              int64           `json:"round"`
	NextRoundPoint     time.Time       `json:"next_round_point"`
	PreviousRoundPrice decimal.Decimal `json:"previous_round_price"`
	Reserve            decimal.Decimal `json:"reserve"`
	ContractionLeft    decimal.Decimal `json:"contraction_left"`
	Ready              bool            `json:"ready"`
}

func (t *Treasury) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Status{
		Round:              t.round,
		NextRoundPoint:     t.nextRoundPointLocked(),
		PreviousRoundPrice: t.previousRoundPrice,
		Reserve:            t.seigniorageSaved,
		ContractionLeft:    t.contractionLeft,
		Ready:              t.ready,
	}
}

// TriggerEpoch runs one policy round. Callable by anyone once the round
// point has passed; the caller earns the fixed trigger salary.
func (t *Treasury) TriggerEpoch(ctx context.Context, caller chain.Caller) error {
	return t.cfg.Guard.Do(t.cfg.Clock.Slot(), caller, func() error {
		t.mu.Lock()
		defer t.mu.Unlock()

		if t.cfg.Clock.Now().Before(t.nextRoundPointLocked()) {
			return fmt.Errorf("%w: round %d opens at %s",
				ErrEpochNotOpen, t.round, t.nextRoundPointLocked().Format(time.RFC3339))
		}
		if !t.ready {
			return ErrNotReady
		}

		p := t.cfg.Params.Current()

		if err := t.cfg.Oracle.Update(ctx); err != nil {
			return fmt.Errorf("oracle refresh failed: %w", err)
		}
		price, err := t.cfg.Oracle.TWAP(ctx)
		if err != nil {
			return fmt.Errorf("oracle read failed: %w", err)
		}

		cashSupply, err := t.cfg.Cash.TotalSupply(ctx)
		if err != nil {
			return fmt.Errorf("failed to read cash supply: %w", err)
		}
		distributable := cashSupply.Sub(t.seigniorageSaved)

		boardFunded := decimal.Zero
		reserveFunded := decimal.Zero

		if t.round < p.BootstrapRounds {
			boardFunded = distributable.Mul(p.BootstrapRate)
			if err := t.fundBoardLocked(ctx, boardFunded); err != nil {
				return err
			}
		} else if price.GreaterThan(p.Peg) {
			pct := price.Sub(p.Peg).Mul(p.ExpansionRate)

			bondSupply, err := t.cfg.Bonds.TotalSupply(ctx)
			if err != nil {
				return fmt.Errorf("failed to read bond supply: %w", err)
			}

			if t.seigniorageSaved.GreaterThanOrEqual(bondSupply.Mul(p.DepletionFloorRatio)) {
				// Debt paid down enough: the whole expansion funds
				// the boardroom.
				pct = decimal.Min(pct, p.MaxExpansionRate)
				boardFunded = distributable.Mul(pct)
				if err := t.fundBoardLocked(ctx, boardFunded); err != nil {
					return err
				}
			} else {
				// Debt phase: split between the boardroom and the
				// reserve, the reserve share scaled up to accelerate
				// paydown.
				pct = decimal.Min(pct, p.MaxExpansionRateDebtPhase)
				amount := distributable.Mul(pct)
				boardFunded = amount.Mul(p.SeigniorageFloorRatio)
				reserveFunded = amount.Sub(boardFunded).Mul(p.DebtPaydownMultiplier)

				if err := t.fundBoardLocked(ctx, boardFunded); err != nil {
					return err
				}
				if reserveFunded.IsPositive() {
					if err := t.cfg.Cash.Mint(ctx, t.cfg.Account, reserveFunded); err != nil {
						return fmt.Errorf("failed to mint reserve: %w", err)
					}
					t.seigniorageSaved = t.seigniorageSaved.Add(reserveFunded)
					t.publish(ctx, messaging.EventTypeTreasuryFunded, messaging.RewardEvent{
						EventID:   uuid.New(),
						Account:   t.cfg.Account,
						Amount:    reserveFunded.String(),
						Timestamp: t.cfg.Clock.Now(),
					})
				}
			}
		}

		buybackFunded := decimal.Zero
		if price.GreaterThan(p.Peg) {
			buybackFunded = distributable.Mul(decimal.Min(p.BuybackRate, p.MaxBuybackCap))
			if buybackFunded.IsPositive() {
				if err := t.cfg.Cash.Mint(ctx, t.cfg.BuybackSink, buybackFunded); err != nil {
					return fmt.Errorf("failed to mint buyback: %w", err)
				}
				t.publish(ctx, messaging.EventTypeBuybackFunded, messaging.RewardEvent{
					EventID:   uuid.New(),
					Account:   t.cfg.BuybackSink,
					Amount:    buybackFunded.String(),
					Timestamp: t.cfg.Clock.Now(),
				})
			}
		}

		// Per-trigger incentive, independent of every price branch.
		if p.TriggerSalary.IsPositive() {
			if err := t.cfg.Cash.Mint(ctx, caller.Origin, p.TriggerSalary); err != nil {
				return fmt.Errorf("failed to mint trigger salary: %w", err)
			}
			t.publish(ctx, messaging.EventTypeSalaryPaid, messaging.RewardEvent{
				EventID:   uuid.New(),
				Account:   caller.Origin,
				Amount:    p.TriggerSalary.String(),
				Timestamp: t.cfg.Clock.Now(),
			})
		}

		t.previousRoundPrice = price
		t.round++
		if price.GreaterThanOrEqual(p.Peg) {
			t.contractionLeft = decimal.Zero
		} else {
			t.contractionLeft = cashSupply.Mul(p.ContractionCap)
		}

		t.publish(ctx, messaging.EventTypeEpochTriggered, messaging.EpochEvent{
			EventID:         uuid.New(),
			Caller:          caller.Origin,
			Round:           t.round,
			TwapPrice:       price.String(),
			Distributable:   distributable.String(),
			BoardroomFunded: boardFunded.String(),
			ReserveFunded:   reserveFunded.String(),
			BuybackFunded:   buybackFunded.String(),
			ContractionLeft: t.contractionLeft.String(),
			Timestamp:       t.cfg.Clock.Now(),
		})
		return nil
	})
}

// fundBoardLocked mints seigniorage to the treasury and pushes it into the
// boardroom's snapshot sequence. A rejected allocation reverses the mint so
// a failed trigger leaves the supply exactly where it was.
func (t *Treasury) fundBoardLocked(ctx context.Context, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return nil
	}
	if err := t.cfg.Cash.Mint(ctx, t.cfg.Account, amount); err != nil {
		return fmt.Errorf("failed to mint seigniorage: %w", err)
	}
	if err := t.cfg.Board.AllocateSeigniorage(ctx, chain.Direct(t.cfg.Account), amount); err != nil {
		if burnErr := t.cfg.Cash.Burn(ctx, t.cfg.Account, amount); burnErr != nil {
			return fmt.Errorf("failed to allocate seigniorage: %w (mint reversal also failed: %v)", err, burnErr)
		}
		return fmt.Errorf("failed to allocate seigniorage: %w", err)
	}
	return nil
}

// BuyBonds burns cash and issues bonds at the current discount while the
// price sits below the peg, bounded by the round's contraction budget and
// the debt ceiling.
func (t *Treasury) BuyBonds(ctx context.Context, caller chain.Caller, amount, targetPrice decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrZeroAmount
	}
	return t.cfg.Guard.Do(t.cfg.Clock.Slot(), caller, func() error {
		t.mu.Lock()
		defer t.mu.Unlock()

		p := t.cfg.Params.Current()

		spot, err := t.cfg.Oracle.Consult(ctx)
		if err != nil {
			return fmt.Errorf("oracle read failed: %w", err)
		}
		if !spot.Equal(targetPrice) {
			return fmt.Errorf("%w: observed %s, target %s", ErrStaleQuote, spot, targetPrice)
		}
		if spot.GreaterThanOrEqual(p.Peg) {
			return fmt.Errorf("%w: price %s is at or above peg %s", ErrPriceNotEligible, spot, p.Peg)
		}
		if amount.GreaterThan(t.contractionLeft) {
			return fmt.Errorf("%w: %s left, buying %s", ErrBudgetExceeded, t.contractionLeft, amount)
		}

		discount := decimal.Min(p.Peg.Div(spot), p.MaxDiscountRate)
		bondOut := amount.Mul(discount)

		cashSupply, err := t.cfg.Cash.TotalSupply(ctx)
		if err != nil {
			return fmt.Errorf("failed to read cash supply: %w", err)
		}
		bondSupply, err := t.cfg.Bonds.TotalSupply(ctx)
		if err != nil {
			return fmt.Errorf("failed to read bond supply: %w", err)
		}
		// The ceiling must hold after this purchase settles, so check
		// against the post-burn cash supply.
		ceiling := cashSupply.Sub(amount).Mul(p.MaxDebtRatio)
		if bondSupply.Add(bondOut).GreaterThan(ceiling) {
			return fmt.Errorf("%w: supply would be %s, ceiling %s", ErrDebtCeiling, bondSupply.Add(bondOut), ceiling)
		}

		if err := t.cfg.Cash.Burn(ctx, caller.Origin, amount); err != nil {
			return fmt.Errorf("failed to burn cash: %w", err)
		}
		if err := t.cfg.Bonds.Mint(ctx, caller.Origin, bondOut); err != nil {
			return fmt.Errorf("failed to mint bonds: %w", err)
		}
		t.contractionLeft = t.contractionLeft.Sub(amount)

		t.publish(ctx, messaging.EventTypeBondsBought, messaging.BondEvent{
			EventID:     uuid.New(),
			Caller:      caller.Origin,
			CashAmount:  amount.String(),
			BondAmount:  bondOut.String(),
			TargetPrice: targetPrice.String(),
			Timestamp:   t.cfg.Clock.Now(),
		})
		return nil
	})
}

// RedeemBonds burns bonds for cash. At or above the peg the payout carries
// the premium and is paid from the reserve; below the peg the payout is
// discounted by the penalty rate and minted fresh.
func (t *Treasury) RedeemBonds(ctx context.Context, caller chain.Caller, amount, targetPrice decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrZeroAmount
	}
	return t.cfg.Guard.Do(t.cfg.Clock.Slot(), caller, func() error {
		t.mu.Lock()
		defer t.mu.Unlock()

		p := t.cfg.Params.Current()

		spot, err := t.cfg.Oracle.Consult(ctx)
		if err != nil {
			return fmt.Errorf("oracle read failed: %w", err)
		}
		if !spot.Equal(targetPrice) {
			return fmt.Errorf("%w: observed %s, target %s", ErrStaleQuote, spot, targetPrice)
		}

		var payout decimal.Decimal
		if spot.GreaterThanOrEqual(p.Peg) {
			premium := decimal.Min(spot.Div(p.Peg), p.MaxPremiumRate)
			payout = amount.Mul(premium)
			if t.seigniorageSaved.LessThan(payout) {
				return fmt.Errorf("%w: reserve %s, payout %s", ErrReserveShort, t.seigniorageSaved, payout)
			}
			if err := t.cfg.Bonds.Burn(ctx, caller.Origin, amount); err != nil {
				return fmt.Errorf("failed to burn bonds: %w", err)
			}
			if err := t.cfg.Cash.Transfer(ctx, t.cfg.Account, caller.Origin, payout); err != nil {
				return fmt.Errorf("failed to pay redemption: %w", err)
			}
			t.seigniorageSaved = t.seigniorageSaved.Sub(payout)
		} else {
			payout = amount.Mul(p.RedemptionPenaltyRate)
			if err := t.cfg.Bonds.Burn(ctx, caller.Origin, amount); err != nil {
				return fmt.Errorf("failed to burn bonds: %w", err)
			}
			if err := t.cfg.Cash.Mint(ctx, caller.Origin, payout); err != nil {
				return fmt.Errorf("failed to mint redemption: %w", err)
			}
		}

		t.publish(ctx, messaging.EventTypeBondsRedeemed, messaging.BondEvent{
			EventID:     uuid.New(),
			Caller:      caller.Origin,
			CashAmount:  payout.String(),
			BondAmount:  amount.String(),
			TargetPrice: targetPrice.String(),
			Timestamp:   t.cfg.Clock.Now(),
		})
		return nil
	})
}

func (t *Treasury) publish(ctx context.Context, subject string, event interface{}) {
	if t.cfg.Events == nil {
		return
	}
	t.cfg.Events.Publish(ctx, subject, event)
}

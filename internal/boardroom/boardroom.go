// Package boardroom is the staking reward ledger. Seigniorage arrives as
// append-only reward snapshots; each staker's accrual is settled lazily
// against the snapshot sequence, so distributing a reward costs O(1)
// regardless of how many seats exist and accrual costs O(1) per staker
// action.
package boardroom

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/terminal-bench/pegflow/internal/chain"
	"github.com/terminal-bench/pegflow/internal/exchange"
	"github.com/terminal-bench/pegflow/internal/guard"
	"github.com/terminal-bench/pegflow/internal/params"
	"github.com/terminal-bench/pegflow/internal/token"
	"github.com/terminal-bench/pegflow/pkg/messaging"
)

var (
	ErrZeroAmount     = errors.New("amount must be positive")
	ErrNoStakes       = errors.New("nothing is staked")
	ErrNotOperator    = errors.New("caller is not the boardroom operator")
	ErrWithdrawLocked = errors.New("withdraw lockup has not elapsed")
	ErrRewardLocked   = errors.New("reward lockup has not elapsed")
	ErrExceedsStake   = errors.New("withdraw exceeds staked balance")
)

// RoundSource reports the policy engine's current round; lockups are
// measured in rounds, not wall time.
type RoundSource interface {
	Round() int64
}

// Snapshot is one reward-distribution record. RewardPerShare is cumulative
// and non-decreasing across the sequence; entry 0 is a genesis record with
// zero reward.
type Snapshot struct {
	Time           time.Time
	RewardReceived decimal.Decimal
	RewardPerShare decimal.Decimal
}

// Seat is a staker's bookkeeping record.
type Seat struct {
	LastSnapshotIndex int
	RewardEarned      decimal.Decimal
	RoundTimerStart   int64
}

// Config wires the boardroom's collaborators.
type Config struct {
	Clock  chain.Clock
	Guard  *guard.Guard
	Params *params.Store
	Shares token.Ledger
	Cash   token.Ledger
	Exch   exchange.Exchange
	Events *messaging.Client

	// Account is the boardroom's own custody identity on the ledgers.
	Account string
	// Operator is the only identity allowed to allocate seigniorage.
	Operator string
	// SettlementDenom is what claimed rewards are converted into.
	SettlementDenom string
	// RouterAccount is the AMM router's ledger identity; filled swaps are
	// funded by transferring the reward cash to it.
	RouterAccount string
}

// Boardroom tracks stakes and reward accrual.
type Boardroom struct {
	cfg    Config
	rounds RoundSource

	mu          sync.RWMutex
	snapshots   []Snapshot
	seats       map[string]*Seat
	balances    map[string]decimal.Decimal
	totalStaked decimal.Decimal
}

// minPayout is the non-zero swap floor: claims accept any positive output.
// This is a known weakness of the design, kept deliberately; see README.
var minPayout = decimal.New(1, -18)

func New(cfg Config) *Boardroom {
	if cfg.RouterAccount == "" {
		cfg.RouterAccount = "amm-router"
	}
	b := &Boardroom{
		cfg:      cfg,
		seats:    make(map[string]*Seat),
		balances: make(map[string]decimal.Decimal),
	}
	// Genesis snapshot: zero reward, zero cumulative reward-per-share.
	b.snapshots = append(b.snapshots, Snapshot{
		Time:           cfg.Clock.Now(),
		RewardReceived: decimal.Zero,
		RewardPerShare: decimal.Zero,
	})
	return b
}

// BindRounds attaches the round counter. Done after construction because
// the policy engine and the boardroom reference each other.
func (b *Boardroom) BindRounds(r RoundSource) { b.rounds = r }

// Account returns the boardroom's custody identity.
func (b *Boardroom) Account() string { return b.cfg.Account }

// Stake deposits share tokens and re-arms both lockup timers.
func (b *Boardroom) Stake(ctx context.Context, caller chain.Caller, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrZeroAmount
	}
	return b.cfg.Guard.Do(b.cfg.Clock.Slot(), caller, func() error {
		// Round is read before b.mu. The policy engine calls into the
		// boardroom while holding its own lock, so the boardroom must
		// never hold b.mu while reading the round.
		round := b.rounds.Round()

		b.mu.Lock()
		defer b.mu.Unlock()

		staker := caller.Origin
		seat := b.settleLocked(staker, round)

		if err := b.cfg.Shares.Transfer(ctx, staker, b.cfg.Account, amount); err != nil {
			return fmt.Errorf("failed to pull stake: %w", err)
		}

		b.balances[staker] = b.balances[staker].Add(amount)
		b.totalStaked = b.totalStaked.Add(amount)
		seat.RoundTimerStart = round

		b.publish(ctx, messaging.EventTypeStaked, messaging.StakeEvent{
			EventID:   uuid.New(),
			Staker:    staker,
			Amount:    amount.String(),
			Timestamp: b.cfg.Clock.Now(),
		})
		return nil
	})
}

// Withdraw returns share tokens after the withdraw lockup, claiming any
// accrued reward first.
func (b *Boardroom) Withdraw(ctx context.Context, caller chain.Caller, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrZeroAmount
	}
	return b.cfg.Guard.Do(b.cfg.Clock.Slot(), caller, func() error {
		round := b.rounds.Round()

		b.mu.Lock()
		defer b.mu.Unlock()

		staker := caller.Origin
		seat := b.settleLocked(staker, round)

		lockup := b.cfg.Params.Current().WithdrawLockupRounds
		if round < seat.RoundTimerStart+lockup {
			return fmt.Errorf("%w: staked at round %d, unlocks at round %d",
				ErrWithdrawLocked, seat.RoundTimerStart, seat.RoundTimerStart+lockup)
		}

		balance := b.balances[staker]
		if balance.LessThan(amount) {
			return fmt.Errorf("%w: staked %s, withdrawing %s", ErrExceedsStake, balance, amount)
		}

		if err := b.claimLocked(ctx, staker, seat, round); err != nil {
			return err
		}

		if err := b.cfg.Shares.Transfer(ctx, b.cfg.Account, staker, amount); err != nil {
			return fmt.Errorf("failed to return stake: %w", err)
		}

		b.balances[staker] = balance.Sub(amount)
		b.totalStaked = b.totalStaked.Sub(amount)
		seat.RoundTimerStart = round

		b.publish(ctx, messaging.EventTypeWithdrawn, messaging.StakeEvent{
			EventID:   uuid.New(),
			Staker:    staker,
			Amount:    amount.String(),
			Timestamp: b.cfg.Clock.Now(),
		})
		return nil
	})
}

// ClaimReward settles and pays out the staker's accrued reward, converting
// it to the settlement currency through the exchange. A zero accrual is a
// no-op and does not touch the lockup timer.
func (b *Boardroom) ClaimReward(ctx context.Context, caller chain.Caller) error {
	round := b.rounds.Round()

	b.mu.Lock()
	defer b.mu.Unlock()

	staker := caller.Origin
	seat := b.settleLocked(staker, round)
	return b.claimLocked(ctx, staker, seat, round)
}

func (b *Boardroom) claimLocked(ctx context.Context, staker string, seat *Seat, round int64) error {
	if seat.RewardEarned.IsZero() {
		return nil
	}

	lockup := b.cfg.Params.Current().RewardLockupRounds
	if round < seat.RoundTimerStart+lockup {
		return fmt.Errorf("%w: timer started at round %d, unlocks at round %d",
			ErrRewardLocked, seat.RoundTimerStart, seat.RoundTimerStart+lockup)
	}

	earned := seat.RewardEarned

	// The router fills first and delivers the settlement currency straight
	// to the staker; any positive output is accepted. Only a successful
	// fill moves the reward cash out of custody, so a rejected swap leaves
	// both the accrual and its backing untouched.
	proceeds, err := b.cfg.Exch.Swap(ctx, b.cfg.Cash.Denom(), earned, b.cfg.SettlementDenom, minPayout, staker)
	if err != nil {
		return fmt.Errorf("failed to settle reward: %w", err)
	}
	if err := b.cfg.Cash.Transfer(ctx, b.cfg.Account, b.cfg.RouterAccount, earned); err != nil {
		return fmt.Errorf("failed to fund swap: %w", err)
	}

	seat.RewardEarned = decimal.Zero
	seat.RoundTimerStart = round

	b.publish(ctx, messaging.EventTypeRewardPaid, messaging.RewardEvent{
		EventID:   uuid.New(),
		Account:   staker,
		Amount:    proceeds.String(),
		Timestamp: b.cfg.Clock.Now(),
	})
	return nil
}

// AllocateSeigniorage appends a reward snapshot and pulls the reward cash
// from the caller. Only the policy engine may call it.
func (b *Boardroom) AllocateSeigniorage(ctx context.Context, caller chain.Caller, amount decimal.Decimal) error {
	if caller.Origin != b.cfg.Operator {
		return ErrNotOperator
	}
	if !amount.IsPositive() {
		return ErrZeroAmount
	}
	return b.cfg.Guard.Do(b.cfg.Clock.Slot(), caller, func() error {
		b.mu.Lock()
		defer b.mu.Unlock()

		if !b.totalStaked.IsPositive() {
			return ErrNoStakes
		}

		if err := b.cfg.Cash.Transfer(ctx, caller.Origin, b.cfg.Account, amount); err != nil {
			return fmt.Errorf("failed to pull seigniorage: %w", err)
		}

		latest := b.snapshots[len(b.snapshots)-1]
		next := Snapshot{
			Time:           b.cfg.Clock.Now(),
			RewardReceived: amount,
			RewardPerShare: latest.RewardPerShare.Add(amount.Div(b.totalStaked)),
		}
		b.snapshots = append(b.snapshots, next)

		b.publish(ctx, messaging.EventTypeRewardAdded, messaging.RewardEvent{
			EventID:        uuid.New(),
			Account:        caller.Origin,
			Amount:         amount.String(),
			RewardPerShare: next.RewardPerShare.String(),
			Timestamp:      b.cfg.Clock.Now(),
		})
		return nil
	})
}

// settleLocked folds all snapshots since the seat's last settlement into
// RewardEarned and fast-forwards the seat to the latest snapshot. The round
// is passed in because it must be read before b.mu is taken.
func (b *Boardroom) settleLocked(staker string, round int64) *Seat {
	seat, ok := b.seats[staker]
	if !ok {
		seat = &Seat{RoundTimerStart: round}
		b.seats[staker] = seat
	}

	latest := len(b.snapshots) - 1
	if seat.LastSnapshotIndex != latest {
		delta := b.snapshots[latest].RewardPerShare.Sub(b.snapshots[seat.LastSnapshotIndex].RewardPerShare)
		seat.RewardEarned = seat.RewardEarned.Add(b.balances[staker].Mul(delta))
		seat.LastSnapshotIndex = latest
	}
	return seat
}

// Earned reports the staker's claimable reward, including unsettled
// snapshots, without mutating the seat.
func (b *Boardroom) Earned(staker string) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	earned := decimal.Zero
	last := 0
	if seat, ok := b.seats[staker]; ok {
		earned = seat.RewardEarned
		last = seat.LastSnapshotIndex
	}
	latest := len(b.snapshots) - 1
	delta := b.snapshots[latest].RewardPerShare.Sub(b.snapshots[last].RewardPerShare)
	return earned.Add(b.balances[staker].Mul(delta))
}

// BalanceOf reports the staker's staked balance.
func (b *Boardroom) BalanceOf(staker string) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balances[staker]
}

// TotalStaked reports the sum of all staked balances.
func (b *Boardroom) TotalStaked() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.totalStaked
}

// LatestSnapshot returns the most recent reward snapshot.
func (b *Boardroom) LatestSnapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshots[len(b.snapshots)-1]
}

// SnapshotCount returns the snapshot sequence length, genesis included.
func (b *Boardroom) SnapshotCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.snapshots)
}

func (b *Boardroom) publish(ctx context.Context, subject string, event interface{}) {
	if b.cfg.Events == nil {
		return
	}
	b.cfg.Events.Publish(ctx, subject, event)
}

package treasury_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/pegflow/internal/boardroom"
	"github.com/terminal-bench/pegflow/internal/chain"
	"github.com/terminal-bench/pegflow/internal/exchange"
	"github.com/terminal-bench/pegflow/internal/guard"
	"github.com/terminal-bench/pegflow/internal/oracle"
	"github.com/terminal-bench/pegflow/internal/params"
	"github.com/terminal-bench/pegflow/internal/token"
	"github.com/terminal-bench/pegflow/internal/treasury"
)

const epochPeriod = 6 * time.Hour

type fixture struct {
	tr     *treasury.Treasury
	board  *boardroom.Boardroom
	clock  *chain.FakeClock
	orc    *oracle.Static
	cash   *token.MemLedger
	bonds  *token.MemLedger
	shares *token.MemLedger
	store  *params.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &chain.FakeClock{Time: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), SlotNum: 1}
	store, err := params.NewStore(params.Default(), nil, "")
	require.NoError(t, err)

	g := guard.New(0)
	f := &fixture{
		clock:  clock,
		orc:    &oracle.Static{},
		cash:   token.NewMemLedger("cash"),
		bonds:  token.NewMemLedger("bond"),
		shares: token.NewMemLedger("share"),
		store:  store,
	}
	f.orc.SetPrice(decimal.NewFromInt(1))

	f.board = boardroom.New(boardroom.Config{
		Clock:           clock,
		Guard:           g,
		Params:          store,
		Shares:          f.shares,
		Cash:            f.cash,
		Exch:            &exchange.Fixed{Rate: decimal.NewFromInt(1)},
		Account:         "boardroom",
		Operator:        "treasury",
		SettlementDenom: "usd",
	})
	f.tr = treasury.New(treasury.Config{
		Clock:       clock,
		Guard:       g,
		Params:      store,
		Cash:        f.cash,
		Bonds:       f.bonds,
		Oracle:      f.orc,
		Board:       f.board,
		Account:     "treasury",
		BuybackSink: "buyback-sink",
		StartTime:   clock.Time,
		Period:      epochPeriod,
	})
	f.board.BindRounds(f.tr)
	f.tr.Activate()
	return f
}

// seed mints the initial cash supply and puts a staker in the boardroom so
// seigniorage allocations have a destination.
func (f *fixture) seed(t *testing.T, supply int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.cash.Mint(ctx, "whale", decimal.NewFromInt(supply)))
	require.NoError(t, f.shares.Mint(ctx, "alice", decimal.NewFromInt(100)))
	require.NoError(t, f.board.Stake(ctx, chain.Direct("alice"), decimal.NewFromInt(100)))
	f.clock.NextSlot()
}

func (f *fixture) trigger(t *testing.T, caller string) error {
	t.Helper()
	err := f.tr.TriggerEpoch(context.Background(), chain.Direct(caller))
	f.clock.NextSlot()
	return err
}

// advance moves wall time past the next round point.
func (f *fixture) advance() {
	f.clock.Advance(epochPeriod)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBootstrapEpoch(t *testing.T) {
	t.Run("mints bootstrap seigniorage straight to the boardroom", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, 1_000_000)

		// Round 0, supply 1,000,000, reserve 0, bootstrap rate 3%.
		require.NoError(t, f.trigger(t, "keeper"))

		snap := f.board.LatestSnapshot()
		assert.True(t, snap.RewardReceived.Equal(decimal.NewFromInt(30_000)), "got %s", snap.RewardReceived)

		bal, _ := f.cash.BalanceOf(context.Background(), "boardroom")
		assert.True(t, bal.Equal(decimal.NewFromInt(30_000)))

		// No buyback and no debt logic at the peg.
		sinkBal, _ := f.cash.BalanceOf(context.Background(), "buyback-sink")
		assert.True(t, sinkBal.IsZero())
		assert.True(t, f.tr.Status().Reserve.IsZero())
	})

	t.Run("caller earns the trigger salary", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, 1_000_000)

		require.NoError(t, f.trigger(t, "keeper"))

		bal, _ := f.cash.BalanceOf(context.Background(), "keeper")
		assert.True(t, bal.Equal(decimal.NewFromInt(50)))
	})

	t.Run("failed trigger leaves the supply untouched", func(t *testing.T) {
		ctx := context.Background()
		f := newFixture(t)
		require.NoError(t, f.cash.Mint(ctx, "whale", decimal.NewFromInt(1_000_000)))

		// Nothing staked: the bootstrap allocation is rejected and the
		// mint backing it must be reversed.
		err := f.trigger(t, "keeper")
		assert.ErrorIs(t, err, boardroom.ErrNoStakes)
		assert.Equal(t, int64(0), f.tr.Round())

		supply, _ := f.cash.TotalSupply(ctx)
		assert.True(t, supply.Equal(decimal.NewFromInt(1_000_000)), "got %s", supply)

		// Retrying does not inflate either.
		err = f.trigger(t, "keeper")
		assert.ErrorIs(t, err, boardroom.ErrNoStakes)
		supply, _ = f.cash.TotalSupply(ctx)
		assert.True(t, supply.Equal(decimal.NewFromInt(1_000_000)))
	})
}

// gatedOracle parks Update until released, holding the trigger mid-epoch.
type gatedOracle struct {
	*oracle.Static
	entered chan struct{}
	release chan struct{}
}

func (o *gatedOracle) Update(ctx context.Context) error {
	close(o.entered)
	<-o.release
	return o.Static.Update(ctx)
}

func TestTriggerAndStakeDoNotBlockEachOther(t *testing.T) {
	ctx := context.Background()

	clock := &chain.FakeClock{Time: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), SlotNum: 1}
	store, err := params.NewStore(params.Default(), nil, "")
	require.NoError(t, err)

	static := &oracle.Static{}
	static.SetPrice(decimal.NewFromInt(1))
	gated := &gatedOracle{
		Static:  static,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}

	g := guard.New(0)
	cash := token.NewMemLedger("cash")
	bonds := token.NewMemLedger("bond")
	shares := token.NewMemLedger("share")

	board := boardroom.New(boardroom.Config{
		Clock:           clock,
		Guard:           g,
		Params:          store,
		Shares:          shares,
		Cash:            cash,
		Exch:            &exchange.Fixed{Rate: decimal.NewFromInt(1)},
		Account:         "boardroom",
		Operator:        "treasury",
		SettlementDenom: "usd",
	})
	tr := treasury.New(treasury.Config{
		Clock:       clock,
		Guard:       g,
		Params:      store,
		Cash:        cash,
		Bonds:       bonds,
		Oracle:      gated,
		Board:       board,
		Account:     "treasury",
		BuybackSink: "buyback-sink",
		StartTime:   clock.Time,
		Period:      epochPeriod,
	})
	board.BindRounds(tr)
	tr.Activate()

	require.NoError(t, cash.Mint(ctx, "whale", decimal.NewFromInt(1_000_000)))
	require.NoError(t, shares.Mint(ctx, "alice", decimal.NewFromInt(100)))
	require.NoError(t, shares.Mint(ctx, "bob", decimal.NewFromInt(100)))
	require.NoError(t, board.Stake(ctx, chain.Direct("alice"), decimal.NewFromInt(100)))
	clock.NextSlot()

	// Park the trigger inside the oracle refresh, then stake concurrently.
	triggerDone := make(chan error, 1)
	go func() { triggerDone <- tr.TriggerEpoch(ctx, chain.Direct("keeper")) }()
	<-gated.entered

	stakeDone := make(chan error, 1)
	go func() { stakeDone <- board.Stake(ctx, chain.Direct("bob"), decimal.NewFromInt(100)) }()

	// Give the stake time to start, then let the oracle return.
	time.Sleep(50 * time.Millisecond)
	close(gated.release)

	for _, done := range []chan error{triggerDone, stakeDone} {
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("trigger and stake blocked on each other")
		}
	}
}

func TestEpochStateMachine(t *testing.T) {
	t.Run("round advances by exactly one per trigger", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, 1_000_000)

		start := f.clock.Time
		for i := int64(1); i <= 3; i++ {
			require.NoError(t, f.trigger(t, "keeper"))
			assert.Equal(t, i, f.tr.Round())
			assert.Equal(t, start.Add(time.Duration(i)*epochPeriod), f.tr.NextRoundPoint())
			f.advance()
		}
	})

	t.Run("second trigger in the same window is rejected", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, 1_000_000)

		require.NoError(t, f.trigger(t, "keeper"))
		err := f.trigger(t, "keeper")
		assert.ErrorIs(t, err, treasury.ErrEpochNotOpen)
	})

	t.Run("trigger before activation is rejected", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, 1_000_000)
		fresh := treasury.New(treasury.Config{
			Clock:     f.clock,
			Guard:     guard.New(0),
			Params:    f.store,
			Cash:      f.cash,
			Bonds:     f.bonds,
			Oracle:    f.orc,
			Board:     f.board,
			Account:   "treasury-2",
			StartTime: f.clock.Time,
			Period:    epochPeriod,
		})

		err := fresh.TriggerEpoch(context.Background(), chain.Direct("keeper"))
		assert.ErrorIs(t, err, treasury.ErrNotReady)
	})

	t.Run("oracle failure aborts the trigger", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, 1_000_000)
		f.orc.Err = oracle.ErrNoPrice

		err := f.trigger(t, "keeper")
		assert.ErrorIs(t, err, oracle.ErrNoPrice)
		assert.Equal(t, int64(0), f.tr.Round())
	})
}

func TestSteadyStateExpansion(t *testing.T) {
	ctx := context.Background()

	t.Run("above peg with healthy reserve funds the boardroom", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, 1_000_000)
		require.NoError(t, f.store.SetBootstrapRounds(ctx, 0))

		// 5% above peg, expansion rate 1 => 5% of distributable.
		f.orc.SetPrice(dec("1.05"))
		require.NoError(t, f.trigger(t, "keeper"))

		snap := f.board.LatestSnapshot()
		assert.True(t, snap.RewardReceived.Equal(decimal.NewFromInt(50_000)), "got %s", snap.RewardReceived)
		assert.True(t, f.tr.Status().Reserve.IsZero())
	})

	t.Run("expansion is capped at the max rate", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, 1_000_000)
		require.NoError(t, f.store.SetBootstrapRounds(ctx, 0))

		// 50% above peg would be 50%; cap is 10%.
		f.orc.SetPrice(dec("1.5"))
		require.NoError(t, f.trigger(t, "keeper"))

		snap := f.board.LatestSnapshot()
		assert.True(t, snap.RewardReceived.Equal(decimal.NewFromInt(100_000)), "got %s", snap.RewardReceived)
	})

	t.Run("above peg mints the buyback allocation", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, 1_000_000)
		require.NoError(t, f.store.SetBootstrapRounds(ctx, 0))

		f.orc.SetPrice(dec("1.05"))
		require.NoError(t, f.trigger(t, "keeper"))

		// Buyback rate 1% of distributable.
		bal, _ := f.cash.BalanceOf(ctx, "buyback-sink")
		assert.True(t, bal.Equal(decimal.NewFromInt(10_000)), "got %s", bal)
	})

	t.Run("at or below peg no expansion is minted", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, 1_000_000)
		require.NoError(t, f.store.SetBootstrapRounds(ctx, 0))

		f.orc.SetPrice(dec("0.95"))
		require.NoError(t, f.trigger(t, "keeper"))

		bal, _ := f.cash.BalanceOf(ctx, "boardroom")
		assert.True(t, bal.IsZero())
		sinkBal, _ := f.cash.BalanceOf(ctx, "buyback-sink")
		assert.True(t, sinkBal.IsZero())
	})
}

func TestDebtPhaseExpansion(t *testing.T) {
	ctx := context.Background()

	t.Run("splits expansion between boardroom and reserve", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, 1_000_000)
		require.NoError(t, f.store.SetBootstrapRounds(ctx, 0))

		// Outstanding bonds with an empty reserve force the debt phase.
		require.NoError(t, f.bonds.Mint(ctx, "bob", decimal.NewFromInt(100_000)))

		// 20% above peg caps at the debt-phase rate of 12%.
		f.orc.SetPrice(dec("1.2"))
		require.NoError(t, f.trigger(t, "keeper"))

		// amount = 120,000; boardroom 50% = 60,000;
		// reserve (120,000 - 60,000) * 1.5 = 90,000.
		snap := f.board.LatestSnapshot()
		assert.True(t, snap.RewardReceived.Equal(decimal.NewFromInt(60_000)), "got %s", snap.RewardReceived)
		assert.True(t, f.tr.Status().Reserve.Equal(decimal.NewFromInt(90_000)), "got %s", f.tr.Status().Reserve)

		reserveBal, _ := f.cash.BalanceOf(ctx, "treasury")
		assert.True(t, reserveBal.Equal(decimal.NewFromInt(90_000)))
	})

	t.Run("healthy reserve leaves the debt phase", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, 1_000_000)
		require.NoError(t, f.store.SetBootstrapRounds(ctx, 0))
		require.NoError(t, f.bonds.Mint(ctx, "bob", decimal.NewFromInt(100_000)))

		// Build the reserve past bondSupply * 0.8.
		f.orc.SetPrice(dec("1.2"))
		require.NoError(t, f.trigger(t, "keeper"))
		require.True(t, f.tr.Status().Reserve.GreaterThanOrEqual(decimal.NewFromInt(80_000)))
		f.advance()

		// Next epoch distributes everything to the boardroom again.
		reserveBefore := f.tr.Status().Reserve
		require.NoError(t, f.trigger(t, "keeper"))
		assert.True(t, f.tr.Status().Reserve.Equal(reserveBefore))
	})
}

func TestContractionBudget(t *testing.T) {
	ctx := context.Background()

	t.Run("below peg re-arms the budget", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, 1_000_000)
		require.NoError(t, f.store.SetBootstrapRounds(ctx, 0))

		f.orc.SetPrice(dec("0.9"))
		require.NoError(t, f.trigger(t, "keeper"))

		// 35% of the 1,000,000 supply.
		assert.True(t, f.tr.Status().ContractionLeft.Equal(decimal.NewFromInt(350_000)))
	})

	t.Run("at or above peg the budget is zero", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, 1_000_000)
		require.NoError(t, f.store.SetBootstrapRounds(ctx, 0))

		f.orc.SetPrice(dec("1.0"))
		require.NoError(t, f.trigger(t, "keeper"))

		assert.True(t, f.tr.Status().ContractionLeft.IsZero())
	})
}

// belowPeg puts the fixture below the peg with a charged contraction budget.
func belowPeg(t *testing.T, f *fixture, price string) {
	t.Helper()
	require.NoError(t, f.store.SetBootstrapRounds(context.Background(), 0))
	f.orc.SetPrice(dec(price))
	require.NoError(t, f.trigger(t, "keeper"))
}

func TestBuyBonds(t *testing.T) {
	ctx := context.Background()

	t.Run("burns cash and mints discounted bonds", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, 1_000_000)
		belowPeg(t, f, "0.8")

		err := f.tr.BuyBonds(ctx, chain.Direct("whale"), decimal.NewFromInt(10_000), dec("0.8"))
		require.NoError(t, err)

		// Discount = peg/price = 1.25.
		bondBal, _ := f.bonds.BalanceOf(ctx, "whale")
		assert.True(t, bondBal.Equal(decimal.NewFromInt(12_500)), "got %s", bondBal)

		cashBal, _ := f.cash.BalanceOf(ctx, "whale")
		assert.True(t, cashBal.Equal(decimal.NewFromInt(990_000)))

		assert.True(t, f.tr.Status().ContractionLeft.Equal(decimal.NewFromInt(340_000)))
	})

	t.Run("rejects zero amount", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, 1_000_000)
		belowPeg(t, f, "0.8")

		err := f.tr.BuyBonds(ctx, chain.Direct("whale"), decimal.Zero, dec("0.8"))
		assert.ErrorIs(t, err, treasury.ErrZeroAmount)
	})

	t.Run("rejects a stale quote", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, 1_000_000)
		belowPeg(t, f, "0.8")
		f.orc.SetPrice(dec("0.82"))

		err := f.tr.BuyBonds(ctx, chain.Direct("whale"), decimal.NewFromInt(100), dec("0.8"))
		assert.ErrorIs(t, err, treasury.ErrStaleQuote)
	})

	t.Run("rejects purchases at or above the peg", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, 1_000_000)
		belowPeg(t, f, "0.8")
		f.orc.SetPrice(dec("1.0"))

		err := f.tr.BuyBonds(ctx, chain.Direct("whale"), decimal.NewFromInt(100), dec("1.0"))
		assert.ErrorIs(t, err, treasury.ErrPriceNotEligible)
	})

	t.Run("rejects purchases beyond the contraction budget", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, 1_000_000)
		belowPeg(t, f, "0.8")

		err := f.tr.BuyBonds(ctx, chain.Direct("whale"), decimal.NewFromInt(350_001), dec("0.8"))
		assert.ErrorIs(t, err, treasury.ErrBudgetExceeded)
	})

	t.Run("budget is consumed, never replenished mid-round", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, 1_000_000)
		belowPeg(t, f, "0.8")

		left := f.tr.Status().ContractionLeft
		for i := 0; i < 3; i++ {
			require.NoError(t, f.tr.BuyBonds(ctx, chain.Direct("whale"), decimal.NewFromInt(1000), dec("0.8")))
			f.clock.NextSlot()
			next := f.tr.Status().ContractionLeft
			assert.True(t, next.Equal(left.Sub(decimal.NewFromInt(1000))))
			left = next
		}
	})

	t.Run("debt ceiling holds for every intermediate state", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, 1_000_000)
		belowPeg(t, f, "0.9")

		maxDebtRatio := f.store.Current().MaxDebtRatio
		for i := 0; i < 5; i++ {
			err := f.tr.BuyBonds(ctx, chain.Direct("whale"), decimal.NewFromInt(60_000), dec("0.9"))
			f.clock.NextSlot()
			if err != nil {
				assert.ErrorIs(t, err, treasury.ErrDebtCeiling)
			}

			bondSupply, _ := f.bonds.TotalSupply(ctx)
			cashSupply, _ := f.cash.TotalSupply(ctx)
			assert.True(t, bondSupply.LessThanOrEqual(cashSupply.Mul(maxDebtRatio)),
				"bond supply %s exceeds ceiling of %s", bondSupply, cashSupply.Mul(maxDebtRatio))
		}
	})
}

func TestRedeemBonds(t *testing.T) {
	ctx := context.Background()

	// chargedFixture returns a fixture holding both outstanding bonds and
	// a funded reserve.
	chargedFixture := func(t *testing.T) *fixture {
		f := newFixture(t)
		f.seed(t, 1_000_000)
		require.NoError(t, f.store.SetBootstrapRounds(ctx, 0))
		require.NoError(t, f.bonds.Mint(ctx, "bob", decimal.NewFromInt(100_000)))

		// Debt-phase epoch builds the reserve (90,000 at price 1.2).
		f.orc.SetPrice(dec("1.2"))
		require.NoError(t, f.trigger(t, "keeper"))
		return f
	}

	t.Run("above peg pays the premium from the reserve", func(t *testing.T) {
		f := chargedFixture(t)
		f.orc.SetPrice(dec("1.1"))

		reserveBefore := f.tr.Status().Reserve
		require.NoError(t, f.tr.RedeemBonds(ctx, chain.Direct("bob"), decimal.NewFromInt(10_000), dec("1.1")))

		// Premium = price/peg = 1.1.
		cashBal, _ := f.cash.BalanceOf(ctx, "bob")
		assert.True(t, cashBal.Equal(decimal.NewFromInt(11_000)), "got %s", cashBal)

		bondBal, _ := f.bonds.BalanceOf(ctx, "bob")
		assert.True(t, bondBal.Equal(decimal.NewFromInt(90_000)))

		reserve := f.tr.Status().Reserve
		assert.True(t, reserve.Equal(reserveBefore.Sub(decimal.NewFromInt(11_000))))
		assert.False(t, reserve.IsNegative())
	})

	t.Run("payout above the reserve is rejected", func(t *testing.T) {
		f := chargedFixture(t)
		f.orc.SetPrice(dec("1.1"))

		// Reserve is 90,000; payout would be 99,000.
		err := f.tr.RedeemBonds(ctx, chain.Direct("bob"), decimal.NewFromInt(90_000), dec("1.1"))
		assert.ErrorIs(t, err, treasury.ErrReserveShort)
		assert.True(t, f.tr.Status().Reserve.Equal(decimal.NewFromInt(90_000)))
	})

	t.Run("below peg redemption mints at the penalty rate", func(t *testing.T) {
		f := chargedFixture(t)
		f.orc.SetPrice(dec("0.9"))

		supplyBefore, _ := f.cash.TotalSupply(ctx)
		require.NoError(t, f.tr.RedeemBonds(ctx, chain.Direct("bob"), decimal.NewFromInt(10_000), dec("0.9")))

		// Penalty rate 0.9: 9,000 cash, minted fresh.
		cashBal, _ := f.cash.BalanceOf(ctx, "bob")
		assert.True(t, cashBal.Equal(decimal.NewFromInt(9_000)), "got %s", cashBal)

		supplyAfter, _ := f.cash.TotalSupply(ctx)
		assert.True(t, supplyAfter.Equal(supplyBefore.Add(decimal.NewFromInt(9_000))))
		assert.True(t, f.tr.Status().Reserve.Equal(decimal.NewFromInt(90_000)))
	})

	t.Run("rejects a stale quote", func(t *testing.T) {
		f := chargedFixture(t)
		f.orc.SetPrice(dec("1.1"))

		err := f.tr.RedeemBonds(ctx, chain.Direct("bob"), decimal.NewFromInt(100), dec("1.2"))
		assert.ErrorIs(t, err, treasury.ErrStaleQuote)
	})

	t.Run("rejects zero amount", func(t *testing.T) {
		f := chargedFixture(t)

		err := f.tr.RedeemBonds(ctx, chain.Direct("bob"), decimal.Zero, dec("1.2"))
		assert.ErrorIs(t, err, treasury.ErrZeroAmount)
	})
}

func TestGuardAcrossEntryPoints(t *testing.T) {
	ctx := context.Background()

	t.Run("trigger then bond purchase in one slot is rejected", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, 1_000_000)
		require.NoError(t, f.store.SetBootstrapRounds(ctx, 0))
		f.orc.SetPrice(dec("0.8"))

		require.NoError(t, f.tr.TriggerEpoch(ctx, chain.Direct("whale")))

		err := f.tr.BuyBonds(ctx, chain.Direct("whale"), decimal.NewFromInt(100), dec("0.8"))
		assert.ErrorIs(t, err, guard.ErrSlotTaken)
	})

	t.Run("bond purchase then stake in one slot is rejected", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, 1_000_000)
		belowPeg(t, f, "0.8")

		require.NoError(t, f.tr.BuyBonds(ctx, chain.Direct("whale"), decimal.NewFromInt(100), dec("0.8")))

		require.NoError(t, f.shares.Mint(ctx, "whale", decimal.NewFromInt(10)))
		err := f.board.Stake(ctx, chain.Direct("whale"), decimal.NewFromInt(10))
		assert.ErrorIs(t, err, guard.ErrSlotTaken)
	})
}

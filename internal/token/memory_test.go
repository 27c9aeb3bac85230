package token

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemLedgerMintBurn(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger("cash")

	require.NoError(t, l.Mint(ctx, "alice", decimal.NewFromInt(100)))

	bal, err := l.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(100)))

	supply, err := l.TotalSupply(ctx)
	require.NoError(t, err)
	assert.True(t, supply.Equal(decimal.NewFromInt(100)))

	require.NoError(t, l.Burn(ctx, "alice", decimal.NewFromInt(40)))
	bal, _ = l.BalanceOf(ctx, "alice")
	supply, _ = l.TotalSupply(ctx)
	assert.True(t, bal.Equal(decimal.NewFromInt(60)))
	assert.True(t, supply.Equal(decimal.NewFromInt(60)))
}

func TestMemLedgerRejectsBadAmounts(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger("cash")

	assert.ErrorIs(t, l.Mint(ctx, "alice", decimal.Zero), ErrInvalidAmount)
	assert.ErrorIs(t, l.Burn(ctx, "alice", decimal.NewFromInt(-1)), ErrInvalidAmount)
	assert.ErrorIs(t, l.Burn(ctx, "alice", decimal.NewFromInt(1)), ErrInsufficientBalance)
}

func TestMemLedgerTransfer(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger("cash")
	require.NoError(t, l.Mint(ctx, "alice", decimal.NewFromInt(50)))

	t.Run("moves balance without changing supply", func(t *testing.T) {
		require.NoError(t, l.Transfer(ctx, "alice", "bob", decimal.NewFromInt(20)))

		aliceBal, _ := l.BalanceOf(ctx, "alice")
		bobBal, _ := l.BalanceOf(ctx, "bob")
		supply, _ := l.TotalSupply(ctx)
		assert.True(t, aliceBal.Equal(decimal.NewFromInt(30)))
		assert.True(t, bobBal.Equal(decimal.NewFromInt(20)))
		assert.True(t, supply.Equal(decimal.NewFromInt(50)))
	})

	t.Run("rejects overdraw", func(t *testing.T) {
		err := l.Transfer(ctx, "alice", "bob", decimal.NewFromInt(1000))
		assert.ErrorIs(t, err, ErrInsufficientBalance)
	})
}

func TestMemLedgerConcurrentMints(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger("cash")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Mint(ctx, "alice", decimal.NewFromInt(1))
		}()
	}
	wg.Wait()

	supply, _ := l.TotalSupply(ctx)
	assert.True(t, supply.Equal(decimal.NewFromInt(100)))
}

package token

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// MemLedger is an in-memory Ledger used by tests and local single-node runs.
type MemLedger struct {
	denom    string
	mu       sync.RWMutex
	balances map[string]decimal.Decimal
	supply   decimal.Decimal
}

func NewMemLedger(denom string) *MemLedger {
	return &MemLedger{
		denom:    denom,
		balances: make(map[string]decimal.Decimal),
		supply:   decimal.Zero,
	}
}

func (l *MemLedger) Denom() string { return l.denom }

func (l *MemLedger) Mint(ctx context.Context, to string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances[to] = l.balances[to].Add(amount)
	l.supply = l.supply.Add(amount)
	return nil
}

func (l *MemLedger) Burn(ctx context.Context, from string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balances[from]
	if bal.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s %s, burning %s", ErrInsufficientBalance, from, bal, l.denom, amount)
	}
	l.balances[from] = bal.Sub(amount)
	l.supply = l.supply.Sub(amount)
	return nil
}

func (l *MemLedger) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balances[from]
	if bal.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s %s, sending %s", ErrInsufficientBalance, from, bal, l.denom, amount)
	}
	l.balances[from] = bal.Sub(amount)
	l.balances[to] = l.balances[to].Add(amount)
	return nil
}

func (l *MemLedger) BalanceOf(ctx context.Context, account string) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[account], nil
}

func (l *MemLedger) TotalSupply(ctx context.Context) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.supply, nil
}

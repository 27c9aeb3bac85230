// Package token provides the fungible ledgers the policy engine operates on.
// The engine itself never stores balances; it issues mint/burn/transfer
// commands against a Ledger and trusts the ledger's own accounting.
package token

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrNotOperator         = errors.New("caller is not the ledger operator")
)

// Ledger is a fungible-token ledger. Mutating operations are restricted to
// the configured operator identity (the treasury, once wired).
type Ledger interface {
	Denom() string
	Mint(ctx context.Context, to string, amount decimal.Decimal) error
	Burn(ctx context.Context, from string, amount decimal.Decimal) error
	Transfer(ctx context.Context, from, to string, amount decimal.Decimal) error
	BalanceOf(ctx context.Context, account string) (decimal.Decimal, error)
	TotalSupply(ctx context.Context) (decimal.Decimal, error)
}

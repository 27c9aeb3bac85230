// Package oracle reads the cash asset's price against the reference unit.
// The policy engine treats any oracle failure as fatal to the enclosing
// action; there is no cached fallback inside the engine itself.
package oracle

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var ErrNoPrice = errors.New("no price observation available")

// Oracle supplies spot and time-weighted prices.
type Oracle interface {
	// Consult returns the current spot price.
	Consult(ctx context.Context) (decimal.Decimal, error)
	// TWAP returns the time-weighted average price over the oracle's
	// configured window.
	TWAP(ctx context.Context) (decimal.Decimal, error)
	// Update refreshes the oracle's internal window.
	Update(ctx context.Context) error
}

// Static is a hand-driven oracle for tests and local runs.
type Static struct {
	Spot decimal.Decimal
	Twap decimal.Decimal
	Err  error
}

func (s *Static) Consult(ctx context.Context) (decimal.Decimal, error) {
	if s.Err != nil {
		return decimal.Zero, s.Err
	}
	return s.Spot, nil
}

func (s *Static) TWAP(ctx context.Context) (decimal.Decimal, error) {
	if s.Err != nil {
		return decimal.Zero, s.Err
	}
	return s.Twap, nil
}

func (s *Static) Update(ctx context.Context) error { return s.Err }

// SetPrice moves both spot and TWAP, the common case in tests.
func (s *Static) SetPrice(p decimal.Decimal) {
	s.Spot = p
	s.Twap = p
}

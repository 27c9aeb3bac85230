// Package exchange converts between assets through an external AMM router.
// The boardroom uses it to settle reward claims; the policy engine never
// routes orders itself.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/terminal-bench/pegflow/pkg/circuit"
)

var ErrSwapRejected = errors.New("swap rejected by router")

// Exchange swaps amountIn of tokenIn for tokenOut, honoring minAmountOut.
// The router delivers the output directly to recipient.
type Exchange interface {
	Swap(ctx context.Context, tokenIn string, amountIn decimal.Decimal, tokenOut string, minAmountOut decimal.Decimal, recipient string) (decimal.Decimal, error)
}

// Router calls an external AMM router over HTTP, breaker-wrapped so a dead
// router fails fast instead of stalling reward claims.
type Router struct {
	baseURL string
	client  *http.Client
	breaker *circuit.Breaker
}

func NewRouter(baseURL string, timeout time.Duration) *Router {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Router{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		breaker: circuit.NewBreaker(circuit.Config{
			Name:        "amm-router",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			HalfOpenMax: 2,
		}),
	}
}

type swapRequest struct {
	TokenIn      string `json:"token_in"`
	AmountIn     string `json:"amount_in"`
	TokenOut     string `json:"token_out"`
	MinAmountOut string `json:"min_amount_out"`
	Recipient    string `json:"recipient"`
}

type swapResponse struct {
	AmountOut string `json:"amount_out"`
	Error     string `json:"error,omitempty"`
}

func (r *Router) Swap(ctx context.Context, tokenIn string, amountIn decimal.Decimal, tokenOut string, minAmountOut decimal.Decimal, recipient string) (decimal.Decimal, error) {
	payload, err := json.Marshal(swapRequest{
		TokenIn:      tokenIn,
		AmountIn:     amountIn.String(),
		TokenOut:     tokenOut,
		MinAmountOut: minAmountOut.String(),
		Recipient:    recipient,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to encode swap: %w", err)
	}

	var out decimal.Decimal
	err = r.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/swap", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			return fmt.Errorf("router unreachable: %w", err)
		}
		defer resp.Body.Close()

		var body swapResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("malformed router response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%w: %s", ErrSwapRejected, body.Error)
		}

		out, err = decimal.NewFromString(body.AmountOut)
		if err != nil {
			return fmt.Errorf("malformed amount_out %q: %w", body.AmountOut, err)
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	if out.LessThan(minAmountOut) {
		return decimal.Zero, fmt.Errorf("%w: output %s below minimum %s", ErrSwapRejected, out, minAmountOut)
	}
	return out, nil
}

// Fixed is a deterministic exchange for tests: every swap fills at Rate.
type Fixed struct {
	Rate decimal.Decimal
	Err  error

	// Calls records swap inputs for assertions.
	Calls []decimal.Decimal
}

func (f *Fixed) Swap(ctx context.Context, tokenIn string, amountIn decimal.Decimal, tokenOut string, minAmountOut decimal.Decimal, recipient string) (decimal.Decimal, error) {
	if f.Err != nil {
		return decimal.Zero, f.Err
	}
	f.Calls = append(f.Calls, amountIn)
	out := amountIn.Mul(f.Rate)
	if out.LessThan(minAmountOut) {
		return decimal.Zero, ErrSwapRejected
	}
	return out, nil
}

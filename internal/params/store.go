package params

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// Store holds the live parameter set. Updates are validated, applied to the
// in-memory copy, and persisted to etcd so every pegflow instance converges
// on the same configuration. A Store with a nil etcd client is purely
// in-memory, which is what tests use.
type Store struct {
	mu      sync.RWMutex
	current Params

	etcd *clientv3.Client
	key  string
}

// NewStore creates a store seeded with p.
func NewStore(p Params, etcd *clientv3.Client, key string) (*Store, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if key == "" {
		key = "/pegflow/params"
	}
	return &Store{current: p, etcd: etcd, key: key}, nil
}

// Current returns a copy of the live parameters.
func (s *Store) Current() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Load replaces the in-memory set with the persisted one, if present.
func (s *Store) Load(ctx context.Context) error {
	if s.etcd == nil {
		return nil
	}
	resp, err := s.etcd.Get(ctx, s.key)
	if err != nil {
		return fmt.Errorf("failed to load params: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil
	}
	var p Params
	if err := json.Unmarshal(resp.Kvs[0].Value, &p); err != nil {
		return fmt.Errorf("failed to decode params: %w", err)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("persisted params invalid: %w", err)
	}
	s.mu.Lock()
	s.current = p
	s.mu.Unlock()
	return nil
}

// Watch follows remote parameter updates until ctx is cancelled. Invalid
// payloads are ignored; the last valid set stays live.
func (s *Store) Watch(ctx context.Context) {
	if s.etcd == nil {
		return
	}
	ch := s.etcd.Watch(ctx, s.key)
	for resp := range ch {
		for _, ev := range resp.Events {
			var p Params
			if err := json.Unmarshal(ev.Kv.Value, &p); err != nil {
				continue
			}
			if p.Validate() != nil {
				continue
			}
			s.mu.Lock()
			s.current = p
			s.mu.Unlock()
		}
	}
}

func (s *Store) update(ctx context.Context, mutate func(*Params)) error {
	s.mu.Lock()
	next := s.current
	mutate(&next)
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.current = next
	s.mu.Unlock()

	if s.etcd == nil {
		return nil
	}
	payload, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}
	if _, err := s.etcd.Put(ctx, s.key, string(payload)); err != nil {
		return fmt.Errorf("failed to persist params: %w", err)
	}
	return nil
}

// Setters. Each delegates range enforcement to Params.Validate; an
// out-of-range value is rejected without touching the live set.

func (s *Store) SetPeg(ctx context.Context, v decimal.Decimal) error {
	return s.update(ctx, func(p *Params) { p.Peg = v })
}

func (s *Store) SetBootstrapRounds(ctx context.Context, v int64) error {
	return s.update(ctx, func(p *Params) { p.BootstrapRounds = v })
}

func (s *Store) SetBootstrapRate(ctx context.Context, v decimal.Decimal) error {
	return s.update(ctx, func(p *Params) { p.BootstrapRate = v })
}

func (s *Store) SetExpansionRate(ctx context.Context, v decimal.Decimal) error {
	return s.update(ctx, func(p *Params) { p.ExpansionRate = v })
}

func (s *Store) SetMaxExpansionRate(ctx context.Context, v decimal.Decimal) error {
	return s.update(ctx, func(p *Params) { p.MaxExpansionRate = v })
}

func (s *Store) SetMaxExpansionRateDebtPhase(ctx context.Context, v decimal.Decimal) error {
	return s.update(ctx, func(p *Params) { p.MaxExpansionRateDebtPhase = v })
}

func (s *Store) SetDepletionFloorRatio(ctx context.Context, v decimal.Decimal) error {
	return s.update(ctx, func(p *Params) { p.DepletionFloorRatio = v })
}

func (s *Store) SetSeigniorageFloorRatio(ctx context.Context, v decimal.Decimal) error {
	return s.update(ctx, func(p *Params) { p.SeigniorageFloorRatio = v })
}

func (s *Store) SetDebtPaydownMultiplier(ctx context.Context, v decimal.Decimal) error {
	return s.update(ctx, func(p *Params) { p.DebtPaydownMultiplier = v })
}

func (s *Store) SetContractionCap(ctx context.Context, v decimal.Decimal) error {
	return s.update(ctx, func(p *Params) { p.ContractionCap = v })
}

func (s *Store) SetMaxDebtRatio(ctx context.Context, v decimal.Decimal) error {
	return s.update(ctx, func(p *Params) { p.MaxDebtRatio = v })
}

func (s *Store) SetBuybackRate(ctx context.Context, v decimal.Decimal) error {
	return s.update(ctx, func(p *Params) { p.BuybackRate = v })
}

func (s *Store) SetMaxBuybackCap(ctx context.Context, v decimal.Decimal) error {
	return s.update(ctx, func(p *Params) { p.MaxBuybackCap = v })
}

func (s *Store) SetTriggerSalary(ctx context.Context, v decimal.Decimal) error {
	return s.update(ctx, func(p *Params) { p.TriggerSalary = v })
}

func (s *Store) SetMaxDiscountRate(ctx context.Context, v decimal.Decimal) error {
	return s.update(ctx, func(p *Params) { p.MaxDiscountRate = v })
}

func (s *Store) SetMaxPremiumRate(ctx context.Context, v decimal.Decimal) error {
	return s.update(ctx, func(p *Params) { p.MaxPremiumRate = v })
}

func (s *Store) SetRedemptionPenaltyRate(ctx context.Context, v decimal.Decimal) error {
	return s.update(ctx, func(p *Params) { p.RedemptionPenaltyRate = v })
}

func (s *Store) SetWithdrawLockupRounds(ctx context.Context, v int64) error {
	return s.update(ctx, func(p *Params) { p.WithdrawLockupRounds = v })
}

func (s *Store) SetRewardLockupRounds(ctx context.Context, v int64) error {
	return s.update(ctx, func(p *Params) { p.RewardLockupRounds = v })
}

package messaging

import (
	"time"

	"github.com/google/uuid"
)

// Event subjects
const (
	EventTypeEpochTriggered = "policy.epoch_triggered"
	EventTypeBondsBought    = "policy.bonds_bought"
	EventTypeBondsRedeemed  = "policy.bonds_redeemed"
	EventTypeTreasuryFunded = "policy.treasury_funded"
	EventTypeBuybackFunded  = "policy.buyback_funded"
	EventTypeSalaryPaid     = "policy.salary_paid"

	EventTypeStaked      = "board.staked"
	EventTypeWithdrawn   = "board.withdrawn"
	EventTypeRewardPaid  = "board.reward_paid"
	EventTypeRewardAdded = "board.reward_added"
)

// EpochEvent records one epoch trigger and its policy decision. Amounts are
// decimal strings.
type EpochEvent struct {
	EventID         uuid.UUID `json:"event_id"`
	Caller          string    `json:"caller"`
	Round           int64     `json:"round"`
	TwapPrice       string    `json:"twap_price"`
	Distributable   string    `json:"distributable"`
	BoardroomFunded string    `json:"boardroom_funded"`
	ReserveFunded   string    `json:"reserve_funded"`
	BuybackFunded   string    `json:"buyback_funded"`
	ContractionLeft string    `json:"contraction_left"`
	Timestamp       time.Time `json:"timestamp"`
}

// BondEvent records a bond purchase or redemption.
type BondEvent struct {
	EventID     uuid.UUID `json:"event_id"`
	Caller      string    `json:"caller"`
	CashAmount  string    `json:"cash_amount"`
	BondAmount  string    `json:"bond_amount"`
	TargetPrice string    `json:"target_price"`
	Timestamp   time.Time `json:"timestamp"`
}

// StakeEvent records a boardroom stake or withdrawal.
type StakeEvent struct {
	EventID   uuid.UUID `json:"event_id"`
	Staker    string    `json:"staker"`
	Amount    string    `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// RewardEvent records a reward payout or a seigniorage allocation.
type RewardEvent struct {
	EventID        uuid.UUID `json:"event_id"`
	Account        string    `json:"account"`
	Amount         string    `json:"amount"`
	RewardPerShare string    `json:"reward_per_share,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

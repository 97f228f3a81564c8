package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// LotteryStatus tracks the raffle lifecycle of a disaster's unclaimed
// surplus. completed is only ever reached through triggered.
type LotteryStatus string

const (
	LotteryPending   LotteryStatus = "pending"
	LotteryTriggered LotteryStatus = "triggered"
	LotteryCompleted LotteryStatus = "completed"
)

// ClaimState tracks a claim through settlement. approved and rejected
// are terminal; pending_settlement marks a vote accepted but the ledger
// step not yet confirmed.
type ClaimState string

const (
	ClaimVoting            ClaimState = "voting"
	ClaimPendingSettlement ClaimState = "pending_settlement"
	ClaimApproved          ClaimState = "approved"
	ClaimRejected          ClaimState = "rejected"
)

// DisasterRecord mirrors a disaster registered on-chain. Only the raffle
// scheduler mutates it; records are never deleted.
type DisasterRecord struct {
	DisasterHash  string
	Title         string
	Description   string
	CreatedAt     time.Time
	LotteryStatus LotteryStatus
	LotteryEnd    *time.Time
	LotteryTxRef  *string
	PrizeNote     *string
}

// ClaimRecord is an organization's request to withdraw funds against a
// disaster's pool. Mutated exclusively by the settlement engine.
type ClaimRecord struct {
	ClaimID             string
	DisasterHash        string
	OrganizationAddress string
	ClaimedAmountUSD    *decimal.Decimal
	Reason              string
	ClaimState          ClaimState
	SettlementTxRef     *string
	SettledBlock        *int64
	UpdatedAt           time.Time
}

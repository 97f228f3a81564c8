package settlement

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"godshand-relief/internal/fault"
	"godshand-relief/internal/storage"
)

// Decision is the external vote outcome applied to a claim.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionHigher  Decision = "higher"
	DecisionLower   Decision = "lower"
)

// ParseDecision validates a raw decision value.
func ParseDecision(raw string) (Decision, error) {
	switch Decision(strings.ToLower(strings.TrimSpace(raw))) {
	case DecisionApprove:
		return DecisionApprove, nil
	case DecisionReject:
		return DecisionReject, nil
	case DecisionHigher:
		return DecisionHigher, nil
	case DecisionLower:
		return DecisionLower, nil
	default:
		return "", fault.New(fault.InvalidArgument, "unrecognised decision %q", raw)
	}
}

// Outcome is the structured result of one settlement operation, consumed
// by the calling surface.
type Outcome struct {
	ClaimID        string             `json:"claim_id"`
	DisasterHash   string             `json:"disaster_hash"`
	State          storage.ClaimState `json:"state"`
	AmountUSD      *decimal.Decimal   `json:"amount_usd,omitempty"`
	TxRef          *string            `json:"tx_ref,omitempty"`
	Block          *int64             `json:"block,omitempty"`
	AlreadySettled bool               `json:"already_settled,omitempty"`
}

func (o Outcome) String() string {
	return fmt.Sprintf("claim %s -> %s", o.ClaimID, o.State)
}

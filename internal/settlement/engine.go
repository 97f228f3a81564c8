package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"godshand-relief/internal/agent"
	"godshand-relief/internal/decode"
	"godshand-relief/internal/fault"
	"godshand-relief/internal/ledger"
	"godshand-relief/internal/rates"
	"godshand-relief/internal/storage"
)

// Engine drives claims through the settlement state machine. Claimed
// amounts are always USD; conversion to token units happens only at the
// ledger boundary.
type Engine struct {
	claims storage.ClaimStore
	chain  ledger.Client
	prices rates.PriceFetcher
	agent  agent.Prompter
	logger zerolog.Logger
}

// New constructs a settlement engine.
func New(claims storage.ClaimStore, chain ledger.Client, prices rates.PriceFetcher, prompter agent.Prompter, logger zerolog.Logger) *Engine {
	return &Engine{
		claims: claims,
		chain:  chain,
		prices: prices,
		agent:  prompter,
		logger: logger.With().Str("component", "settlement").Logger(),
	}
}

// Process applies one vote decision to a claim. Approval is two-phase:
// the claim moves voting -> pending_settlement before the ledger call,
// and only a confirmed receipt advances it to approved. A failed ledger
// step leaves the claim in pending_settlement for Reconcile to retry.
func (e *Engine) Process(ctx context.Context, claimID, disasterHash string, decision Decision) (Outcome, error) {
	rec, err := e.claims.GetClaim(ctx, claimID)
	if errors.Is(err, storage.ErrNotFound) {
		return Outcome{}, fault.New(fault.NotFound, "claim %s unknown", claimID)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("read claim: %w", err)
	}
	if disasterHash != "" && rec.DisasterHash != disasterHash {
		return Outcome{}, fault.New(fault.InvalidArgument, "claim %s belongs to disaster %s, not %s", claimID, rec.DisasterHash, disasterHash)
	}

	switch decision {
	case DecisionApprove:
		return e.approve(ctx, rec)
	case DecisionReject:
		return e.reject(ctx, rec)
	case DecisionHigher, DecisionLower:
		return e.revise(ctx, rec, decision)
	default:
		return Outcome{}, fault.New(fault.InvalidArgument, "unrecognised decision %q", decision)
	}
}

func (e *Engine) approve(ctx context.Context, rec storage.ClaimRecord) (Outcome, error) {
	moved, err := e.claims.TransitionClaimState(ctx, rec.ClaimID, storage.ClaimVoting, storage.ClaimPendingSettlement)
	if err != nil {
		return Outcome{}, fmt.Errorf("mark claim pending: %w", err)
	}
	if !moved {
		// The voting phase is over for this claim. An approved claim is
		// returned as-is rather than unlocked a second time; a claim
		// stuck in pending_settlement resumes the ledger step.
		current, err := e.claims.GetClaim(ctx, rec.ClaimID)
		if err != nil {
			return Outcome{}, fmt.Errorf("re-read claim: %w", err)
		}
		switch current.ClaimState {
		case storage.ClaimApproved:
			e.logger.Info().Str("claim", rec.ClaimID).Msg("claim already settled, skipping ledger submission")
			return outcomeFromRecord(current, true), nil
		case storage.ClaimPendingSettlement:
			rec = current
		default:
			return Outcome{}, fault.New(fault.InvalidArgument, "claim %s is %s, cannot approve", rec.ClaimID, current.ClaimState)
		}
	} else {
		rec.ClaimState = storage.ClaimPendingSettlement
	}

	return e.settle(ctx, rec)
}

// settle performs the ledger half of an approval for a claim already in
// pending_settlement.
func (e *Engine) settle(ctx context.Context, rec storage.ClaimRecord) (Outcome, error) {
	if rec.OrganizationAddress == "" {
		return Outcome{}, fault.New(fault.MissingData, "claim %s has no organization address", rec.ClaimID)
	}
	if !common.IsHexAddress(rec.OrganizationAddress) {
		return Outcome{}, fault.New(fault.InvalidArgument, "claim %s organization address %q is not a valid address", rec.ClaimID, rec.OrganizationAddress)
	}
	if rec.ClaimedAmountUSD == nil {
		return Outcome{}, fault.New(fault.MissingData, "claim %s has no claimed amount", rec.ClaimID)
	}

	price, ok := e.prices.TokenPriceUSD(ctx)
	if !ok {
		return Outcome{}, fault.New(fault.RateUnavailable, "price oracle unavailable for claim %s", rec.ClaimID)
	}

	tokens, ok := rates.ConvertUSDToToken(*rec.ClaimedAmountUSD, price, true)
	if !ok {
		return Outcome{}, fault.New(fault.RateUnavailable, "conversion unavailable for claim %s", rec.ClaimID)
	}
	units := rates.ToSmallestUnit(tokens)

	hash := common.HexToHash(rec.DisasterHash)
	recipient := common.HexToAddress(rec.OrganizationAddress)

	result, err := e.chain.UnlockFunds(ctx, hash, recipient, units)
	if err != nil {
		// The claim stays pending_settlement: visible partial progress
		// for the reconciliation pass.
		return Outcome{}, fault.Wrap(fault.LedgerFailure, err, "unlock funds for claim %s", rec.ClaimID)
	}

	block := int64(result.BlockNumber)
	recorded, err := e.claims.RecordSettlement(ctx, rec.ClaimID, result.TxHash, block)
	if err != nil {
		return Outcome{}, fmt.Errorf("record settlement for claim %s (tx %s): %w", rec.ClaimID, result.TxHash, err)
	}
	if !recorded {
		// Another pass recorded first; report the reference the store
		// holds, not this submission's.
		e.logger.Warn().Str("claim", rec.ClaimID).Str("tx", result.TxHash).Msg("settlement already recorded elsewhere")
		current, err := e.claims.GetClaim(ctx, rec.ClaimID)
		if err != nil {
			return Outcome{}, fmt.Errorf("re-read claim %s: %w", rec.ClaimID, err)
		}
		return outcomeFromRecord(current, true), nil
	}

	e.logger.Info().
		Str("claim", rec.ClaimID).
		Str("tx", result.TxHash).
		Int64("block", block).
		Str("amount_usd", rec.ClaimedAmountUSD.String()).
		Msg("claim settled")

	txRef := result.TxHash
	return Outcome{
		ClaimID:      rec.ClaimID,
		DisasterHash: rec.DisasterHash,
		State:        storage.ClaimApproved,
		AmountUSD:    rec.ClaimedAmountUSD,
		TxRef:        &txRef,
		Block:        &block,
	}, nil
}

func (e *Engine) reject(ctx context.Context, rec storage.ClaimRecord) (Outcome, error) {
	moved, err := e.claims.TransitionClaimState(ctx, rec.ClaimID, storage.ClaimVoting, storage.ClaimRejected)
	if err != nil {
		return Outcome{}, fmt.Errorf("reject claim: %w", err)
	}
	if !moved {
		current, err := e.claims.GetClaim(ctx, rec.ClaimID)
		if err != nil {
			return Outcome{}, fmt.Errorf("re-read claim: %w", err)
		}
		if current.ClaimState == storage.ClaimRejected {
			return outcomeFromRecord(current, true), nil
		}
		return Outcome{}, fault.New(fault.InvalidArgument, "claim %s is %s, cannot reject", rec.ClaimID, current.ClaimState)
	}

	e.logger.Info().Str("claim", rec.ClaimID).Msg("claim rejected")
	return Outcome{ClaimID: rec.ClaimID, DisasterHash: rec.DisasterHash, State: storage.ClaimRejected}, nil
}

// revise asks the reasoning agent for a corrected amount and returns the
// claim to voting. This is the only transition back to a non-terminal
// state.
func (e *Engine) revise(ctx context.Context, rec storage.ClaimRecord, decision Decision) (Outcome, error) {
	if rec.ClaimState != storage.ClaimVoting {
		return Outcome{}, fault.New(fault.InvalidArgument, "claim %s is %s, cannot revise", rec.ClaimID, rec.ClaimState)
	}

	current := "unspecified"
	if rec.ClaimedAmountUSD != nil {
		current = rec.ClaimedAmountUSD.String()
	}

	direction := "higher"
	if decision == DecisionLower {
		direction = "lower"
	}

	prompt := fmt.Sprintf(
		"An organization claimed %s USD in disaster relief. Reason given: %q. "+
			"Voters decided the amount should be %s. Reply with a single revised USD amount.",
		current, rec.Reason, direction,
	)

	reply, err := e.agent.Ask(ctx, prompt)
	if err != nil {
		return Outcome{}, fmt.Errorf("ask reasoning agent for claim %s: %w", rec.ClaimID, err)
	}

	newAmount, err := revisedAmount(reply)
	if err != nil {
		return Outcome{}, fault.Wrap(fault.ParseError, err, "no usable amount in agent reply for claim %s", rec.ClaimID)
	}

	updated, err := e.claims.SetClaimAmount(ctx, rec.ClaimID, newAmount)
	if err != nil {
		return Outcome{}, fmt.Errorf("persist revised amount for claim %s: %w", rec.ClaimID, err)
	}
	if !updated {
		// The claim left voting during the agent round-trip; a stale
		// revision must not rewind an in-flight or finished settlement.
		return Outcome{}, fault.New(fault.InvalidArgument, "claim %s left voting during revision", rec.ClaimID)
	}

	e.logger.Info().
		Str("claim", rec.ClaimID).
		Str("direction", direction).
		Str("old_amount_usd", current).
		Str("new_amount_usd", newAmount.String()).
		Msg("claim amount revised, back to voting")

	return Outcome{
		ClaimID:      rec.ClaimID,
		DisasterHash: rec.DisasterHash,
		State:        storage.ClaimVoting,
		AmountUSD:    &newAmount,
	}, nil
}

// revisedAmount reads a dollar figure out of a free-text agent reply: a
// structured decode first, the first contiguous numeric run as fallback.
func revisedAmount(reply string) (decimal.Decimal, error) {
	if resp := decode.Decode(reply); resp.Amount != nil && resp.Amount.IsPositive() {
		return *resp.Amount, nil
	}
	amount, err := decode.ExtractFirstNumber(reply)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !amount.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("revised amount %s not positive", amount)
	}
	return amount, nil
}

// Reconcile retries the ledger step for claims stuck in
// pending_settlement without re-validating the vote. Per-claim failures
// are logged and skipped.
func (e *Engine) Reconcile(ctx context.Context) ([]Outcome, error) {
	pending, err := e.claims.ListClaimsByState(ctx, storage.ClaimPendingSettlement)
	if err != nil {
		return nil, fmt.Errorf("list pending claims: %w", err)
	}

	outcomes := make([]Outcome, 0, len(pending))
	for _, rec := range pending {
		outcome, err := e.settle(ctx, rec)
		if err != nil {
			e.logger.Error().Err(err).Str("claim", rec.ClaimID).Msg("reconcile: claim still unsettled")
			continue
		}
		outcomes = append(outcomes, outcome)
	}

	e.logger.Info().
		Int("pending", len(pending)).
		Int("settled", len(outcomes)).
		Msg("reconciliation pass complete")

	return outcomes, nil
}

func outcomeFromRecord(rec storage.ClaimRecord, already bool) Outcome {
	return Outcome{
		ClaimID:        rec.ClaimID,
		DisasterHash:   rec.DisasterHash,
		State:          rec.ClaimState,
		AmountUSD:      rec.ClaimedAmountUSD,
		TxRef:          rec.SettlementTxRef,
		Block:          rec.SettledBlock,
		AlreadySettled: already,
	}
}

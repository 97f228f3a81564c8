package ledger

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Failure modes callers must branch on. Each outcome from a submission
// wraps exactly one of these; none are silently swallowed.
var (
	// ErrConnect indicates the RPC endpoint could not be reached.
	ErrConnect = errors.New("ledger: connection failed")
	// ErrReverted indicates the transaction was mined with a failed status.
	ErrReverted = errors.New("ledger: transaction reverted")
	// ErrSignerMismatch indicates the signing key does not produce the
	// expected sender address.
	ErrSignerMismatch = errors.New("ledger: signer address mismatch")
	// ErrEventMissing indicates the expected event was absent from the
	// receipt logs.
	ErrEventMissing = errors.New("ledger: event absent from logs")
	// ErrConfirmTimeout indicates confirmation did not arrive within the
	// bounded wait; the submission may still land and is retryable as a
	// whole operation.
	ErrConfirmTimeout = errors.New("ledger: confirmation timed out")
)

// TxResult reports a confirmed submission.
type TxResult struct {
	TxHash      string
	BlockNumber uint64
	Events      map[string]map[string]any
}

// Client submits relief-fund contract transactions and blocks until they
// confirm or the bounded wait expires.
type Client interface {
	// UnlockFunds releases amount (in smallest token units) to recipient
	// against the disaster's pool.
	UnlockFunds(ctx context.Context, disasterHash [32]byte, recipient common.Address, amount *big.Int) (*TxResult, error)
	// TriggerLottery starts the delayed raffle payout for a disaster's
	// unclaimed surplus.
	TriggerLottery(ctx context.Context, disasterHash [32]byte) (*TxResult, error)
}

package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

const reliefFundABIJSON = `[
{"inputs":[{"internalType":"bytes32","name":"_disasterHash","type":"bytes32"},{"internalType":"uint256","name":"_amount","type":"uint256"},{"internalType":"address","name":"_recipient","type":"address"}],"name":"unlockFunds","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"bytes32","name":"_disasterHash","type":"bytes32"}],"name":"triggerLottery","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"anonymous":false,"inputs":[{"indexed":true,"internalType":"bytes32","name":"disasterHash","type":"bytes32"},{"indexed":true,"internalType":"address","name":"recipient","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"},{"indexed":true,"internalType":"address","name":"unlockedBy","type":"address"}],"name":"FundsUnlocked","type":"event"},
{"anonymous":false,"inputs":[{"indexed":true,"internalType":"bytes32","name":"disasterHash","type":"bytes32"},{"indexed":false,"internalType":"uint256","name":"endTime","type":"uint256"}],"name":"LotteryTriggered","type":"event"}
]`

var reliefFundABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(reliefFundABIJSON))
	if err != nil {
		panic("failed to parse relief fund ABI: " + err.Error())
	}
	reliefFundABI = parsed
}

const fallbackGasLimit = 300_000

// EVMOptions parameterise the on-chain client.
type EVMOptions struct {
	RPCURL          string
	ContractAddress string
	PrivateKey      string
	ChainID         int64
	RequestTimeout  time.Duration
	ConfirmTimeout  time.Duration
}

// EVM submits transactions against the relief-fund contract over
// Ethereum-compatible RPC.
type EVM struct {
	opts      EVMOptions
	logger    zerolog.Logger
	contract  common.Address
	key       *ecdsa.PrivateKey
	from      common.Address
	chainID   *big.Int
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewEVM builds an on-chain ledger client. The RPC connection is dialed
// lazily on first use.
func NewEVM(opts EVMOptions, logger zerolog.Logger) (*EVM, error) {
	if opts.RPCURL == "" {
		return nil, errors.New("ledger rpc url not configured")
	}
	if !common.IsHexAddress(opts.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", opts.ContractAddress)
	}
	if opts.ChainID <= 0 {
		return nil, errors.New("chain id not configured")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(opts.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}

	return &EVM{
		opts:     opts,
		logger:   logger.With().Str("component", "ledger").Logger(),
		contract: common.HexToAddress(opts.ContractAddress),
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:  big.NewInt(opts.ChainID),
	}, nil
}

// UnlockFunds releases funds to an organization for a disaster.
func (e *EVM) UnlockFunds(ctx context.Context, disasterHash [32]byte, recipient common.Address, amount *big.Int) (*TxResult, error) {
	payload, err := reliefFundABI.Pack("unlockFunds", disasterHash, amount, recipient)
	if err != nil {
		return nil, err
	}
	return e.submit(ctx, payload, "FundsUnlocked")
}

// TriggerLottery starts the raffle payout for a disaster.
func (e *EVM) TriggerLottery(ctx context.Context, disasterHash [32]byte) (*TxResult, error) {
	payload, err := reliefFundABI.Pack("triggerLottery", disasterHash)
	if err != nil {
		return nil, err
	}
	return e.submit(ctx, payload, "LotteryTriggered")
}

// submit signs, sends, and waits for confirmation of a contract call,
// then decodes the expected event out of the receipt.
func (e *EVM) submit(ctx context.Context, payload []byte, eventName string) (*TxResult, error) {
	requestCtx, cancel := e.withTimeout(ctx, e.opts.RequestTimeout)
	defer cancel()

	client, err := e.getClient(requestCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	nonce, err := client.PendingNonceAt(requestCtx, e.from)
	if err != nil {
		return nil, fmt.Errorf("%w: pending nonce: %v", ErrConnect, err)
	}

	gasPrice, err := client.SuggestGasPrice(requestCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: suggest gas price: %v", ErrConnect, err)
	}

	gasLimit := uint64(fallbackGasLimit)
	estimate, err := client.EstimateGas(requestCtx, ethereum.CallMsg{
		From: e.from,
		To:   &e.contract,
		Data: payload,
	})
	if err == nil && estimate > 0 {
		gasLimit = estimate
	}

	tx := types.NewTransaction(nonce, e.contract, big.NewInt(0), gasLimit, gasPrice, payload)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(e.chainID), e.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	sender, err := types.Sender(types.NewEIP155Signer(e.chainID), signed)
	if err != nil || sender != e.from {
		return nil, fmt.Errorf("%w: recovered %s, expected %s", ErrSignerMismatch, sender, e.from)
	}

	if err := client.SendTransaction(requestCtx, signed); err != nil {
		return nil, fmt.Errorf("%w: send: %v", ErrConnect, err)
	}

	e.logger.Info().
		Str("tx", signed.Hash().Hex()).
		Str("event", eventName).
		Msg("transaction submitted, waiting for confirmation")

	confirmCtx, cancelConfirm := e.withTimeout(ctx, e.opts.ConfirmTimeout)
	defer cancelConfirm()

	receipt, err := bind.WaitMined(confirmCtx, client, signed)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrConfirmTimeout, signed.Hash().Hex())
		}
		return nil, fmt.Errorf("%w: wait mined: %v", ErrConnect, err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: tx %s in block %d", ErrReverted, signed.Hash().Hex(), receipt.BlockNumber)
	}

	fields, err := decodeEvent(receipt, eventName)
	if err != nil {
		return nil, err
	}

	return &TxResult{
		TxHash:      signed.Hash().Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		Events:      map[string]map[string]any{eventName: fields},
	}, nil
}

// decodeEvent extracts the named event's fields from receipt logs,
// including indexed topics.
func decodeEvent(receipt *types.Receipt, name string) (map[string]any, error) {
	event, ok := reliefFundABI.Events[name]
	if !ok {
		return nil, fmt.Errorf("unknown event %q", name)
	}

	for _, entry := range receipt.Logs {
		if len(entry.Topics) == 0 || entry.Topics[0] != event.ID {
			continue
		}

		fields := make(map[string]any)
		if len(entry.Data) > 0 {
			if err := reliefFundABI.UnpackIntoMap(fields, name, entry.Data); err != nil {
				return nil, fmt.Errorf("unpack %s data: %w", name, err)
			}
		}

		var indexed abi.Arguments
		for _, input := range event.Inputs {
			if input.Indexed {
				indexed = append(indexed, input)
			}
		}
		if err := abi.ParseTopicsIntoMap(fields, indexed, entry.Topics[1:]); err != nil {
			return nil, fmt.Errorf("parse %s topics: %w", name, err)
		}

		return fields, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrEventMissing, name)
}

func (e *EVM) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (e *EVM) getClient(ctx context.Context) (*ethclient.Client, error) {
	e.clientMux.Lock()
	defer e.clientMux.Unlock()

	if e.client != nil {
		return e.client, nil
	}

	client, err := ethclient.DialContext(ctx, e.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	e.client = client
	return client, nil
}

var _ Client = (*EVM)(nil)

package contract

import (
	"context"
	"errors"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrSubmissionRejected indicates the wallet declined to sign the message transaction.
	ErrSubmissionRejected = errors.New("contract: submission rejected")
	// ErrNetwork indicates a failure talking to the RPC endpoint while writing or waiting.
	ErrNetwork = errors.New("contract: network error")
	// ErrTransactionReverted indicates the transaction was mined with a failed status.
	ErrTransactionReverted = errors.New("contract: transaction reverted")
	// ErrTimedOut indicates the confirmation wait exceeded its deadline.
	ErrTimedOut = errors.New("contract: confirmation timed out")
	// ErrReadFailure indicates history could not be read from the chain.
	ErrReadFailure = errors.New("contract: history read failed")
)

// Reader is the read-only chain access a Variant needs.
type Reader interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Backend is the RPC surface used by the gateway. *ethclient.Client satisfies it.
type Backend interface {
	Reader

	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// BlockTimeCache remembers block timestamps so history fetches skip header lookups.
type BlockTimeCache interface {
	BlockTime(number uint64) (int64, bool, error)
	PutBlockTime(number uint64, unixSeconds int64) error
}

package contract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/time/rate"

	"chainchat/models"
	"chainchat/wallet"
)

const (
	defaultPollInterval        = 2 * time.Second
	defaultConfirmationTimeout = 2 * time.Minute
	defaultHeaderLookups       = 20
)

// Options configures a Gateway.
type Options struct {
	Backend  Backend
	Contract common.Address
	Variant  Variant

	// ChainID skips the eth_chainId lookup when set.
	ChainID *big.Int
	// MessageFee is the value attached to every sendMessage call.
	MessageFee *big.Int

	// ConfirmationTimeout bounds AwaitConfirmation. Negative disables it.
	ConfirmationTimeout time.Duration
	PollInterval        time.Duration

	BlockTimes             BlockTimeCache
	HeaderLookupsPerSecond float64

	Logger *slog.Logger
}

// Gateway writes messages to and reads history from the messenger contract.
type Gateway struct {
	backend  Backend
	contract common.Address
	variant  Variant
	fee      *big.Int

	chainMu sync.Mutex
	chainID *big.Int

	// nonceMu is held from the nonce read until the transaction is broadcast.
	nonceMu   sync.Mutex
	nextNonce map[common.Address]uint64

	timeout time.Duration
	poll    time.Duration

	blockTimes BlockTimeCache
	headers    *rate.Limiter
	logger     *slog.Logger
}

// NewGateway validates opts and builds a gateway.
func NewGateway(opts Options) (*Gateway, error) {
	if opts.Backend == nil {
		return nil, errors.New("contract backend is required")
	}
	if opts.Contract == (common.Address{}) {
		return nil, errors.New("contract address is required")
	}
	variant := opts.Variant
	if variant == nil {
		var err error
		variant, err = VariantByName(DefaultVariant)
		if err != nil {
			return nil, err
		}
	}

	fee := new(big.Int)
	if opts.MessageFee != nil {
		if opts.MessageFee.Sign() < 0 {
			return nil, errors.New("message fee must not be negative")
		}
		fee.Set(opts.MessageFee)
	}

	timeout := opts.ConfirmationTimeout
	switch {
	case timeout == 0:
		timeout = defaultConfirmationTimeout
	case timeout < 0:
		timeout = 0
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	lookups := opts.HeaderLookupsPerSecond
	if lookups <= 0 {
		lookups = defaultHeaderLookups
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var chainID *big.Int
	if opts.ChainID != nil {
		chainID = new(big.Int).Set(opts.ChainID)
	}

	return &Gateway{
		backend:    opts.Backend,
		contract:   opts.Contract,
		variant:    variant,
		chainID:    chainID,
		nextNonce:  make(map[common.Address]uint64),
		fee:        fee,
		timeout:    timeout,
		poll:       poll,
		blockTimes: opts.BlockTimes,
		headers:    rate.NewLimiter(rate.Limit(lookups), int(lookups)+1),
		logger:     logger.With("component", "contract", "variant", variant.Name()),
	}, nil
}

// Contract returns the messenger contract address.
func (g *Gateway) Contract() common.Address { return g.contract }

// Variant returns the contract variant in use.
func (g *Gateway) Variant() Variant { return g.variant }

// Submit builds, signs and broadcasts a sendMessage transaction and returns its hash.
func (g *Gateway) Submit(ctx context.Context, signer wallet.Signer, text string) (common.Hash, error) {
	if signer == nil {
		return common.Hash{}, fmt.Errorf("%w: no signer", ErrSubmissionRejected)
	}
	data, err := g.variant.PackSend(text)
	if err != nil {
		return common.Hash{}, err
	}

	chainID, err := g.resolveChainID(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	from := signer.Address()

	g.nonceMu.Lock()
	defer g.nonceMu.Unlock()

	nonce, err := g.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: pending nonce: %v", ErrNetwork, err)
	}
	if next, ok := g.nextNonce[from]; ok && next > nonce {
		nonce = next
	}
	gasPrice, err := g.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: gas price: %v", ErrNetwork, err)
	}
	to := g.contract
	gas, err := g.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: new(big.Int).Set(g.fee),
		Data:  data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: estimate gas: %v", ErrNetwork, err)
	}
	gas += gas / 5

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    new(big.Int).Set(g.fee),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := signer.SignTx(ctx, tx, chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %w", ErrSubmissionRejected, err)
	}
	if err := g.backend.SendTransaction(ctx, signed); err != nil {
		delete(g.nextNonce, from)
		return common.Hash{}, fmt.Errorf("%w: send transaction: %v", ErrNetwork, err)
	}
	g.nextNonce[from] = nonce + 1

	g.logger.Info("message transaction sent",
		"tx_hash", signed.Hash().Hex(),
		"from", from.Hex(),
		"nonce", nonce,
		"gas", gas,
	)
	return signed.Hash(), nil
}

// AwaitConfirmation polls for the receipt of hash until it is mined, the
// confirmation timeout passes, or ctx ends.
func (g *Gateway) AwaitConfirmation(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	ticker := time.NewTicker(g.poll)
	defer ticker.Stop()

	for {
		receipt, err := g.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("%w: %s in block %s", ErrTransactionReverted, hash.Hex(), receipt.BlockNumber)
			}
			return receipt, nil
		case err == nil, errors.Is(err, ethereum.NotFound):
		case ctx.Err() == nil:
			return nil, fmt.Errorf("%w: receipt %s: %v", ErrNetwork, hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrTimedOut, hash.Hex())
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// FetchHistory returns the head block and every message event within
// windowBlocks of it. Events without an on-chain timestamp get the time of
// their block.
func (g *Gateway) FetchHistory(ctx context.Context, windowBlocks uint64) (models.History, error) {
	head, err := g.backend.BlockNumber(ctx)
	if err != nil {
		return models.History{}, fmt.Errorf("%w: head block: %v", ErrReadFailure, err)
	}
	var from uint64
	if head > windowBlocks {
		from = head - windowBlocks
	}

	events, err := g.variant.History(ctx, g.backend, g.contract, from, head)
	if err != nil {
		return models.History{}, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}
	if err := g.resolveTimestamps(ctx, events); err != nil {
		return models.History{}, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}

	g.pruneBlockTimes(from)

	g.logger.Debug("history fetched", "head_block", head, "from_block", from, "events", len(events))
	return models.History{HeadBlock: head, Events: events}, nil
}

func (g *Gateway) resolveTimestamps(ctx context.Context, events []models.RemoteEvent) error {
	resolved := make(map[uint64]time.Time)
	for i := range events {
		if !events[i].Timestamp.IsZero() || events[i].BlockNumber == 0 {
			continue
		}
		number := events[i].BlockNumber
		ts, ok := resolved[number]
		if !ok {
			var err error
			ts, err = g.blockTime(ctx, number)
			if err != nil {
				return err
			}
			resolved[number] = ts
		}
		events[i].Timestamp = ts
	}
	return nil
}

func (g *Gateway) blockTime(ctx context.Context, number uint64) (time.Time, error) {
	if g.blockTimes != nil {
		unix, ok, err := g.blockTimes.BlockTime(number)
		if err != nil {
			g.logger.Warn("block time cache read failed", "block", number, "error", err)
		} else if ok {
			return time.Unix(unix, 0).UTC(), nil
		}
	}

	if err := g.headers.Wait(ctx); err != nil {
		return time.Time{}, err
	}
	header, err := g.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return time.Time{}, fmt.Errorf("header %d: %w", number, err)
	}
	if header == nil {
		return time.Time{}, fmt.Errorf("header %d: not found", number)
	}

	if g.blockTimes != nil {
		if err := g.blockTimes.PutBlockTime(number, int64(header.Time)); err != nil {
			g.logger.Warn("block time cache write failed", "block", number, "error", err)
		}
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

// pruneBlockTimes drops cached block times older than the fetch window when
// the cache supports it.
func (g *Gateway) pruneBlockTimes(below uint64) {
	pruner, ok := g.blockTimes.(interface {
		PruneBlockTimes(belowBlock uint64) (int64, error)
	})
	if !ok || below == 0 {
		return
	}
	if _, err := pruner.PruneBlockTimes(below); err != nil {
		g.logger.Warn("block time cache prune failed", "below_block", below, "error", err)
	}
}

func (g *Gateway) resolveChainID(ctx context.Context) (*big.Int, error) {
	g.chainMu.Lock()
	defer g.chainMu.Unlock()
	if g.chainID != nil {
		return g.chainID, nil
	}
	chainID, err := g.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: chain id: %v", ErrNetwork, err)
	}
	g.chainID = chainID
	return chainID, nil
}

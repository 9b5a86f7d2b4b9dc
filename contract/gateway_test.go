package contract

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"chainchat/wallet"
)

var testContract = common.HexToAddress("0xC89D21dDA2B9896BD6389a1f6fA58fFA1f6f18CA")

type fakeBackend struct {
	mu sync.Mutex

	head        uint64
	headErr     error
	logs        []types.Log
	callResult  []byte
	headerTimes map[uint64]uint64
	headerCalls int

	sent     []*types.Transaction
	sendErr  error
	receipts []*types.Receipt
	lastQ    ethereum.FilterQuery
}

func (b *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(10143), nil }

func (b *fakeBackend) BlockNumber(context.Context) (uint64, error) { return b.head, b.headErr }

func (b *fakeBackend) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.headerCalls++
	ts, ok := b.headerTimes[number.Uint64()]
	if !ok {
		return nil, ethereum.NotFound
	}
	return &types.Header{Number: number, Time: ts}, nil
}

func (b *fakeBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	b.lastQ = q
	return b.logs, nil
}

func (b *fakeBackend) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return b.callResult, nil
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 7, nil }

func (b *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(50), nil }

func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, tx)
	return nil
}

func (b *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.receipts) == 0 {
		return nil, ethereum.NotFound
	}
	next := b.receipts[0]
	b.receipts = b.receipts[1:]
	if next == nil {
		return nil, ethereum.NotFound
	}
	return next, nil
}

type memoryBlockTimes map[uint64]int64

func (m memoryBlockTimes) BlockTime(number uint64) (int64, bool, error) {
	ts, ok := m[number]
	return ts, ok, nil
}

func (m memoryBlockTimes) PutBlockTime(number uint64, unix int64) error {
	m[number] = unix
	return nil
}

func (m memoryBlockTimes) PruneBlockTimes(below uint64) (int64, error) {
	var n int64
	for number := range m {
		if number < below {
			delete(m, number)
			n++
		}
	}
	return n, nil
}

func newTestGateway(t *testing.T, backend *fakeBackend, variantName string, mutate func(*Options)) *Gateway {
	t.Helper()

	variant, err := VariantByName(variantName)
	if err != nil {
		t.Fatalf("VariantByName failed: %v", err)
	}
	opts := Options{
		Backend:      backend,
		Contract:     testContract,
		Variant:      variant,
		MessageFee:   big.NewInt(1_000),
		PollInterval: 5 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	gateway, err := NewGateway(opts)
	if err != nil {
		t.Fatalf("NewGateway failed: %v", err)
	}
	return gateway
}

func messageLog(t *testing.T, variant Variant, sender common.Address, text string, ts int64, block uint64, txByte byte, index uint) types.Log {
	t.Helper()

	event := variant.ABI().Events[messageEvent]
	args := []interface{}{text}
	if len(event.Inputs.NonIndexed()) > 1 {
		args = append(args, big.NewInt(ts))
	}
	data, err := event.Inputs.NonIndexed().Pack(args...)
	if err != nil {
		t.Fatalf("pack log data: %v", err)
	}
	return types.Log{
		Address:     testContract,
		Topics:      []common.Hash{event.ID, common.BytesToHash(sender.Bytes())},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BytesToHash([]byte{txByte}),
		Index:       index,
	}
}

func TestFetchHistoryTimestampedEvents(t *testing.T) {
	backend := &fakeBackend{head: 10_000}
	gateway := newTestGateway(t, backend, VariantTimestampedEvent, nil)
	sender := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	backend.logs = []types.Log{
		messageLog(t, gateway.Variant(), sender, "gm", 1_700_000_000, 9_990, 0x01, 0),
		messageLog(t, gateway.Variant(), sender, "gn", 1_700_000_100, 9_995, 0x02, 3),
	}

	history, err := gateway.FetchHistory(context.Background(), 5_000)
	if err != nil {
		t.Fatalf("FetchHistory failed: %v", err)
	}
	if history.HeadBlock != 10_000 {
		t.Fatalf("unexpected head block %d", history.HeadBlock)
	}
	if backend.lastQ.FromBlock.Uint64() != 5_000 || backend.lastQ.ToBlock.Uint64() != 10_000 {
		t.Fatalf("unexpected filter range %s..%s", backend.lastQ.FromBlock, backend.lastQ.ToBlock)
	}
	if len(history.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(history.Events))
	}
	got := history.Events[1]
	if got.Content != "gn" || got.Sender != sender.Hex() || got.LogIndex != 3 || got.BlockNumber != 9_995 {
		t.Fatalf("unexpected event %+v", got)
	}
	if got.Timestamp.Unix() != 1_700_000_100 {
		t.Fatalf("unexpected timestamp %v", got.Timestamp)
	}
	if backend.headerCalls != 0 {
		t.Fatalf("timestamped events must not look up headers")
	}
}

func TestFetchHistoryPlainEventsUseBlockTimeCache(t *testing.T) {
	backend := &fakeBackend{head: 200, headerTimes: map[uint64]uint64{150: 1_700_000_500}}
	cache := memoryBlockTimes{}
	gateway := newTestGateway(t, backend, VariantEvent, func(o *Options) { o.BlockTimes = cache })
	sender := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	backend.logs = []types.Log{
		messageLog(t, gateway.Variant(), sender, "one", 0, 150, 0x01, 0),
		messageLog(t, gateway.Variant(), sender, "two", 0, 150, 0x01, 1),
	}

	for i := 0; i < 2; i++ {
		history, err := gateway.FetchHistory(context.Background(), 5_000)
		if err != nil {
			t.Fatalf("FetchHistory failed: %v", err)
		}
		if backend.lastQ.FromBlock.Uint64() != 0 {
			t.Fatalf("window larger than chain must start at genesis")
		}
		for _, event := range history.Events {
			if event.Timestamp.Unix() != 1_700_000_500 {
				t.Fatalf("unexpected timestamp %v", event.Timestamp)
			}
		}
	}
	if backend.headerCalls != 1 {
		t.Fatalf("expected one header lookup, got %d", backend.headerCalls)
	}
	if cache[150] != 1_700_000_500 {
		t.Fatalf("block time not cached")
	}

	cache[10] = 1_600_000_000
	if _, err := gateway.FetchHistory(context.Background(), 100); err != nil {
		t.Fatalf("FetchHistory failed: %v", err)
	}
	if _, ok := cache[10]; ok {
		t.Fatalf("block times below the window must be pruned")
	}
	if _, ok := cache[150]; !ok {
		t.Fatalf("block times inside the window must be kept")
	}
}

func TestFetchHistoryArrayVariant(t *testing.T) {
	backend := &fakeBackend{head: 42}
	gateway := newTestGateway(t, backend, VariantArray, nil)

	stored := []storedMessage{
		{Sender: common.HexToAddress("0x01"), Text: "first", Timestamp: big.NewInt(1_700_000_000)},
		{Sender: common.HexToAddress("0x02"), Text: "second", Timestamp: big.NewInt(1_700_000_060)},
	}
	raw, err := gateway.Variant().ABI().Methods[readMethod].Outputs.Pack(stored)
	if err != nil {
		t.Fatalf("pack stored messages: %v", err)
	}
	backend.callResult = raw

	history, err := gateway.FetchHistory(context.Background(), 5_000)
	if err != nil {
		t.Fatalf("FetchHistory failed: %v", err)
	}
	if len(history.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(history.Events))
	}
	second := history.Events[1]
	if second.Content != "second" || second.LogIndex != 1 || second.BlockNumber != 0 {
		t.Fatalf("unexpected event %+v", second)
	}
	if second.TxHash == "" || second.TxHash == history.Events[0].TxHash {
		t.Fatalf("array entries need distinct storage references, got %q", second.TxHash)
	}
	if second.ID() == history.Events[0].ID() {
		t.Fatalf("array entries must have distinct ids")
	}
	if second.Timestamp.Unix() != 1_700_000_060 {
		t.Fatalf("unexpected timestamp %v", second.Timestamp)
	}
}

func TestFetchHistoryReadFailure(t *testing.T) {
	backend := &fakeBackend{headErr: errors.New("rpc down")}
	gateway := newTestGateway(t, backend, VariantTimestampedEvent, nil)

	if _, err := gateway.FetchHistory(context.Background(), 5_000); !errors.Is(err, ErrReadFailure) {
		t.Fatalf("expected ErrReadFailure, got %v", err)
	}
}

func TestSubmitSignsFeeBearingTransaction(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := wallet.NewKeyProvider(key, nil)
	if err != nil {
		t.Fatalf("new key provider: %v", err)
	}

	backend := &fakeBackend{}
	gateway := newTestGateway(t, backend, VariantTimestampedEvent, nil)

	hash, err := gateway.Submit(context.Background(), signer, "hello chain")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(backend.sent))
	}
	tx := backend.sent[0]
	if tx.Hash() != hash {
		t.Fatalf("returned hash does not match broadcast")
	}
	if tx.To() == nil || *tx.To() != testContract {
		t.Fatalf("unexpected recipient %v", tx.To())
	}
	if tx.Value().Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("unexpected value %s", tx.Value())
	}
	if tx.Nonce() != 7 || tx.Gas() != 120_000 {
		t.Fatalf("unexpected nonce/gas %d/%d", tx.Nonce(), tx.Gas())
	}

	parsed := gateway.Variant().ABI()
	method, err := parsed.MethodById(tx.Data()[:4])
	if err != nil || method.Name != sendMethod {
		t.Fatalf("unexpected method: %v %v", method, err)
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil || args[0].(string) != "hello chain" {
		t.Fatalf("unexpected call data: %v %v", args, err)
	}

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(10143)), tx)
	if err != nil || from != signer.Address() {
		t.Fatalf("unexpected sender %s: %v", from.Hex(), err)
	}
}

func TestSubmitErrors(t *testing.T) {
	rejecting, err := wallet.NewKeyProviderFromHex(
		"0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
		func(context.Context, wallet.Request) (bool, error) { return false, nil },
	)
	if err != nil {
		t.Fatalf("new key provider: %v", err)
	}

	backend := &fakeBackend{}
	gateway := newTestGateway(t, backend, VariantTimestampedEvent, nil)
	_, err = gateway.Submit(context.Background(), rejecting, "nope")
	if !errors.Is(err, ErrSubmissionRejected) {
		t.Fatalf("expected ErrSubmissionRejected, got %v", err)
	}
	if !errors.Is(err, wallet.ErrUserRejected) {
		t.Fatalf("expected wrapped ErrUserRejected")
	}

	approving, err := wallet.NewKeyProviderFromHex("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318", nil)
	if err != nil {
		t.Fatalf("new key provider: %v", err)
	}
	backend.sendErr = errors.New("connection reset")
	if _, err := gateway.Submit(context.Background(), approving, "lost"); !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

func TestSubmitConcurrentSendsUseDistinctNonces(t *testing.T) {
	signer, err := wallet.NewKeyProviderFromHex("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318", nil)
	if err != nil {
		t.Fatalf("new key provider: %v", err)
	}
	backend := &fakeBackend{}
	gateway := newTestGateway(t, backend, VariantTimestampedEvent, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gateway.Submit(context.Background(), signer, "hi")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	if len(backend.sent) != 2 {
		t.Fatalf("expected two broadcasts, got %d", len(backend.sent))
	}
	nonces := map[uint64]bool{}
	for _, tx := range backend.sent {
		nonces[tx.Nonce()] = true
	}
	if !nonces[7] || !nonces[8] {
		t.Fatalf("expected nonces 7 and 8, got %v", nonces)
	}

	backend.sendErr = errors.New("nonce too low")
	if _, err := gateway.Submit(context.Background(), signer, "lost"); !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	backend.sendErr = nil
	if _, err := gateway.Submit(context.Background(), signer, "again"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if got := backend.sent[len(backend.sent)-1].Nonce(); got != 7 {
		t.Fatalf("failed broadcast must resync with the pending nonce, got %d", got)
	}
}

func TestAwaitConfirmationOutcomes(t *testing.T) {
	hash := common.HexToHash("0x01")

	backend := &fakeBackend{receipts: []*types.Receipt{nil, {Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(5)}}}
	gateway := newTestGateway(t, backend, VariantTimestampedEvent, nil)
	receipt, err := gateway.AwaitConfirmation(context.Background(), hash)
	if err != nil {
		t.Fatalf("AwaitConfirmation failed: %v", err)
	}
	if receipt.BlockNumber.Int64() != 5 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}

	backend.receipts = []*types.Receipt{{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(6)}}
	if _, err := gateway.AwaitConfirmation(context.Background(), hash); !errors.Is(err, ErrTransactionReverted) {
		t.Fatalf("expected ErrTransactionReverted, got %v", err)
	}

	slow := newTestGateway(t, &fakeBackend{}, VariantTimestampedEvent, func(o *Options) {
		o.ConfirmationTimeout = 30 * time.Millisecond
	})
	if _, err := slow.AwaitConfirmation(context.Background(), hash); !errors.Is(err, ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := slow.AwaitConfirmation(ctx, hash); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestVariantByName(t *testing.T) {
	for _, name := range VariantNames() {
		variant, err := VariantByName(name)
		if err != nil {
			t.Fatalf("VariantByName(%q) failed: %v", name, err)
		}
		if variant.Name() != name {
			t.Fatalf("expected %q, got %q", name, variant.Name())
		}
		if _, ok := variant.ABI().Methods[sendMethod]; !ok {
			t.Fatalf("%s variant lacks %s", name, sendMethod)
		}
	}
	if _, err := VariantByName("mystery"); err == nil {
		t.Fatalf("expected unknown variant error")
	}
}

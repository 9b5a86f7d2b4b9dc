package contract

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"chainchat/models"
)

const (
	// VariantArray reads a message array from contract storage.
	VariantArray = "array"
	// VariantEvent reads MessageSent(sender, message) logs.
	VariantEvent = "event"
	// VariantTimestampedEvent reads MessageSent(sender, message, timestamp) logs.
	VariantTimestampedEvent = "timestamped-event"

	// DefaultVariant is the shape of the deployed messenger contract.
	DefaultVariant = VariantTimestampedEvent

	sendMethod   = "sendMessage"
	readMethod   = "getMessages"
	messageEvent = "MessageSent"
)

const sendMessageABI = `{"type":"function","name":"sendMessage","stateMutability":"payable","inputs":[{"name":"_message","type":"string"}],"outputs":[]}`

const arrayABI = `[` + sendMessageABI + `,{"type":"function","name":"getMessages","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"tuple[]","components":[{"name":"sender","type":"address"},{"name":"text","type":"string"},{"name":"timestamp","type":"uint256"}]}]}]`

const eventABI = `[` + sendMessageABI + `,{"type":"event","name":"MessageSent","anonymous":false,"inputs":[{"indexed":true,"name":"sender","type":"address"},{"indexed":false,"name":"message","type":"string"}]}]`

const timestampedEventABI = `[` + sendMessageABI + `,{"type":"event","name":"MessageSent","anonymous":false,"inputs":[{"indexed":true,"name":"sender","type":"address"},{"indexed":false,"name":"message","type":"string"},{"indexed":false,"name":"timestamp","type":"uint256"}]}]`

// Variant is one deployed shape of the messenger contract.
type Variant interface {
	Name() string
	ABI() abi.ABI
	// PackSend encodes the sendMessage call.
	PackSend(text string) ([]byte, error)
	// History returns the messages known to the contract between two blocks.
	History(ctx context.Context, r Reader, address common.Address, fromBlock, toBlock uint64) ([]models.RemoteEvent, error)
}

// VariantByName returns the variant registered under name. Empty selects DefaultVariant.
func VariantByName(name string) (Variant, error) {
	switch strings.TrimSpace(strings.ToLower(name)) {
	case "", DefaultVariant:
		return newEventVariant(VariantTimestampedEvent, timestampedEventABI, true)
	case VariantEvent:
		return newEventVariant(VariantEvent, eventABI, false)
	case VariantArray:
		return newArrayVariant()
	default:
		return nil, fmt.Errorf("unknown contract variant %q", name)
	}
}

// VariantNames lists the supported variant names.
func VariantNames() []string {
	return []string{VariantTimestampedEvent, VariantEvent, VariantArray}
}

type baseVariant struct {
	name   string
	parsed abi.ABI
}

func (v baseVariant) Name() string { return v.name }

func (v baseVariant) ABI() abi.ABI { return v.parsed }

func (v baseVariant) PackSend(text string) ([]byte, error) {
	data, err := v.parsed.Pack(sendMethod, text)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", sendMethod, err)
	}
	return data, nil
}

func parseABI(raw string) (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse contract ABI: %w", err)
	}
	return parsed, nil
}

type eventVariant struct {
	baseVariant
	timestamped bool
}

func newEventVariant(name, raw string, timestamped bool) (Variant, error) {
	parsed, err := parseABI(raw)
	if err != nil {
		return nil, err
	}
	return eventVariant{baseVariant: baseVariant{name: name, parsed: parsed}, timestamped: timestamped}, nil
}

func (v eventVariant) History(ctx context.Context, r Reader, address common.Address, fromBlock, toBlock uint64) ([]models.RemoteEvent, error) {
	event := v.parsed.Events[messageEvent]
	logs, err := r.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{address},
		Topics:    [][]common.Hash{{event.ID}},
	})
	if err != nil {
		return nil, fmt.Errorf("filter %s logs: %w", messageEvent, err)
	}

	out := make([]models.RemoteEvent, 0, len(logs))
	for _, entry := range logs {
		if entry.Removed || len(entry.Topics) < 2 || entry.Topics[0] != event.ID {
			continue
		}
		values, err := v.parsed.Unpack(messageEvent, entry.Data)
		if err != nil {
			return nil, fmt.Errorf("decode %s log %s:%d: %w", messageEvent, entry.TxHash.Hex(), entry.Index, err)
		}
		text, ok := values[0].(string)
		if !ok {
			return nil, fmt.Errorf("decode %s log %s:%d: unexpected message type %T", messageEvent, entry.TxHash.Hex(), entry.Index, values[0])
		}

		remote := models.RemoteEvent{
			Sender:      common.BytesToAddress(entry.Topics[1].Bytes()).Hex(),
			Content:     text,
			TxHash:      entry.TxHash.Hex(),
			LogIndex:    entry.Index,
			BlockNumber: entry.BlockNumber,
		}
		if v.timestamped && len(values) > 1 {
			if ts, ok := values[1].(*big.Int); ok && ts.IsInt64() {
				remote.Timestamp = time.Unix(ts.Int64(), 0).UTC()
			}
		}
		out = append(out, remote)
	}
	return out, nil
}

type storedMessage struct {
	Sender    common.Address
	Text      string
	Timestamp *big.Int
}

type arrayVariant struct {
	baseVariant
}

func newArrayVariant() (Variant, error) {
	parsed, err := parseABI(arrayABI)
	if err != nil {
		return nil, err
	}
	return arrayVariant{baseVariant{name: VariantArray, parsed: parsed}}, nil
}

// History reads the whole stored array; the block range does not apply and
// entries are windowed by their stored timestamp instead.
func (v arrayVariant) History(ctx context.Context, r Reader, address common.Address, _, _ uint64) ([]models.RemoteEvent, error) {
	input, err := v.parsed.Pack(readMethod)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", readMethod, err)
	}
	raw, err := r.CallContract(ctx, ethereum.CallMsg{To: &address, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", readMethod, err)
	}
	values, err := v.parsed.Unpack(readMethod, raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", readMethod, err)
	}
	if len(values) == 0 {
		return nil, nil
	}
	stored := *abi.ConvertType(values[0], new([]storedMessage)).(*[]storedMessage)

	out := make([]models.RemoteEvent, 0, len(stored))
	for i, entry := range stored {
		remote := models.RemoteEvent{
			Sender:   entry.Sender.Hex(),
			Content:  entry.Text,
			TxHash:   fmt.Sprintf("%s#%d", address.Hex(), i),
			LogIndex: uint(i),
		}
		if entry.Timestamp != nil && entry.Timestamp.IsInt64() {
			remote.Timestamp = time.Unix(entry.Timestamp.Int64(), 0).UTC()
		}
		out = append(out, remote)
	}
	return out, nil
}

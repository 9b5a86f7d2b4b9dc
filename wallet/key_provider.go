package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// RequestKind identifies what the user is asked to approve.
type RequestKind string

const (
	RequestAccounts RequestKind = "accounts"
	RequestSign     RequestKind = "sign"
)

// Request describes one approval prompt.
type Request struct {
	Kind    RequestKind
	Account common.Address
	To      *common.Address
	Value   *big.Int
	Data    []byte
}

// ApproveFunc asks the user to approve a request. Returning false rejects it.
type ApproveFunc func(ctx context.Context, req Request) (bool, error)

// KeyProvider is a wallet provider backed by one local secp256k1 key.
type KeyProvider struct {
	key     *ecdsa.PrivateKey
	address common.Address
	approve ApproveFunc
}

// NewKeyProvider wraps a private key. approve may be nil to auto-approve.
func NewKeyProvider(key *ecdsa.PrivateKey, approve ApproveFunc) (*KeyProvider, error) {
	if key == nil {
		return nil, errors.New("private key is required")
	}
	return &KeyProvider{
		key:     key,
		address: ethcrypto.PubkeyToAddress(key.PublicKey),
		approve: approve,
	}, nil
}

// NewKeyProviderFromHex parses a hex private key, with or without 0x prefix.
func NewKeyProviderFromHex(hexKey string, approve ApproveFunc) (*KeyProvider, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := ethcrypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return NewKeyProvider(key, approve)
}

// Address returns the provider account.
func (p *KeyProvider) Address() common.Address {
	return p.address
}

// RequestAccounts returns the single account after approval.
func (p *KeyProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	if err := p.ask(ctx, Request{Kind: RequestAccounts, Account: p.address}); err != nil {
		return nil, err
	}
	return []common.Address{p.address}, nil
}

// Signer returns the provider itself.
func (p *KeyProvider) Signer(context.Context) (Signer, error) {
	return p, nil
}

// SignTx signs tx for chainID after approval.
func (p *KeyProvider) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if tx == nil {
		return nil, errors.New("transaction is required")
	}
	if chainID == nil {
		return nil, errors.New("chain id is required")
	}
	if err := p.ask(ctx, Request{
		Kind:    RequestSign,
		Account: p.address,
		To:      tx.To(),
		Value:   tx.Value(),
		Data:    tx.Data(),
	}); err != nil {
		return nil, err
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), p.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signed, nil
}

func (p *KeyProvider) ask(ctx context.Context, req Request) error {
	if p.approve == nil {
		return nil
	}
	ok, err := p.approve(ctx, req)
	if err != nil {
		return fmt.Errorf("approval prompt: %w", err)
	}
	if !ok {
		return ErrUserRejected
	}
	return nil
}

package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrProviderUnavailable indicates no wallet provider is configured.
	ErrProviderUnavailable = errors.New("wallet: provider unavailable")
	// ErrUserRejected indicates the user declined an account or signing request.
	ErrUserRejected = errors.New("wallet: request rejected by user")
	// ErrConnectionFailed indicates the provider could not return an account.
	ErrConnectionFailed = errors.New("wallet: connection failed")
	// ErrNotConnected indicates an operation that needs a connected account.
	ErrNotConnected = errors.New("wallet: not connected")
)

// Signer signs transactions for one account.
type Signer interface {
	Address() common.Address
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Provider is the wallet capability the messenger depends on.
type Provider interface {
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	Signer(ctx context.Context) (Signer, error)
}

// Session holds the connected account for the running process.
type Session struct {
	provider Provider

	mu      sync.RWMutex
	account common.Address
	active  bool
}

// NewSession creates a disconnected session. A nil provider is allowed and
// makes every Connect fail with ErrProviderUnavailable.
func NewSession(provider Provider) *Session {
	return &Session{provider: provider}
}

// Connect requests account access and stores the primary account.
// On failure the session is left unchanged.
func (s *Session) Connect(ctx context.Context) (common.Address, error) {
	if s.provider == nil {
		return common.Address{}, ErrProviderUnavailable
	}

	accounts, err := s.provider.RequestAccounts(ctx)
	if err != nil {
		if errors.Is(err, ErrUserRejected) {
			return common.Address{}, err
		}
		return common.Address{}, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if len(accounts) == 0 {
		return common.Address{}, fmt.Errorf("%w: provider returned no accounts", ErrConnectionFailed)
	}

	s.mu.Lock()
	s.account = accounts[0]
	s.active = true
	s.mu.Unlock()
	return accounts[0], nil
}

// Disconnect forgets the connected account.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = common.Address{}
	s.active = false
}

// Account returns the connected account and whether one is set.
func (s *Session) Account() (common.Address, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account, s.active
}

// Signer returns a signer for the connected account.
func (s *Session) Signer(ctx context.Context) (Signer, error) {
	if s.provider == nil {
		return nil, ErrProviderUnavailable
	}
	account, ok := s.Account()
	if !ok {
		return nil, ErrNotConnected
	}

	signer, err := s.provider.Signer(ctx)
	if err != nil {
		return nil, err
	}
	if signer.Address() != account {
		return nil, fmt.Errorf("%w: signer %s does not match session account %s",
			ErrConnectionFailed, signer.Address().Hex(), account.Hex())
	}
	return signer, nil
}

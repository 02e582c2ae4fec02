package vault

import (
	"fmt"
	"sync"

	"github.com/nathanyu/forward-settlement/internal/domain"
	"github.com/nathanyu/forward-settlement/internal/token"
)

// YieldSource is the external yield-bearing vault a ForwardVault stakes idle
// margin into. Any error from the source propagates as a hard failure of the
// enclosing operation; there is no silent degradation.
type YieldSource interface {
	// Deposit stakes amount from the account, crediting it with source shares.
	Deposit(from string, amount int64) (int64, error)
	// WithdrawValue unstakes at least value for the account, returning the
	// amount actually released.
	WithdrawValue(owner string, value int64) (int64, error)
	// ValueOf reports the current redeemable value of the account's shares.
	ValueOf(owner string) (int64, error)
	// PricePerFullShare is the scaled value of one share.
	PricePerFullShare() (int64, error)
}

// StakingSource is an in-process yield source over a fungible margin ledger.
// Its share price rises when margin is donated straight to its account, which
// is how yield accrual is simulated and tested.
type StakingSource struct {
	margin  *token.Fungible
	account string

	mu          sync.Mutex
	shares      map[string]int64
	totalShares int64
}

// NewStakingSource creates a yield source holding funds under the given
// ledger account.
func NewStakingSource(margin *token.Fungible, account string) *StakingSource {
	return &StakingSource{
		margin:  margin,
		account: account,
		shares:  make(map[string]int64),
	}
}

// Account returns the ledger account holding staked funds. Transferring
// margin to it directly raises the price per share.
func (s *StakingSource) Account() string { return s.account }

func (s *StakingSource) Deposit(from string, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance := s.margin.BalanceOf(s.account)
	var minted int64
	if s.totalShares == 0 {
		minted = amount
	} else {
		if balance == 0 {
			return 0, fmt.Errorf("%w: staking source has shares but no value", domain.ErrInsufficientVaultValue)
		}
		minted = amount * s.totalShares / balance
	}
	if err := s.margin.Transfer(from, s.account, amount); err != nil {
		return 0, err
	}
	s.shares[from] += minted
	s.totalShares += minted
	return minted, nil
}

func (s *StakingSource) WithdrawValue(owner string, value int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.totalShares == 0 {
		return 0, fmt.Errorf("%w: no shares outstanding", domain.ErrInsufficientVaultValue)
	}
	balance := s.margin.BalanceOf(s.account)
	if balance == 0 {
		return 0, fmt.Errorf("%w: staking source empty", domain.ErrInsufficientVaultValue)
	}

	// Round shares up so at least the requested value is released.
	burn := (value*s.totalShares + balance - 1) / balance
	if burn > s.shares[owner] {
		burn = s.shares[owner]
	}
	amount := burn * balance / s.totalShares
	if amount < value {
		return 0, fmt.Errorf("%w: have %d of %d", domain.ErrInsufficientVaultValue, amount, value)
	}
	if err := s.margin.Transfer(s.account, owner, amount); err != nil {
		return 0, err
	}
	s.shares[owner] -= burn
	s.totalShares -= burn
	return amount, nil
}

func (s *StakingSource) ValueOf(owner string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.totalShares == 0 {
		return 0, nil
	}
	balance := s.margin.BalanceOf(s.account)
	return s.shares[owner] * balance / s.totalShares, nil
}

func (s *StakingSource) PricePerFullShare() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.totalShares == 0 {
		return 0, fmt.Errorf("%w: no shares outstanding", domain.ErrInsufficientVaultValue)
	}
	return s.margin.BalanceOf(s.account) * PriceScale / s.totalShares, nil
}

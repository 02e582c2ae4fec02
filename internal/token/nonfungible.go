package token

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrTokenNotOwned  = errors.New("token not owned by account")
	ErrTokenNotMinted = errors.New("token does not exist")
	ErrTokenExists    = errors.New("token already minted")
	ErrNotApproved    = errors.New("caller not approved for token")
)

// NonFungible tracks unique token ids, each with a single owner and an
// optional per-id approved spender.
type NonFungible struct {
	id     string
	name   string
	symbol string

	mu        sync.RWMutex
	owners    map[uint64]string
	approvals map[uint64]string // token id -> approved spender
}

// NewNonFungible creates an empty non-fungible ledger.
func NewNonFungible(id, name, symbol string) *NonFungible {
	return &NonFungible{
		id:        id,
		name:      name,
		symbol:    symbol,
		owners:    make(map[uint64]string),
		approvals: make(map[uint64]string),
	}
}

func (t *NonFungible) ID() string { return t.id }

// Mint creates a new token id owned by to.
func (t *NonFungible) Mint(to string, tokenID uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.owners[tokenID]; ok {
		return fmt.Errorf("%w: id %d", ErrTokenExists, tokenID)
	}
	t.owners[tokenID] = to
	return nil
}

// OwnerOf returns the owner of a token id.
func (t *NonFungible) OwnerOf(tokenID uint64) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	owner, ok := t.owners[tokenID]
	if !ok {
		return "", fmt.Errorf("%w: id %d", ErrTokenNotMinted, tokenID)
	}
	return owner, nil
}

// Approve lets owner grant a spender transfer rights over one token id.
func (t *NonFungible) Approve(owner, spender string, tokenID uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.owners[tokenID] != owner {
		return fmt.Errorf("%w: id %d", ErrTokenNotOwned, tokenID)
	}
	t.approvals[tokenID] = spender
	return nil
}

// TransferFrom moves a token id from its owner to a recipient. The spender
// must be the owner or the approved account for that id.
func (t *NonFungible) TransferFrom(spender, from, to string, tokenID uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	owner, ok := t.owners[tokenID]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrTokenNotMinted, tokenID)
	}
	if owner != from {
		return fmt.Errorf("%w: id %d", ErrTokenNotOwned, tokenID)
	}
	if spender != owner && t.approvals[tokenID] != spender {
		return fmt.Errorf("%w: id %d", ErrNotApproved, tokenID)
	}
	t.owners[tokenID] = to
	delete(t.approvals, tokenID)
	return nil
}

// OwnsAll reports whether account owns every listed token id, and whether
// spender may move them. Used for precondition checks before any mutation.
func (t *NonFungible) OwnsAll(spender, account string, tokenIDs []uint64) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, id := range tokenIDs {
		owner, ok := t.owners[id]
		if !ok {
			return fmt.Errorf("%w: id %d", ErrTokenNotMinted, id)
		}
		if owner != account {
			return fmt.Errorf("%w: id %d", ErrTokenNotOwned, id)
		}
		if spender != owner && t.approvals[id] != spender {
			return fmt.Errorf("%w: id %d", ErrNotApproved, id)
		}
	}
	return nil
}

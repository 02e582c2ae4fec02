package token

import (
	"errors"
	"fmt"
	"sync"
)

var ErrTokenUnknown = errors.New("unknown token")

// Registry resolves token ids to ledgers. It is the explicit injected lookup
// the factory uses when deploying pools; nothing consults it ambiently.
type Registry struct {
	mu        sync.RWMutex
	fungible  map[string]*Fungible
	nft       map[string]*NonFungible
	multi     map[string]*MultiToken
}

// NewRegistry creates an empty token registry.
func NewRegistry() *Registry {
	return &Registry{
		fungible: make(map[string]*Fungible),
		nft:      make(map[string]*NonFungible),
		multi:    make(map[string]*MultiToken),
	}
}

// AddFungible registers a fungible ledger under its id.
func (r *Registry) AddFungible(t *Fungible) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fungible[t.ID()]; ok {
		return fmt.Errorf("token %s already registered", t.ID())
	}
	r.fungible[t.ID()] = t
	return nil
}

// AddNonFungible registers a non-fungible ledger under its id.
func (r *Registry) AddNonFungible(t *NonFungible) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nft[t.ID()]; ok {
		return fmt.Errorf("token %s already registered", t.ID())
	}
	r.nft[t.ID()] = t
	return nil
}

// AddMultiToken registers a multi-token ledger under its id.
func (r *Registry) AddMultiToken(t *MultiToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.multi[t.ID()]; ok {
		return fmt.Errorf("token %s already registered", t.ID())
	}
	r.multi[t.ID()] = t
	return nil
}

// Fungible resolves a fungible ledger by id.
func (r *Registry) Fungible(id string) (*Fungible, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.fungible[id]
	if !ok {
		return nil, fmt.Errorf("%w: fungible %s", ErrTokenUnknown, id)
	}
	return t, nil
}

// NonFungible resolves a non-fungible ledger by id.
func (r *Registry) NonFungible(id string) (*NonFungible, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.nft[id]
	if !ok {
		return nil, fmt.Errorf("%w: non-fungible %s", ErrTokenUnknown, id)
	}
	return t, nil
}

// MultiToken resolves a multi-token ledger by id.
func (r *Registry) MultiToken(id string) (*MultiToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.multi[id]
	if !ok {
		return nil, fmt.Errorf("%w: multi-token %s", ErrTokenUnknown, id)
	}
	return t, nil
}

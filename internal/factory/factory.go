// Package factory owns the pool registry: one pool per (asset, kind, margin)
// triple, deployed by accounts holding the deployer role, governed by a single
// owner who controls the fee rate, margin allow-list, pause switch and fee
// collection.
package factory

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nathanyu/forward-settlement/internal/domain"
	"github.com/nathanyu/forward-settlement/internal/pool"
	"github.com/nathanyu/forward-settlement/internal/token"
	"github.com/nathanyu/forward-settlement/internal/vault"
)

const (
	version = "v1.0"

	// DefaultFeeRate is 1 basis point of domain.FeeBase.
	DefaultFeeRate int64 = 1
)

// Key identifies a pool by its trading pair.
type Key struct {
	Asset  string
	Kind   domain.AssetKind
	Margin string
}

// PoolFactory deploys and indexes forward pools. It hands each pool a private
// authority token so administrative pool methods only answer to the factory.
type PoolFactory struct {
	registry     *token.Registry
	authority    string
	owner        string
	feeCollector string

	mu        sync.RWMutex
	feeRate   int64
	deployers map[string]bool
	margins   map[string]bool
	pools     map[Key]*pool.ForwardPool
	byID      map[string]*pool.ForwardPool
	order     []*pool.ForwardPool
	vault     *vault.ForwardVault
}

// New creates a factory. The owner holds the deployer role from the start;
// feeCollector is the default destination for collected fees.
func New(registry *token.Registry, owner, feeCollector string) *PoolFactory {
	return &PoolFactory{
		registry:     registry,
		authority:    uuid.NewString(),
		owner:        owner,
		feeCollector: feeCollector,
		feeRate:      DefaultFeeRate,
		deployers:    map[string]bool{owner: true},
		margins:      make(map[string]bool),
		pools:        make(map[Key]*pool.ForwardPool),
		byID:         make(map[string]*pool.ForwardPool),
	}
}

func (f *PoolFactory) Version() string { return version }

// FeeRate implements pool.FeeSource.
func (f *PoolFactory) FeeRate() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.feeRate
}

// Owner returns the current owner account.
func (f *PoolFactory) Owner() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.owner
}

// FeeCollector returns the default fee destination.
func (f *PoolFactory) FeeCollector() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.feeCollector
}

func (f *PoolFactory) requireOwner(caller string) error {
	if caller != f.owner {
		return fmt.Errorf("%w: %s", domain.ErrNotOwner, caller)
	}
	return nil
}

// TransferOwnership hands the factory to a new owner.
func (f *PoolFactory) TransferOwnership(caller, newOwner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.requireOwner(caller); err != nil {
		return err
	}
	f.owner = newOwner
	return nil
}

// SetFee updates the protocol fee rate, bounded by domain.FeeBase.
func (f *PoolFactory) SetFee(caller string, rate int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.requireOwner(caller); err != nil {
		return err
	}
	if rate < 0 || rate > domain.FeeBase {
		return fmt.Errorf("%w: %d of base %d", domain.ErrInvalidFeeRate, rate, domain.FeeBase)
	}
	f.feeRate = rate
	return nil
}

// SetFeeCollector changes the default fee destination.
func (f *PoolFactory) SetFeeCollector(caller, collector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.requireOwner(caller); err != nil {
		return err
	}
	f.feeCollector = collector
	return nil
}

// SetPoolDeployer grants or revokes the deployer role.
func (f *PoolFactory) SetPoolDeployer(caller, account string, allowed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.requireOwner(caller); err != nil {
		return err
	}
	f.deployers[account] = allowed
	return nil
}

// SupportMargin adds a margin token to the allow-list.
func (f *PoolFactory) SupportMargin(caller, marginID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.requireOwner(caller); err != nil {
		return err
	}
	if _, err := f.registry.Fungible(marginID); err != nil {
		return err
	}
	f.margins[marginID] = true
	return nil
}

// DisableMargin removes a margin token from the allow-list. Pools already
// deployed on it keep running.
func (f *PoolFactory) DisableMargin(caller, marginID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.requireOwner(caller); err != nil {
		return err
	}
	delete(f.margins, marginID)
	return nil
}

// SetForwardVault sets the margin vault attached to pools deployed from now
// on. Existing pools are untouched.
func (f *PoolFactory) SetForwardVault(caller string, v *vault.ForwardVault) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.requireOwner(caller); err != nil {
		return err
	}
	f.vault = v
	return nil
}

// DeployPool registers the pool for a new (asset, kind, margin) triple.
// Caller must hold the deployer role and the margin must be allow-listed.
func (f *PoolFactory) DeployPool(caller, assetID string, kind domain.AssetKind, marginID string) (*pool.ForwardPool, []domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.deployers[caller] {
		return nil, nil, fmt.Errorf("%w: %s lacks the deployer role", domain.ErrUnauthorized, caller)
	}
	if !f.margins[marginID] {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrMarginNotSupported, marginID)
	}
	key := Key{Asset: assetID, Kind: kind, Margin: marginID}
	if _, ok := f.pools[key]; ok {
		return nil, nil, fmt.Errorf("%w: %s/%s/%s", domain.ErrPoolExists, assetID, kind, marginID)
	}

	p, err := pool.New(pool.Config{
		ID:        uuid.NewString(),
		AssetID:   assetID,
		Kind:      kind,
		MarginID:  marginID,
		Registry:  f.registry,
		Fees:      f,
		FactoryID: f.authority,
	})
	if err != nil {
		return nil, nil, err
	}
	if f.vault != nil {
		if err := p.SetForwardVault(f.authority, f.vault); err != nil {
			return nil, nil, err
		}
	}

	f.pools[key] = p
	f.byID[p.ID()] = p
	f.order = append(f.order, p)
	events := []domain.Event{domain.PoolDeployed{
		PoolID: p.ID(),
		Asset:  assetID,
		Kind:   kind,
		Margin: marginID,
	}}
	return p, events, nil
}

// GetPair resolves the pool for a trading pair.
func (f *PoolFactory) GetPair(assetID string, kind domain.AssetKind, marginID string) (*pool.ForwardPool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.pools[Key{Asset: assetID, Kind: kind, Margin: marginID}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s/%s", domain.ErrPoolNotFound, assetID, kind, marginID)
	}
	return p, nil
}

// PoolByID resolves a pool by its deployment id.
func (f *PoolFactory) PoolByID(id string) (*pool.ForwardPool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPoolNotFound, id)
	}
	return p, nil
}

// AllPairs returns every pool in deployment order.
func (f *PoolFactory) AllPairs() []*pool.ForwardPool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*pool.ForwardPool, len(f.order))
	copy(out, f.order)
	return out
}

// AllPairsLength returns how many pools have been deployed.
func (f *PoolFactory) AllPairsLength() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.order)
}

// PausePools blocks order creation on the given pools, or on every pool when
// ids is empty.
func (f *PoolFactory) PausePools(caller string, ids []string) error {
	return f.setPaused(caller, ids, true)
}

// UnpausePools lifts the creation block.
func (f *PoolFactory) UnpausePools(caller string, ids []string) error {
	return f.setPaused(caller, ids, false)
}

func (f *PoolFactory) setPaused(caller string, ids []string, paused bool) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.requireOwner(caller); err != nil {
		return err
	}
	targets := f.order
	if len(ids) > 0 {
		targets = targets[:0:0]
		for _, id := range ids {
			p, ok := f.byID[id]
			if !ok {
				return fmt.Errorf("%w: %s", domain.ErrPoolNotFound, id)
			}
			targets = append(targets, p)
		}
	}
	for _, p := range targets {
		if err := p.SetPaused(f.authority, paused); err != nil {
			return err
		}
	}
	return nil
}

// CollectFee drains accrued fees from every pool to the given account, or to
// the default fee collector when to is empty.
func (f *PoolFactory) CollectFee(caller, to string) (int64, []domain.Event, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.requireOwner(caller); err != nil {
		return 0, nil, err
	}
	if to == "" {
		to = f.feeCollector
	}
	var total int64
	var events []domain.Event
	for _, p := range f.order {
		amount, evs, err := p.CollectFee(f.authority, to)
		if err != nil {
			return total, events, err
		}
		total += amount
		events = append(events, evs...)
	}
	return total, events, nil
}

// WithdrawOther rescues a foreign token from a pool's escrow account.
func (f *PoolFactory) WithdrawOther(caller, poolID, tokenID, to string, amount int64) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.requireOwner(caller); err != nil {
		return err
	}
	p, ok := f.byID[poolID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrPoolNotFound, poolID)
	}
	return p.WithdrawOther(f.authority, tokenID, to, amount)
}

// Package assets wraps asset-kind-specific transfer and approval semantics
// behind one uniform adapter: Reserve pulls a spec from an account into the
// pool's escrow, Release pushes it out to a recipient. Adapters do not
// deduplicate; each leg is called exactly once per order side.
package assets

import (
	"fmt"

	"github.com/nathanyu/forward-settlement/internal/domain"
	"github.com/nathanyu/forward-settlement/internal/token"
)

// Adapter is the uniform transfer surface a forward pool uses to escrow and
// release the deliverable asset.
type Adapter interface {
	Kind() domain.AssetKind
	// Validate rejects empty or internally inconsistent specs.
	Validate(spec domain.AssetSpec) error
	// Reserve pulls the spec from the account into pool escrow. Requires
	// prior approval on the underlying ledger.
	Reserve(from string, spec domain.AssetSpec) error
	// Release pushes the spec from pool escrow to the recipient.
	Release(to string, spec domain.AssetSpec) error
}

// New constructs the adapter for a pool's asset kind, resolving the asset
// ledger from the registry. escrow is the pool's own account.
func New(reg *token.Registry, kind domain.AssetKind, assetID, escrow string) (Adapter, error) {
	switch kind {
	case domain.AssetKindFungible:
		t, err := reg.Fungible(assetID)
		if err != nil {
			return nil, err
		}
		return &fungibleAdapter{token: t, escrow: escrow}, nil
	case domain.AssetKindNonFungible:
		t, err := reg.NonFungible(assetID)
		if err != nil {
			return nil, err
		}
		return &nonFungibleAdapter{token: t, escrow: escrow}, nil
	case domain.AssetKindMultiToken:
		t, err := reg.MultiToken(assetID)
		if err != nil {
			return nil, err
		}
		return &multiTokenAdapter{token: t, escrow: escrow}, nil
	}
	return nil, fmt.Errorf("%w: unknown asset kind %q", domain.ErrInvalidAssetSpec, kind)
}

type fungibleAdapter struct {
	token  *token.Fungible
	escrow string
}

func (a *fungibleAdapter) Kind() domain.AssetKind { return domain.AssetKindFungible }

func (a *fungibleAdapter) Validate(spec domain.AssetSpec) error {
	if spec.Amount <= 0 {
		return fmt.Errorf("%w: fungible amount must be positive", domain.ErrInvalidAssetSpec)
	}
	return nil
}

func (a *fungibleAdapter) Reserve(from string, spec domain.AssetSpec) error {
	return a.token.TransferFrom(a.escrow, from, a.escrow, spec.Amount)
}

func (a *fungibleAdapter) Release(to string, spec domain.AssetSpec) error {
	return a.token.Transfer(a.escrow, to, spec.Amount)
}

type nonFungibleAdapter struct {
	token  *token.NonFungible
	escrow string
}

func (a *nonFungibleAdapter) Kind() domain.AssetKind { return domain.AssetKindNonFungible }

func (a *nonFungibleAdapter) Validate(spec domain.AssetSpec) error {
	if len(spec.TokenIDs) == 0 {
		return fmt.Errorf("%w: token id set is empty", domain.ErrInvalidAssetSpec)
	}
	seen := make(map[uint64]bool, len(spec.TokenIDs))
	for _, id := range spec.TokenIDs {
		if seen[id] {
			return fmt.Errorf("%w: duplicate token id %d", domain.ErrInvalidAssetSpec, id)
		}
		seen[id] = true
	}
	return nil
}

func (a *nonFungibleAdapter) Reserve(from string, spec domain.AssetSpec) error {
	// All ids are checked before the first move so a partial set never escrows.
	if err := a.token.OwnsAll(a.escrow, from, spec.TokenIDs); err != nil {
		return err
	}
	for _, id := range spec.TokenIDs {
		if err := a.token.TransferFrom(a.escrow, from, a.escrow, id); err != nil {
			return err
		}
	}
	return nil
}

func (a *nonFungibleAdapter) Release(to string, spec domain.AssetSpec) error {
	for _, id := range spec.TokenIDs {
		if err := a.token.TransferFrom(a.escrow, a.escrow, to, id); err != nil {
			return err
		}
	}
	return nil
}

type multiTokenAdapter struct {
	token  *token.MultiToken
	escrow string
}

func (a *multiTokenAdapter) Kind() domain.AssetKind { return domain.AssetKindMultiToken }

func (a *multiTokenAdapter) Validate(spec domain.AssetSpec) error {
	if len(spec.IDs) == 0 {
		return fmt.Errorf("%w: id set is empty", domain.ErrInvalidAssetSpec)
	}
	if len(spec.IDs) != len(spec.Amounts) {
		return fmt.Errorf("%w: ids and amounts length mismatch", domain.ErrInvalidAssetSpec)
	}
	for _, amt := range spec.Amounts {
		if amt <= 0 {
			return fmt.Errorf("%w: amounts must be positive", domain.ErrInvalidAssetSpec)
		}
	}
	return nil
}

func (a *multiTokenAdapter) Reserve(from string, spec domain.AssetSpec) error {
	return a.token.BatchTransferFrom(a.escrow, from, a.escrow, spec.IDs, spec.Amounts)
}

func (a *multiTokenAdapter) Release(to string, spec domain.AssetSpec) error {
	return a.token.BatchTransferFrom(a.escrow, a.escrow, to, spec.IDs, spec.Amounts)
}

// Package pool implements the forward-contract order book for one
// (asset, margin) pair: order creation and matching, margin escrow through
// share accounting, delivery of both legs, and settlement with fee accrual.
package pool

import (
	"fmt"
	"sync"
	"time"

	"github.com/nathanyu/forward-settlement/internal/assets"
	"github.com/nathanyu/forward-settlement/internal/domain"
	"github.com/nathanyu/forward-settlement/internal/token"
	"github.com/nathanyu/forward-settlement/internal/vault"
)

const version = "v1.0"

// FeeSource supplies the current fee rate in domain.FeeBase units. The
// factory implements it; the rate is read at settlement time, not pinned at
// order creation.
type FeeSource interface {
	FeeRate() int64
}

// Config carries the dependencies a pool needs at construction.
type Config struct {
	ID       string
	AssetID  string
	Kind     domain.AssetKind
	MarginID string
	Registry *token.Registry
	Fees     FeeSource
	// FactoryID is the authority token pools require on administrative calls.
	FactoryID string
}

// CreateOrderParams is the full order shape the creator commits to.
type CreateOrderParams struct {
	Creator  string
	IsSeller bool
	Asset    domain.AssetSpec

	DeliveryPrice int64
	BuyerMargin   int64
	SellerMargin  int64

	ValidTill    time.Time
	DeliverStart time.Time
	DeliverEnd   time.Time

	// Deposit escrows the creator's delivery leg immediately, marking that
	// side delivered before the delivery window even opens.
	Deposit bool
}

// ForwardPool holds every order of one pair and the escrow account backing
// them. All operations that touch ledgers run under one mutex, so each either
// fully applies or returns an error with nothing moved.
type ForwardPool struct {
	id        string
	assetID   string
	kind      domain.AssetKind
	margin    *token.Fungible
	registry  *token.Registry
	adapter   assets.Adapter
	fees      FeeSource
	factoryID string
	escrow    string

	// Now is injected so expiry boundaries are deterministic under test.
	Now func() time.Time

	mu     sync.Mutex
	vault  *vault.ForwardVault
	orders []*domain.Order
	paused bool
	cfee   int64
}

// New constructs a pool and resolves its asset adapter from the registry.
func New(cfg Config) (*ForwardPool, error) {
	margin, err := cfg.Registry.Fungible(cfg.MarginID)
	if err != nil {
		return nil, err
	}
	escrow := "pool:" + cfg.ID
	adapter, err := assets.New(cfg.Registry, cfg.Kind, cfg.AssetID, escrow)
	if err != nil {
		return nil, err
	}
	return &ForwardPool{
		id:        cfg.ID,
		assetID:   cfg.AssetID,
		kind:      cfg.Kind,
		margin:    margin,
		registry:  cfg.Registry,
		adapter:   adapter,
		fees:      cfg.Fees,
		factoryID: cfg.FactoryID,
		escrow:    escrow,
		Now:       time.Now,
	}, nil
}

func (p *ForwardPool) ID() string            { return p.id }
func (p *ForwardPool) AssetID() string       { return p.assetID }
func (p *ForwardPool) Kind() domain.AssetKind { return p.kind }
func (p *ForwardPool) MarginID() string      { return p.margin.ID() }
func (p *ForwardPool) Escrow() string        { return p.escrow }
func (p *ForwardPool) Version() string       { return version }

// Paused reports whether order creation is blocked.
func (p *ForwardPool) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// CFee returns the accrued, uncollected protocol fee.
func (p *ForwardPool) CFee() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfee
}

// OrdersLength returns how many orders have ever been created.
func (p *ForwardPool) OrdersLength() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orders)
}

// Order returns a copy of the order with the given id.
func (p *ForwardPool) Order(id uint64) (domain.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, err := p.order(id)
	if err != nil {
		return domain.Order{}, err
	}
	return *o, nil
}

// CheckOrderState derives the order's current lifecycle state.
func (p *ForwardPool) CheckOrderState(id uint64) (domain.OrderState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, err := p.order(id)
	if err != nil {
		return domain.StateInactive, err
	}
	return domain.DeriveState(o, p.Now()), nil
}

// PricePerFullShare reports the margin vault share price, or par when no
// vault is attached.
func (p *ForwardPool) PricePerFullShare() (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.vault == nil {
		return vault.PriceScale, nil
	}
	return p.vault.PricePerFullShare()
}

// order looks up by id; caller must hold the lock.
func (p *ForwardPool) order(id uint64) (*domain.Order, error) {
	if id >= uint64(len(p.orders)) {
		return nil, fmt.Errorf("%w: %d", domain.ErrOrderNotFound, id)
	}
	return p.orders[id], nil
}

// CreateOrder opens a new order with the creator bound to one side and that
// side's margin escrowed. With params.Deposit the creator's delivery leg is
// escrowed too. Order ids are assigned densely in creation order.
func (p *ForwardPool) CreateOrder(params CreateOrderParams) (domain.Order, []domain.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.paused {
		return domain.Order{}, nil, domain.ErrPaused
	}
	if err := p.validateParams(params); err != nil {
		return domain.Order{}, nil, err
	}

	o := &domain.Order{
		ID:            uint64(len(p.orders)),
		Asset:         params.Asset,
		ValidTill:     params.ValidTill,
		DeliverStart:  params.DeliverStart,
		DeliverEnd:    params.DeliverEnd,
		DeliveryPrice: params.DeliveryPrice,
		BuyerMargin:   params.BuyerMargin,
		SellerMargin:  params.SellerMargin,
		CreatedAt:     p.Now(),
	}

	marginAmount := params.BuyerMargin
	if params.IsSeller {
		marginAmount = params.SellerMargin
	}
	share, err := p.depositMargin(params.Creator, marginAmount)
	if err != nil {
		return domain.Order{}, nil, err
	}
	if params.IsSeller {
		o.Seller = params.Creator
		o.SellerShare = share
	} else {
		o.Buyer = params.Creator
		o.BuyerShare = share
	}

	if params.Deposit {
		var depositErr error
		if params.IsSeller {
			depositErr = p.adapter.Reserve(params.Creator, params.Asset)
			o.SellerDelivered = depositErr == nil
		} else {
			depositErr = p.margin.TransferFrom(p.escrow, params.Creator, p.escrow, params.DeliveryPrice)
			o.BuyerDelivered = depositErr == nil
		}
		if depositErr != nil {
			// Unwind the margin escrow so a failed create moves nothing.
			if refund, err := p.redeem(share); err == nil {
				_ = p.margin.Transfer(p.escrow, params.Creator, refund)
			}
			return domain.Order{}, nil, depositErr
		}
	}

	p.orders = append(p.orders, o)
	events := []domain.Event{domain.OrderCreated{
		PoolID:        p.id,
		OrderID:       o.ID,
		Creator:       params.Creator,
		IsSeller:      params.IsSeller,
		DeliveryPrice: o.DeliveryPrice,
		BuyerMargin:   o.BuyerMargin,
		SellerMargin:  o.SellerMargin,
		ValidTill:     o.ValidTill,
		DeliverStart:  o.DeliverStart,
		DeliverEnd:    o.DeliverEnd,
	}}
	return *o, events, nil
}

func (p *ForwardPool) validateParams(params CreateOrderParams) error {
	if err := p.adapter.Validate(params.Asset); err != nil {
		return err
	}
	if params.DeliveryPrice <= 0 {
		return fmt.Errorf("%w: delivery price must be positive", domain.ErrInvalidMargin)
	}
	if params.BuyerMargin <= 0 || params.SellerMargin <= 0 {
		return fmt.Errorf("%w: margins must be positive", domain.ErrInvalidMargin)
	}
	now := p.Now()
	if !now.Before(params.ValidTill) {
		return fmt.Errorf("%w: valid-till in the past", domain.ErrInvalidPeriod)
	}
	// Delivery must not open before the taking window closes: an untaken
	// order that is already inside its delivery window has no single derived
	// state.
	if params.DeliverStart.Before(params.ValidTill) {
		return fmt.Errorf("%w: delivery starts before valid-till", domain.ErrInvalidPeriod)
	}
	if !params.DeliverStart.Before(params.DeliverEnd) {
		return fmt.Errorf("%w: empty delivery window", domain.ErrInvalidPeriod)
	}
	return nil
}

// TakeOrder binds the taker to the open side of an active order, escrowing
// the taker's margin.
func (p *ForwardPool) TakeOrder(taker string, id uint64) ([]domain.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, err := p.order(id)
	if err != nil {
		return nil, err
	}
	if domain.DeriveState(o, p.Now()) != domain.StateActive {
		return nil, fmt.Errorf("%w: order %d", domain.ErrNotActive, id)
	}

	var share int64
	if o.Seller == "" {
		share, err = p.depositMargin(taker, o.SellerMargin)
		if err != nil {
			return nil, err
		}
		o.Seller = taker
		o.SellerShare = share
	} else {
		share, err = p.depositMargin(taker, o.BuyerMargin)
		if err != nil {
			return nil, err
		}
		o.Buyer = taker
		o.BuyerShare = share
	}

	return []domain.Event{domain.OrderTaken{
		PoolID:  p.id,
		OrderID: id,
		Taker:   taker,
		Share:   share,
	}}, nil
}

// Deliver performs the caller's leg: the seller escrows the deliverable
// asset, the buyer pays the delivery price. When the second leg lands the
// order settles in the same call. The first leg must land inside the delivery
// window; the closing leg is accepted after the window too, so a late
// completion still settles as delivered instead of defaulting.
func (p *ForwardPool) Deliver(account string, id uint64) ([]domain.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, err := p.order(id)
	if err != nil {
		return nil, err
	}

	var side domain.DeliverySide
	switch account {
	case o.Seller:
		side = domain.SideSeller
	case o.Buyer:
		side = domain.SideBuyer
	default:
		return nil, fmt.Errorf("%w: %s is not a party to order %d", domain.ErrUnauthorized, account, id)
	}

	switch domain.DeriveState(o, p.Now()) {
	case domain.StateDelivering:
	case domain.StateExpiredUnsettled:
		counterpartyDelivered := o.BuyerDelivered
		if side == domain.SideBuyer {
			counterpartyDelivered = o.SellerDelivered
		}
		if !counterpartyDelivered {
			return nil, fmt.Errorf("%w: order %d delivery window closed", domain.ErrNotActive, id)
		}
	default:
		return nil, fmt.Errorf("%w: order %d not in delivery window", domain.ErrNotActive, id)
	}

	if side == domain.SideSeller {
		if o.SellerDelivered {
			return nil, fmt.Errorf("%w: seller of order %d", domain.ErrAlreadyDelivered, id)
		}
		if err := p.adapter.Reserve(account, o.Asset); err != nil {
			return nil, err
		}
		o.SellerDelivered = true
	} else {
		if o.BuyerDelivered {
			return nil, fmt.Errorf("%w: buyer of order %d", domain.ErrAlreadyDelivered, id)
		}
		if err := p.margin.TransferFrom(p.escrow, account, p.escrow, o.DeliveryPrice); err != nil {
			return nil, err
		}
		o.BuyerDelivered = true
	}

	events := []domain.Event{domain.DeliveryRecorded{
		PoolID:  p.id,
		OrderID: id,
		Side:    side,
		Account: account,
	}}

	if o.SellerDelivered && o.BuyerDelivered {
		settled, err := p.settleDelivered(o)
		if err != nil {
			return nil, err
		}
		events = append(events, settled)
	}
	return events, nil
}

// Settle finalizes an order past its relevant deadline: an untaken order past
// valid-till refunds the creator, a taken order past the delivery window is
// resolved by who delivered. Anyone may call it.
func (p *ForwardPool) Settle(id uint64) ([]domain.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, err := p.order(id)
	if err != nil {
		return nil, err
	}
	switch domain.DeriveState(o, p.Now()) {
	case domain.StateSettled:
		return nil, fmt.Errorf("%w: order %d", domain.ErrAlreadySettled, id)
	case domain.StateExpired:
		ev, err := p.settleUnfilled(o)
		if err != nil {
			return nil, err
		}
		return []domain.Event{ev}, nil
	case domain.StateExpiredUnsettled:
		ev, err := p.settleDefaulted(o)
		if err != nil {
			return nil, err
		}
		return []domain.Event{ev}, nil
	}
	return nil, fmt.Errorf("%w: order %d", domain.ErrNotSettleable, id)
}

// settleDelivered pays out a fully delivered order: asset to the buyer, price
// plus margin to the seller. The fee is floor(price*2*rate/base) in one
// division, split between the sides; the buyer's cut never exceeds its margin
// and the seller's never exceeds margin plus price, so payouts stay
// non-negative. Caller must hold the lock.
func (p *ForwardPool) settleDelivered(o *domain.Order) (domain.Event, error) {
	fee := o.DeliveryPrice * 2 * p.fees.FeeRate() / domain.FeeBase

	sellerMargin, err := p.redeem(o.SellerShare)
	if err != nil {
		return nil, err
	}
	buyerMargin, err := p.redeem(o.BuyerShare)
	if err != nil {
		return nil, err
	}

	buyerCut := fee / 2
	if buyerCut > buyerMargin {
		buyerCut = buyerMargin
	}
	sellerCut := fee - buyerCut
	if sellerCut > sellerMargin+o.DeliveryPrice {
		sellerCut = sellerMargin + o.DeliveryPrice
		fee = sellerCut + buyerCut
	}
	sellerPayout := sellerMargin + o.DeliveryPrice - sellerCut
	buyerPayout := buyerMargin - buyerCut

	if err := p.adapter.Release(o.Buyer, o.Asset); err != nil {
		return nil, err
	}
	if sellerPayout > 0 {
		if err := p.margin.Transfer(p.escrow, o.Seller, sellerPayout); err != nil {
			return nil, err
		}
	}
	if buyerPayout > 0 {
		if err := p.margin.Transfer(p.escrow, o.Buyer, buyerPayout); err != nil {
			return nil, err
		}
	}

	o.Settled = true
	p.cfee += fee
	return domain.OrderSettled{
		PoolID:       p.id,
		OrderID:      o.ID,
		Outcome:      domain.OutcomeDelivered,
		Fee:          fee,
		SellerPayout: sellerPayout,
		BuyerPayout:  buyerPayout,
	}, nil
}

// settleDefaulted resolves an order whose delivery window closed with at most
// one side delivered. The defaulter's margin is slashed: a fee cut accrues to
// the pool and the remainder compensates the counterparty. A mutual default
// refunds both margins with no fee. Caller must hold the lock.
func (p *ForwardPool) settleDefaulted(o *domain.Order) (domain.Event, error) {
	rate := p.fees.FeeRate()

	sellerMargin, err := p.redeem(o.SellerShare)
	if err != nil {
		return nil, err
	}
	buyerMargin, err := p.redeem(o.BuyerShare)
	if err != nil {
		return nil, err
	}

	var outcome domain.SettlementOutcome
	var fee, sellerPayout, buyerPayout int64
	switch {
	case o.BuyerDelivered: // seller defaulted
		outcome = domain.OutcomeSellerDefault
		fee = sellerMargin * rate / domain.FeeBase
		buyerPayout = buyerMargin + o.DeliveryPrice + sellerMargin - fee
	case o.SellerDelivered: // buyer defaulted
		outcome = domain.OutcomeBuyerDefault
		fee = buyerMargin * rate / domain.FeeBase
		sellerPayout = sellerMargin + buyerMargin - fee
		if err := p.adapter.Release(o.Seller, o.Asset); err != nil {
			return nil, err
		}
	default:
		outcome = domain.OutcomeMutualDefault
		sellerPayout = sellerMargin
		buyerPayout = buyerMargin
	}

	if sellerPayout > 0 {
		if err := p.margin.Transfer(p.escrow, o.Seller, sellerPayout); err != nil {
			return nil, err
		}
	}
	if buyerPayout > 0 {
		if err := p.margin.Transfer(p.escrow, o.Buyer, buyerPayout); err != nil {
			return nil, err
		}
	}

	o.Settled = true
	p.cfee += fee
	return domain.OrderSettled{
		PoolID:       p.id,
		OrderID:      o.ID,
		Outcome:      outcome,
		Fee:          fee,
		SellerPayout: sellerPayout,
		BuyerPayout:  buyerPayout,
	}, nil
}

// settleUnfilled refunds the creator of an order no one took before
// valid-till, including any deposit-at-create leg. Caller must hold the lock.
func (p *ForwardPool) settleUnfilled(o *domain.Order) (domain.Event, error) {
	var sellerPayout, buyerPayout int64
	if o.Seller != "" {
		refund, err := p.redeem(o.SellerShare)
		if err != nil {
			return nil, err
		}
		if o.SellerDelivered {
			if err := p.adapter.Release(o.Seller, o.Asset); err != nil {
				return nil, err
			}
		}
		if err := p.margin.Transfer(p.escrow, o.Seller, refund); err != nil {
			return nil, err
		}
		sellerPayout = refund
	} else {
		refund, err := p.redeem(o.BuyerShare)
		if err != nil {
			return nil, err
		}
		if o.BuyerDelivered {
			refund += o.DeliveryPrice
		}
		if err := p.margin.Transfer(p.escrow, o.Buyer, refund); err != nil {
			return nil, err
		}
		buyerPayout = refund
	}

	o.Settled = true
	return domain.OrderSettled{
		PoolID:       p.id,
		OrderID:      o.ID,
		Outcome:      domain.OutcomeUnfilled,
		SellerPayout: sellerPayout,
		BuyerPayout:  buyerPayout,
	}, nil
}

// depositMargin pulls margin from an account into escrow and converts it to
// shares through the vault when one is attached. Requires prior allowance on
// the margin ledger. Caller must hold the lock.
func (p *ForwardPool) depositMargin(from string, amount int64) (int64, error) {
	if err := p.margin.TransferFrom(p.escrow, from, p.escrow, amount); err != nil {
		return 0, err
	}
	if p.vault == nil {
		return amount, nil
	}
	return p.vault.Deposit(p.escrow, amount)
}

// redeem converts shares back to margin on the escrow account. Caller must
// hold the lock.
func (p *ForwardPool) redeem(shares int64) (int64, error) {
	if shares == 0 {
		return 0, nil
	}
	if p.vault == nil {
		return shares, nil
	}
	return p.vault.Withdraw(p.escrow, shares)
}

func (p *ForwardPool) authorize(factoryID string) error {
	if factoryID != p.factoryID {
		return domain.ErrNotFactory
	}
	return nil
}

// SetPaused toggles the creation block. Factory only.
func (p *ForwardPool) SetPaused(factoryID string, paused bool) error {
	if err := p.authorize(factoryID); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = paused
	return nil
}

// SetForwardVault attaches the margin vault. Factory only, and only before
// the first order so existing shares never change meaning.
func (p *ForwardPool) SetForwardVault(factoryID string, v *vault.ForwardVault) error {
	if err := p.authorize(factoryID); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.orders) > 0 {
		return fmt.Errorf("vault can only be set on an empty pool")
	}
	p.vault = v
	return nil
}

// CollectFee drains the accrued fee to the given account. Factory only.
func (p *ForwardPool) CollectFee(factoryID, to string) (int64, []domain.Event, error) {
	if err := p.authorize(factoryID); err != nil {
		return 0, nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	amount := p.cfee
	if amount == 0 {
		return 0, nil, nil
	}
	if err := p.margin.Transfer(p.escrow, to, amount); err != nil {
		return 0, nil, err
	}
	p.cfee = 0
	return amount, []domain.Event{domain.FeeCollected{
		PoolID: p.id,
		To:     to,
		Amount: amount,
	}}, nil
}

// WithdrawOther rescues a foreign fungible token mistakenly sent to the
// escrow account. The pool's own margin token cannot be rescued. Factory only.
func (p *ForwardPool) WithdrawOther(factoryID, tokenID, to string, amount int64) error {
	if err := p.authorize(factoryID); err != nil {
		return err
	}
	if tokenID == p.margin.ID() {
		return fmt.Errorf("%w: margin token is not rescuable", domain.ErrUnauthorized)
	}
	other, err := p.registry.Fungible(tokenID)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return other.Transfer(p.escrow, to, amount)
}

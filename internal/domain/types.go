package domain

import "time"

// AssetKind identifies which transfer semantics an asset follows.
type AssetKind string

const (
	AssetKindFungible    AssetKind = "fungible"
	AssetKindNonFungible AssetKind = "non_fungible"
	AssetKindMultiToken  AssetKind = "multi_token"
)

// FeeBase is the denominator for fee rates, basis-point scale.
// fee = amount * rate / FeeBase, floor division.
const FeeBase int64 = 10000

// AssetSpec describes the deliverable leg of an order. Exactly one shape is
// populated depending on the pool's asset kind: Amount for fungible assets,
// TokenIDs for a non-fungible set, IDs+Amounts for a multi-token bundle.
type AssetSpec struct {
	Amount   int64    `json:"amount,omitempty"`
	TokenIDs []uint64 `json:"token_ids,omitempty"`
	IDs      []uint64 `json:"ids,omitempty"`
	Amounts  []int64  `json:"amounts,omitempty"`
}

// OrderState is the lifecycle state of a forward order. It is always derived
// from timestamps and flags (see DeriveState), never stored.
type OrderState int

const (
	StateInactive         OrderState = 0
	StateActive           OrderState = 1
	StateFilled           OrderState = 2
	StateExpired          OrderState = 3
	StateDelivering       OrderState = 4
	StateExpiredUnsettled OrderState = 5
	StateSettled          OrderState = 6
)

func (s OrderState) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActive:
		return "active"
	case StateFilled:
		return "filled"
	case StateExpired:
		return "expired"
	case StateDelivering:
		return "delivering"
	case StateExpiredUnsettled:
		return "expired_unsettled"
	case StateSettled:
		return "settled"
	}
	return "unknown"
}

// Order is one escrowed forward contract. Margin amounts are in the margin
// token's smallest unit (int64, like cents). BuyerShare/SellerShare fix each
// side's claim on the pool's margin ledger at deposit time; settlement
// reconciles the current redeemable value of those shares.
type Order struct {
	ID              uint64     `json:"id"`
	Seller          string     `json:"seller"`
	Buyer           string     `json:"buyer"`
	Asset           AssetSpec  `json:"asset"`
	ValidTill       time.Time  `json:"valid_till"`
	DeliverStart    time.Time  `json:"deliver_start"`
	DeliverEnd      time.Time  `json:"deliver_end"`
	DeliveryPrice   int64      `json:"delivery_price"`
	BuyerMargin     int64      `json:"buyer_margin"`
	SellerMargin    int64      `json:"seller_margin"`
	BuyerShare      int64      `json:"buyer_share"`
	SellerShare     int64      `json:"seller_share"`
	SellerDelivered bool       `json:"seller_delivered"`
	BuyerDelivered  bool       `json:"buyer_delivered"`
	Settled         bool       `json:"settled"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Taken reports whether both counterparties are bound to the order.
func (o *Order) Taken() bool {
	return o.Seller != "" && o.Buyer != ""
}

// DeriveState computes the order's state at the given instant. Pure function
// of the order's flags and timestamps so state can never go stale under a
// partially applied write.
func DeriveState(o *Order, now time.Time) OrderState {
	if o == nil {
		return StateInactive
	}
	if o.Settled {
		return StateSettled
	}
	if !o.Taken() {
		if now.Before(o.ValidTill) {
			return StateActive
		}
		return StateExpired
	}
	if now.Before(o.DeliverStart) {
		return StateFilled
	}
	if now.Before(o.DeliverEnd) {
		return StateDelivering
	}
	return StateExpiredUnsettled
}

// SettlementOutcome classifies how an order was finalized.
type SettlementOutcome string

const (
	OutcomeDelivered     SettlementOutcome = "delivered"
	OutcomeSellerDefault SettlementOutcome = "seller_default"
	OutcomeBuyerDefault  SettlementOutcome = "buyer_default"
	OutcomeMutualDefault SettlementOutcome = "mutual_default"
	OutcomeUnfilled      SettlementOutcome = "unfilled"
)

// DeliverySide identifies which leg of an order performed.
type DeliverySide string

const (
	SideSeller DeliverySide = "seller"
	SideBuyer  DeliverySide = "buyer"
)

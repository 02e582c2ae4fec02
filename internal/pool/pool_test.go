package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathanyu/forward-settlement/internal/domain"
	"github.com/nathanyu/forward-settlement/internal/token"
	"github.com/nathanyu/forward-settlement/internal/vault"
)

type flatFee int64

func (f flatFee) FeeRate() int64 { return int64(f) }

const (
	factoryID = "factory-1"

	price        = int64(1_000_000)
	buyerMargin  = int64(100_000)
	sellerMargin = int64(200_000)
)

type fixture struct {
	pool   *ForwardPool
	margin *token.Fungible
	asset  *token.Fungible
	now    time.Time

	base time.Time
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithFee(t, 10)
}

func newFixtureWithFee(t *testing.T, rate int64) *fixture {
	t.Helper()
	reg := token.NewRegistry()
	margin := token.NewFungible("dai", "Dai Stablecoin", "DAI")
	asset := token.NewFungible("weth", "Wrapped Ether", "WETH")
	require.NoError(t, reg.AddFungible(margin))
	require.NoError(t, reg.AddFungible(asset))

	p, err := New(Config{
		ID:        "p1",
		AssetID:   "weth",
		Kind:      domain.AssetKindFungible,
		MarginID:  "dai",
		Registry:  reg,
		Fees:      flatFee(rate),
		FactoryID: factoryID,
	})
	require.NoError(t, err)

	f := &fixture{pool: p, margin: margin, asset: asset, base: time.Unix(1_700_000_000, 0)}
	f.now = f.base
	p.Now = func() time.Time { return f.now }

	for _, account := range []string{"alice", "bob"} {
		require.NoError(t, margin.Mint(account, 10_000_000))
		margin.Approve(account, p.Escrow(), 10_000_000)
	}
	require.NoError(t, asset.Mint("alice", 500))
	asset.Approve("alice", p.Escrow(), 500)
	return f
}

func (f *fixture) params(isSeller, deposit bool) CreateOrderParams {
	creator := "alice"
	if !isSeller {
		creator = "bob"
	}
	return CreateOrderParams{
		Creator:       creator,
		IsSeller:      isSeller,
		Asset:         domain.AssetSpec{Amount: 500},
		DeliveryPrice: price,
		BuyerMargin:   buyerMargin,
		SellerMargin:  sellerMargin,
		ValidTill:     f.base.Add(1 * time.Hour),
		DeliverStart:  f.base.Add(2 * time.Hour),
		DeliverEnd:    f.base.Add(3 * time.Hour),
		Deposit:       deposit,
	}
}

// alice sells 500 weth forward to bob; both deliver; fee is split evenly.
func TestFullDeliveryLifecycle(t *testing.T) {
	f := newFixture(t)

	o, events, err := f.pool.CreateOrder(f.params(true, false))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), o.ID)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventTypeOrderCreated, events[0].GetType())

	state, err := f.pool.CheckOrderState(0)
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, state)

	_, err = f.pool.TakeOrder("bob", 0)
	require.NoError(t, err)

	state, _ = f.pool.CheckOrderState(0)
	assert.Equal(t, domain.StateFilled, state)

	f.now = f.base.Add(2*time.Hour + time.Minute)
	state, _ = f.pool.CheckOrderState(0)
	assert.Equal(t, domain.StateDelivering, state)

	_, err = f.pool.Deliver("alice", 0)
	require.NoError(t, err)
	events, err = f.pool.Deliver("bob", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	settled, ok := events[1].(domain.OrderSettled)
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeDelivered, settled.Outcome)

	// fee = price*2*rate/base = 2000, half from each side.
	assert.Equal(t, int64(2000), settled.Fee)
	assert.Equal(t, int64(2000), f.pool.CFee())

	assert.Equal(t, 10_000_000+price-1000, f.margin.BalanceOf("alice"))
	assert.Equal(t, 10_000_000-price-1000, f.margin.BalanceOf("bob"))
	assert.Equal(t, int64(500), f.asset.BalanceOf("bob"))
	assert.Equal(t, int64(0), f.asset.BalanceOf("alice"))
	assert.Equal(t, int64(2000), f.margin.BalanceOf(f.pool.Escrow()))

	state, _ = f.pool.CheckOrderState(0)
	assert.Equal(t, domain.StateSettled, state)
}

func TestSellerDefaultSlashesSellerMargin(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.pool.CreateOrder(f.params(true, false))
	require.NoError(t, err)
	_, err = f.pool.TakeOrder("bob", 0)
	require.NoError(t, err)

	f.now = f.base.Add(2*time.Hour + time.Minute)
	_, err = f.pool.Deliver("bob", 0)
	require.NoError(t, err)

	f.now = f.base.Add(4 * time.Hour)
	events, err := f.pool.Settle(0)
	require.NoError(t, err)
	settled := events[0].(domain.OrderSettled)
	assert.Equal(t, domain.OutcomeSellerDefault, settled.Outcome)

	// fee = sellerMargin*rate/base = 200; remainder goes to the buyer.
	assert.Equal(t, int64(200), settled.Fee)
	assert.Equal(t, 10_000_000-sellerMargin, f.margin.BalanceOf("alice"))
	assert.Equal(t, 10_000_000+sellerMargin-200, f.margin.BalanceOf("bob"))
	assert.Equal(t, int64(200), f.pool.CFee())
}

func TestBuyerDefaultSlashesBuyerMarginAndReturnsAsset(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.pool.CreateOrder(f.params(true, false))
	require.NoError(t, err)
	_, err = f.pool.TakeOrder("bob", 0)
	require.NoError(t, err)

	f.now = f.base.Add(2*time.Hour + time.Minute)
	_, err = f.pool.Deliver("alice", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(500), f.asset.BalanceOf(f.pool.Escrow()))

	f.now = f.base.Add(4 * time.Hour)
	events, err := f.pool.Settle(0)
	require.NoError(t, err)
	settled := events[0].(domain.OrderSettled)
	assert.Equal(t, domain.OutcomeBuyerDefault, settled.Outcome)

	// fee = buyerMargin*rate/base = 100; asset comes back to the seller.
	assert.Equal(t, int64(100), settled.Fee)
	assert.Equal(t, 10_000_000+buyerMargin-100, f.margin.BalanceOf("alice"))
	assert.Equal(t, 10_000_000-buyerMargin, f.margin.BalanceOf("bob"))
	assert.Equal(t, int64(500), f.asset.BalanceOf("alice"))
}

func TestMutualDefaultRefundsBothNoFee(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.pool.CreateOrder(f.params(true, false))
	require.NoError(t, err)
	_, err = f.pool.TakeOrder("bob", 0)
	require.NoError(t, err)

	f.now = f.base.Add(4 * time.Hour)
	events, err := f.pool.Settle(0)
	require.NoError(t, err)
	settled := events[0].(domain.OrderSettled)
	assert.Equal(t, domain.OutcomeMutualDefault, settled.Outcome)
	assert.Equal(t, int64(0), settled.Fee)
	assert.Equal(t, int64(10_000_000), f.margin.BalanceOf("alice"))
	assert.Equal(t, int64(10_000_000), f.margin.BalanceOf("bob"))
	assert.Equal(t, int64(0), f.pool.CFee())
}

func TestUnfilledOrderReclaim(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.pool.CreateOrder(f.params(true, true))
	require.NoError(t, err)
	assert.Equal(t, int64(500), f.asset.BalanceOf(f.pool.Escrow()))

	// Settling before expiry is refused.
	_, err = f.pool.Settle(0)
	assert.ErrorIs(t, err, domain.ErrNotSettleable)

	f.now = f.base.Add(90 * time.Minute)
	events, err := f.pool.Settle(0)
	require.NoError(t, err)
	settled := events[0].(domain.OrderSettled)
	assert.Equal(t, domain.OutcomeUnfilled, settled.Outcome)
	assert.Equal(t, int64(10_000_000), f.margin.BalanceOf("alice"))
	assert.Equal(t, int64(500), f.asset.BalanceOf("alice"))

	_, err = f.pool.Settle(0)
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)
}

func TestBuyerInitiatedOrderWithDeposit(t *testing.T) {
	f := newFixture(t)

	o, _, err := f.pool.CreateOrder(f.params(false, true))
	require.NoError(t, err)
	assert.Equal(t, "bob", o.Buyer)
	assert.True(t, o.BuyerDelivered)
	assert.Equal(t, 10_000_000-buyerMargin-price, f.margin.BalanceOf("bob"))

	_, err = f.pool.TakeOrder("alice", 0)
	require.NoError(t, err)

	f.now = f.base.Add(2*time.Hour + time.Minute)
	events, err := f.pool.Deliver("alice", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.OutcomeDelivered, events[1].(domain.OrderSettled).Outcome)
	assert.Equal(t, int64(500), f.asset.BalanceOf("bob"))
}

func TestTakeOrderValidTillBoundary(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.pool.CreateOrder(f.params(true, false))
	require.NoError(t, err)
	_, _, err = f.pool.CreateOrder(f.params(true, false))
	require.NoError(t, err)

	// Takeable up to the last instant before valid-till.
	f.now = f.base.Add(1*time.Hour - time.Second)
	_, err = f.pool.TakeOrder("bob", 0)
	require.NoError(t, err)

	f.now = f.base.Add(1 * time.Hour) // valid-till itself is expired
	_, err = f.pool.TakeOrder("bob", 1)
	assert.ErrorIs(t, err, domain.ErrNotActive)
}

func TestDeliverGuards(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.pool.CreateOrder(f.params(true, false))
	require.NoError(t, err)
	_, err = f.pool.TakeOrder("bob", 0)
	require.NoError(t, err)

	// Outside the delivery window.
	_, err = f.pool.Deliver("alice", 0)
	assert.ErrorIs(t, err, domain.ErrNotActive)

	f.now = f.base.Add(2*time.Hour + time.Minute)
	_, err = f.pool.Deliver("carol", 0)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.pool.Deliver("alice", 0)
	require.NoError(t, err)
	_, err = f.pool.Deliver("alice", 0)
	assert.ErrorIs(t, err, domain.ErrAlreadyDelivered)
}

// Only the opening leg is window-bound: the counterparty closing late still
// settles the order as delivered instead of being slashed as a defaulter.
func TestLateClosingLegStillSettles(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.pool.CreateOrder(f.params(true, false))
	require.NoError(t, err)
	_, err = f.pool.TakeOrder("bob", 0)
	require.NoError(t, err)

	f.now = f.base.Add(2*time.Hour + time.Minute)
	_, err = f.pool.Deliver("alice", 0)
	require.NoError(t, err)

	f.now = f.base.Add(3*time.Hour + time.Minute)
	events, err := f.pool.Deliver("bob", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	settled := events[1].(domain.OrderSettled)
	assert.Equal(t, domain.OutcomeDelivered, settled.Outcome)
	assert.Equal(t, int64(2000), settled.Fee)
	assert.Equal(t, int64(500), f.asset.BalanceOf("bob"))

	state, _ := f.pool.CheckOrderState(0)
	assert.Equal(t, domain.StateSettled, state)
}

func TestLateOpeningLegIsRejected(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.pool.CreateOrder(f.params(true, false))
	require.NoError(t, err)
	_, err = f.pool.TakeOrder("bob", 0)
	require.NoError(t, err)

	f.now = f.base.Add(3*time.Hour + time.Minute)
	_, err = f.pool.Deliver("alice", 0)
	assert.ErrorIs(t, err, domain.ErrNotActive)
	_, err = f.pool.Deliver("bob", 0)
	assert.ErrorIs(t, err, domain.ErrNotActive)
}

// An odd fee is floored once on the total, not per side: price 750 at rate 10
// accrues floor(1.5) = 1, carried by the seller's cut.
func TestOddFeeFlooredOnce(t *testing.T) {
	f := newFixture(t)

	p := f.params(true, false)
	p.DeliveryPrice = 750
	_, _, err := f.pool.CreateOrder(p)
	require.NoError(t, err)
	_, err = f.pool.TakeOrder("bob", 0)
	require.NoError(t, err)

	f.now = f.base.Add(2*time.Hour + time.Minute)
	_, err = f.pool.Deliver("alice", 0)
	require.NoError(t, err)
	events, err := f.pool.Deliver("bob", 0)
	require.NoError(t, err)

	settled := events[1].(domain.OrderSettled)
	assert.Equal(t, int64(1), settled.Fee)
	assert.Equal(t, int64(1), f.pool.CFee())
	assert.Equal(t, 10_000_000+int64(750)-1, f.margin.BalanceOf("alice"))
	assert.Equal(t, 10_000_000-int64(750), f.margin.BalanceOf("bob"))
}

// At extreme rates the buyer's fee cut is capped by its margin; the seller
// carries the rest and the order still settles with no stranded escrow.
func TestFeeCutClampedToBuyerMargin(t *testing.T) {
	f := newFixtureWithFee(t, domain.FeeBase)

	p := f.params(true, false)
	p.DeliveryPrice = 1000
	p.BuyerMargin = 100
	p.SellerMargin = 5000
	_, _, err := f.pool.CreateOrder(p)
	require.NoError(t, err)
	_, err = f.pool.TakeOrder("bob", 0)
	require.NoError(t, err)

	f.now = f.base.Add(2*time.Hour + time.Minute)
	_, err = f.pool.Deliver("alice", 0)
	require.NoError(t, err)
	events, err := f.pool.Deliver("bob", 0)
	require.NoError(t, err)

	// fee = 2*price = 2000; buyer covers 100, seller the remaining 1900.
	settled := events[1].(domain.OrderSettled)
	assert.Equal(t, int64(2000), settled.Fee)
	assert.Equal(t, int64(0), settled.BuyerPayout)
	assert.Equal(t, int64(4100), settled.SellerPayout)
	assert.Equal(t, 10_000_000-int64(900), f.margin.BalanceOf("alice"))
	assert.Equal(t, 10_000_000-int64(1100), f.margin.BalanceOf("bob"))
	assert.Equal(t, int64(2000), f.pool.CFee())
	assert.Equal(t, int64(500), f.asset.BalanceOf("bob"))

	state, _ := f.pool.CheckOrderState(0)
	assert.Equal(t, domain.StateSettled, state)
}

func TestPauseBlocksCreateOnly(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.pool.CreateOrder(f.params(true, false))
	require.NoError(t, err)

	require.NoError(t, f.pool.SetPaused(factoryID, true))
	_, _, err = f.pool.CreateOrder(f.params(true, false))
	assert.ErrorIs(t, err, domain.ErrPaused)

	// Existing orders keep moving while paused.
	_, err = f.pool.TakeOrder("bob", 0)
	require.NoError(t, err)

	require.NoError(t, f.pool.SetPaused(factoryID, false))
	_, _, err = f.pool.CreateOrder(f.params(true, false))
	require.NoError(t, err)
}

func TestOrderIDsAreDense(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		o, _, err := f.pool.CreateOrder(f.params(true, false))
		require.NoError(t, err)
		assert.Equal(t, uint64(i), o.ID)
	}
	assert.Equal(t, 3, f.pool.OrdersLength())
	_, err := f.pool.Order(3)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)

	p := f.params(true, false)
	p.Asset.Amount = 0
	_, _, err := f.pool.CreateOrder(p)
	assert.ErrorIs(t, err, domain.ErrInvalidAssetSpec)

	p = f.params(true, false)
	p.BuyerMargin = 0
	_, _, err = f.pool.CreateOrder(p)
	assert.ErrorIs(t, err, domain.ErrInvalidMargin)

	p = f.params(true, false)
	p.ValidTill = f.base.Add(-time.Minute)
	_, _, err = f.pool.CreateOrder(p)
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)

	p = f.params(true, false)
	p.DeliverEnd = p.DeliverStart
	_, _, err = f.pool.CreateOrder(p)
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)
}

func TestFactoryOnlyGuards(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.pool.SetPaused("intruder", true), domain.ErrNotFactory)
	_, _, err := f.pool.CollectFee("intruder", "treasury")
	assert.ErrorIs(t, err, domain.ErrNotFactory)
	assert.ErrorIs(t, f.pool.WithdrawOther("intruder", "weth", "treasury", 1), domain.ErrNotFactory)
}

func TestCollectFee(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.pool.CreateOrder(f.params(true, false))
	require.NoError(t, err)
	_, err = f.pool.TakeOrder("bob", 0)
	require.NoError(t, err)
	f.now = f.base.Add(2*time.Hour + time.Minute)
	_, err = f.pool.Deliver("alice", 0)
	require.NoError(t, err)
	_, err = f.pool.Deliver("bob", 0)
	require.NoError(t, err)

	amount, events, err := f.pool.CollectFee(factoryID, "treasury")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), amount)
	require.Len(t, events, 1)
	assert.Equal(t, int64(2000), f.margin.BalanceOf("treasury"))
	assert.Equal(t, int64(0), f.pool.CFee())

	// Nothing left: collecting again is a no-op.
	amount, events, err = f.pool.CollectFee(factoryID, "treasury")
	require.NoError(t, err)
	assert.Equal(t, int64(0), amount)
	assert.Empty(t, events)
}

func TestWithdrawOtherRescuesForeignToken(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.asset.Mint(f.pool.Escrow(), 7))
	require.NoError(t, f.pool.WithdrawOther(factoryID, "weth", "treasury", 7))
	assert.Equal(t, int64(7), f.asset.BalanceOf("treasury"))

	err := f.pool.WithdrawOther(factoryID, "dai", "treasury", 1)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

// With a vault attached, margin rides the share price: yield accrued while an
// order is open flows into the settlement payouts.
func TestVaultBackedMarginEarnsYield(t *testing.T) {
	f := newFixture(t)

	v, err := vault.NewForwardVault(f.margin, nil, "vault", "gov", 8000, 500)
	require.NoError(t, err)
	require.NoError(t, f.pool.SetForwardVault(factoryID, v))

	_, _, err = f.pool.CreateOrder(f.params(true, false))
	require.NoError(t, err)
	_, err = f.pool.TakeOrder("bob", 0)
	require.NoError(t, err)

	// Yield doubles the vault's value: 300_000 held, 300_000 donated.
	require.NoError(t, f.margin.Mint("donor", 300_000))
	require.NoError(t, f.margin.Transfer("donor", "vault", 300_000))

	f.now = f.base.Add(4 * time.Hour)
	events, err := f.pool.Settle(0)
	require.NoError(t, err)
	settled := events[0].(domain.OrderSettled)
	assert.Equal(t, domain.OutcomeMutualDefault, settled.Outcome)

	// Each side gets back twice its margin.
	assert.Equal(t, 10_000_000+sellerMargin, f.margin.BalanceOf("alice"))
	assert.Equal(t, 10_000_000+buyerMargin, f.margin.BalanceOf("bob"))
}

func TestSetVaultOnlyOnEmptyPool(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.pool.CreateOrder(f.params(true, false))
	require.NoError(t, err)

	v, err := vault.NewForwardVault(f.margin, nil, "vault", "gov", 8000, 500)
	require.NoError(t, err)
	assert.Error(t, f.pool.SetForwardVault(factoryID, v))
}

func TestVersion(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "v1.0", f.pool.Version())
}

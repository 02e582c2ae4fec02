package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeriveState(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	order := func(mutate func(*Order)) *Order {
		o := &Order{
			ID:           1,
			Seller:       "alice",
			ValidTill:    base.Add(1 * time.Hour),
			DeliverStart: base.Add(2 * time.Hour),
			DeliverEnd:   base.Add(3 * time.Hour),
		}
		if mutate != nil {
			mutate(o)
		}
		return o
	}

	tests := []struct {
		name  string
		order *Order
		now   time.Time
		want  OrderState
	}{
		{"nil order", nil, base, StateInactive},
		{"open before valid-till", order(nil), base, StateActive},
		{"open at valid-till boundary", order(nil), base.Add(1 * time.Hour), StateExpired},
		{"open after valid-till", order(nil), base.Add(90 * time.Minute), StateExpired},
		{
			"taken before delivery window",
			order(func(o *Order) { o.Buyer = "bob" }),
			base.Add(30 * time.Minute),
			StateFilled,
		},
		{
			"taken inside delivery window",
			order(func(o *Order) { o.Buyer = "bob" }),
			base.Add(2*time.Hour + time.Minute),
			StateDelivering,
		},
		{
			"taken at window start boundary",
			order(func(o *Order) { o.Buyer = "bob" }),
			base.Add(2 * time.Hour),
			StateDelivering,
		},
		{
			"taken past window end",
			order(func(o *Order) { o.Buyer = "bob" }),
			base.Add(3 * time.Hour),
			StateExpiredUnsettled,
		},
		{
			"settled flag wins",
			order(func(o *Order) { o.Buyer = "bob"; o.Settled = true }),
			base,
			StateSettled,
		},
		{
			"buyer-initiated open order",
			order(func(o *Order) { o.Seller = ""; o.Buyer = "bob" }),
			base,
			StateActive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveState(tt.order, tt.now))
		})
	}
}

func TestTaken(t *testing.T) {
	assert.False(t, (&Order{Seller: "alice"}).Taken())
	assert.False(t, (&Order{Buyer: "bob"}).Taken())
	assert.True(t, (&Order{Seller: "alice", Buyer: "bob"}).Taken())
}

func TestOrderStateString(t *testing.T) {
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "expired_unsettled", StateExpiredUnsettled.String())
	assert.Equal(t, "settled", StateSettled.String())
	assert.Equal(t, "unknown", OrderState(42).String())
}

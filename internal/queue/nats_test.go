package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathanyu/forward-settlement/internal/domain"
	"github.com/nathanyu/forward-settlement/internal/engine"
	"github.com/nathanyu/forward-settlement/internal/eventstore"
	"github.com/nathanyu/forward-settlement/internal/factory"
	"github.com/nathanyu/forward-settlement/internal/pool"
	"github.com/nathanyu/forward-settlement/internal/telemetry"
	"github.com/nathanyu/forward-settlement/internal/token"
)

func setupBus(t *testing.T) (*NATSClient, *pool.ForwardPool) {
	t.Helper()
	telemetry.InitLogger("forward-settlement-test")

	client, err := NewNATSClient(nats.DefaultURL)
	if err != nil {
		t.Skip("NATS server not available")
	}
	t.Cleanup(client.Close)

	reg := token.NewRegistry()
	dai := token.NewFungible("dai", "Dai Stablecoin", "DAI")
	weth := token.NewFungible("weth", "Wrapped Ether", "WETH")
	require.NoError(t, reg.AddFungible(dai))
	require.NoError(t, reg.AddFungible(weth))

	f := factory.New(reg, "owner", "treasury")
	require.NoError(t, f.SupportMargin("owner", "dai"))

	store, err := eventstore.NewEventStore(filepath.Join(t.TempDir(), "events.log"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	e := engine.New(f, store)
	require.NoError(t, e.InitializeFromEventStore())
	e.SetPublisher(client)
	require.NoError(t, client.StartCommandConsumer(e))

	p, err := e.DeployPool(context.Background(), "owner", "weth", domain.AssetKindFungible, "dai")
	require.NoError(t, err)

	require.NoError(t, dai.Mint("alice", 1_000_000))
	dai.Approve("alice", p.Escrow(), 1_000_000)

	return client, p
}

func TestCommandRoundTrip(t *testing.T) {
	client, p := setupBus(t)

	now := time.Now()
	resp, err := client.PublishCommand(Command{
		CommandID: "cmd-1",
		Type:      CmdCreateOrder,
		PoolID:    p.ID(),
		Order: &pool.CreateOrderParams{
			Creator:       "alice",
			IsSeller:      true,
			Asset:         domain.AssetSpec{Amount: 10},
			DeliveryPrice: 1000,
			BuyerMargin:   100,
			SellerMargin:  200,
			ValidTill:     now.Add(time.Hour),
			DeliverStart:  now.Add(2 * time.Hour),
			DeliverEnd:    now.Add(3 * time.Hour),
		},
	}, 2*time.Second)
	require.NoError(t, err)
	require.True(t, resp.Success, "command failed: %s", resp.Error)
	require.NotNil(t, resp.Order)
	assert.Equal(t, "alice", resp.Order.Seller)
	assert.Equal(t, 1, p.OrdersLength())
}

func TestCommandRejectsBadPayload(t *testing.T) {
	client, p := setupBus(t)

	resp, err := client.PublishCommand(Command{
		CommandID: "cmd-2",
		Type:      CmdCreateOrder,
		PoolID:    p.ID(),
	}, 2*time.Second)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "missing order payload", resp.Error)

	resp, err = client.PublishCommand(Command{
		CommandID: "cmd-3",
		Type:      "bogus",
		PoolID:    p.ID(),
	}, 2*time.Second)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "unknown command type")
}

func TestEventsFanOutOnBus(t *testing.T) {
	client, p := setupBus(t)

	events := make(chan *nats.Msg, 8)
	sub, err := client.GetConn().ChanSubscribe(EventSubject, events)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	now := time.Now()
	resp, err := client.PublishCommand(Command{
		CommandID: "cmd-4",
		Type:      CmdCreateOrder,
		PoolID:    p.ID(),
		Order: &pool.CreateOrderParams{
			Creator:       "alice",
			IsSeller:      true,
			Asset:         domain.AssetSpec{Amount: 10},
			DeliveryPrice: 1000,
			BuyerMargin:   100,
			SellerMargin:  200,
			ValidTill:     now.Add(time.Hour),
			DeliverStart:  now.Add(2 * time.Hour),
			DeliverEnd:    now.Add(3 * time.Hour),
		},
	}, 2*time.Second)
	require.NoError(t, err)
	require.True(t, resp.Success, "command failed: %s", resp.Error)

	select {
	case msg := <-events:
		event, _, err := domain.DeserializeEvent(msg.Data)
		require.NoError(t, err)
		assert.Equal(t, domain.EventTypeOrderCreated, event.GetType())
		assert.Equal(t, p.ID(), event.GetPoolID())
	case <-time.After(2 * time.Second):
		t.Fatal("no event published on the bus")
	}
}

package eventstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathanyu/forward-settlement/internal/domain"
)

func newStore(t *testing.T) (*EventStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.log")
	store, err := NewEventStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestAppendAndLoadAll(t *testing.T) {
	store, _ := newStore(t)

	require.NoError(t, store.Append(domain.PoolDeployed{PoolID: "p1", Asset: "weth", Kind: domain.AssetKindFungible, Margin: "dai"}, 1))
	require.NoError(t, store.AppendBatch([]StoredEvent{
		{Event: domain.OrderCreated{PoolID: "p1", OrderID: 0, Creator: "alice", IsSeller: true}, Seq: 2},
		{Event: domain.OrderTaken{PoolID: "p1", OrderID: 0, Taker: "bob"}, Seq: 3},
	}))

	events, err := store.LoadAll()
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, uint64(1), events[0].Seq)
	deployed, ok := events[0].Event.(domain.PoolDeployed)
	require.True(t, ok)
	assert.Equal(t, "p1", deployed.PoolID)

	created, ok := events[1].Event.(domain.OrderCreated)
	require.True(t, ok)
	assert.Equal(t, "alice", created.Creator)
	assert.True(t, created.IsSeller)
	assert.Equal(t, uint64(3), events[2].Seq)
}

func TestLastSeq(t *testing.T) {
	store, _ := newStore(t)

	last, err := store.LastSeq()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), last)

	require.NoError(t, store.Append(domain.FeeCollected{PoolID: "p1", To: "treasury", Amount: 42}, 7))
	require.NoError(t, store.Append(domain.OrderSettled{PoolID: "p1", Outcome: domain.OutcomeDelivered}, 9))

	last, err = store.LastSeq()
	require.NoError(t, err)
	assert.Equal(t, uint64(9), last)
}

func TestReopenPreservesJournal(t *testing.T) {
	store, path := newStore(t)
	require.NoError(t, store.Append(domain.PoolDeployed{PoolID: "p1"}, 1))
	require.NoError(t, store.Close())

	reopened, err := NewEventStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	require.NoError(t, reopened.Append(domain.PoolDeployed{PoolID: "p2"}, 2))

	events, err := reopened.LoadAll()
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "p1", events[0].Event.GetPoolID())
	assert.Equal(t, "p2", events[1].Event.GetPoolID())
}

func TestClear(t *testing.T) {
	store, _ := newStore(t)
	require.NoError(t, store.Append(domain.PoolDeployed{PoolID: "p1"}, 1))
	require.NoError(t, store.Clear())

	events, err := store.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, events)

	// The store stays writable after a clear.
	require.NoError(t, store.Append(domain.PoolDeployed{PoolID: "p2"}, 2))
	events, err = store.LoadAll()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "p2", events[0].Event.GetPoolID())
}

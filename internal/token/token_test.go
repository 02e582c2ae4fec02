package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFungibleTransfer(t *testing.T) {
	dai := NewFungible("dai", "Dai Stablecoin", "DAI")
	require.NoError(t, dai.Mint("alice", 100))

	require.NoError(t, dai.Transfer("alice", "bob", 40))
	assert.Equal(t, int64(60), dai.BalanceOf("alice"))
	assert.Equal(t, int64(40), dai.BalanceOf("bob"))

	err := dai.Transfer("alice", "bob", 61)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, int64(60), dai.BalanceOf("alice"))
}

func TestFungibleAllowance(t *testing.T) {
	dai := NewFungible("dai", "Dai Stablecoin", "DAI")
	require.NoError(t, dai.Mint("alice", 100))

	// No unsolicited pulls.
	err := dai.TransferFrom("spender", "alice", "bob", 10)
	assert.ErrorIs(t, err, ErrInsufficientAllowance)

	dai.Approve("alice", "spender", 50)
	require.NoError(t, dai.TransferFrom("spender", "alice", "bob", 30))
	assert.Equal(t, int64(20), dai.Allowance("alice", "spender"))

	err = dai.TransferFrom("spender", "alice", "bob", 21)
	assert.ErrorIs(t, err, ErrInsufficientAllowance)
}

func TestNonFungibleTransfer(t *testing.T) {
	punks := NewNonFungible("punks", "Punks", "PUNK")
	require.NoError(t, punks.Mint("alice", 1))
	assert.ErrorIs(t, punks.Mint("bob", 1), ErrTokenExists)

	// Approval is per token id and cleared on transfer.
	err := punks.TransferFrom("spender", "alice", "bob", 1)
	assert.ErrorIs(t, err, ErrNotApproved)

	require.NoError(t, punks.Approve("alice", "spender", 1))
	require.NoError(t, punks.TransferFrom("spender", "alice", "bob", 1))

	owner, err := punks.OwnerOf(1)
	require.NoError(t, err)
	assert.Equal(t, "bob", owner)

	err = punks.TransferFrom("spender", "bob", "alice", 1)
	assert.ErrorIs(t, err, ErrNotApproved)
}

func TestNonFungibleOwnsAll(t *testing.T) {
	punks := NewNonFungible("punks", "Punks", "PUNK")
	require.NoError(t, punks.Mint("alice", 1))
	require.NoError(t, punks.Mint("alice", 2))
	require.NoError(t, punks.Mint("bob", 3))
	require.NoError(t, punks.Approve("alice", "escrow", 1))
	require.NoError(t, punks.Approve("alice", "escrow", 2))

	require.NoError(t, punks.OwnsAll("escrow", "alice", []uint64{1, 2}))
	assert.ErrorIs(t, punks.OwnsAll("escrow", "alice", []uint64{1, 3}), ErrTokenNotOwned)
	assert.ErrorIs(t, punks.OwnsAll("escrow", "alice", []uint64{1, 9}), ErrTokenNotMinted)
}

func TestMultiTokenBatchTransfer(t *testing.T) {
	bundle := NewMultiToken("bundle", "uri://bundle")
	require.NoError(t, bundle.MintBatch("alice", []uint64{1, 2}, []int64{10, 20}))

	err := bundle.BatchTransferFrom("escrow", "alice", "bob", []uint64{1}, []int64{5})
	assert.ErrorIs(t, err, ErrNotApproved)

	bundle.SetApprovalForAll("alice", "escrow", true)
	require.NoError(t, bundle.BatchTransferFrom("escrow", "alice", "bob", []uint64{1, 2}, []int64{5, 20}))
	assert.Equal(t, int64(5), bundle.BalanceOf("alice", 1))
	assert.Equal(t, int64(0), bundle.BalanceOf("alice", 2))
	assert.Equal(t, int64(20), bundle.BalanceOf("bob", 2))

	// A short balance anywhere in the batch moves nothing.
	err = bundle.BatchTransferFrom("escrow", "alice", "bob", []uint64{1, 2}, []int64{1, 1})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, int64(5), bundle.BalanceOf("alice", 1))
}

func TestWrappedDepositWithdraw(t *testing.T) {
	wnat := NewWrapped("wnative", "Wrapped Native", "WNAT")
	require.NoError(t, wnat.Deposit("alice", 100))
	assert.Equal(t, int64(100), wnat.BalanceOf("alice"))

	require.NoError(t, wnat.Withdraw("alice", 60))
	assert.Equal(t, int64(40), wnat.BalanceOf("alice"))

	assert.ErrorIs(t, wnat.Withdraw("alice", 41), ErrInsufficientBalance)
	assert.Error(t, wnat.Deposit("alice", 0))
}

func TestRegistryResolution(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.AddFungible(NewFungible("dai", "Dai", "DAI")))
	assert.Error(t, reg.AddFungible(NewFungible("dai", "Dai", "DAI")))

	_, err := reg.Fungible("dai")
	require.NoError(t, err)
	_, err = reg.Fungible("usdc")
	assert.ErrorIs(t, err, ErrTokenUnknown)
	_, err = reg.NonFungible("dai")
	assert.ErrorIs(t, err, ErrTokenUnknown)
}

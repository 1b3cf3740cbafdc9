package engine

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/escrowledger/internal/events"
)

func TestPauseGatesMutations(t *testing.T) {
	f := newFixture(t)
	id := f.list(t, nativeParams(1_000, 5))
	pid := f.mustBuyNative(t, id, 1, 1_000)
	require.NoError(t, f.e.ConfirmDelivery(call(buyerAddr), pid))
	pending := f.mustBuyNative(t, id, 1, 1_000)

	require.ErrorIs(t, f.e.Pause(call(sellerAddr)), ErrNotOwner)
	require.ErrorIs(t, f.e.Unpause(call(ownerAddr)), ErrNotPaused)
	require.NoError(t, f.e.Pause(call(ownerAddr)))
	require.True(t, f.e.Paused())
	require.ErrorIs(t, f.e.Pause(call(ownerAddr)), ErrPaused)

	_, err := f.e.CreateListing(call(sellerAddr), nativeParams(1, 1))
	require.ErrorIs(t, err, ErrPaused)
	require.ErrorIs(t, f.e.UpdateListing(call(sellerAddr), id, nativeParams(1, 1)), ErrPaused)
	require.ErrorIs(t, f.e.DeleteListing(call(sellerAddr), id), ErrPaused)
	_, err = f.buyNative(buyerAddr, id, 1, 1_000)
	require.ErrorIs(t, err, ErrPaused)
	_, err = f.e.PurchaseWithSecondary(call(buyerAddr), id, 1)
	require.ErrorIs(t, err, ErrPaused)
	require.ErrorIs(t, f.e.ConfirmDelivery(call(buyerAddr), pending), ErrPaused)

	// Sellers can still get their money out.
	paid, err := f.e.EmergencyWithdraw(call(sellerAddr))
	require.NoError(t, err)
	require.Equal(t, u(990), paid.Native)

	require.NoError(t, f.e.Unpause(call(ownerAddr)))
	require.False(t, f.e.Paused())
	require.NoError(t, f.e.ConfirmDelivery(call(buyerAddr), pending))
}

func TestEmergencyWithdrawRequiresPause(t *testing.T) {
	f := newFixture(t)
	id := f.list(t, nativeParams(1_000, 1))
	pid := f.mustBuyNative(t, id, 1, 1_000)
	require.NoError(t, f.e.ConfirmDelivery(call(buyerAddr), pid))

	_, err := f.e.EmergencyWithdraw(call(sellerAddr))
	require.ErrorIs(t, err, ErrNotPaused)

	require.NoError(t, f.e.Pause(call(ownerAddr)))
	f.rec.Reset()
	_, err = f.e.EmergencyWithdraw(call(otherAddr))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	_, err = f.e.EmergencyWithdraw(call(sellerAddr))
	require.NoError(t, err)

	evs := f.rec.Events()
	require.Len(t, evs, 1)
	require.Equal(t, events.TypeEarningsWithdrawn, evs[0].Type)
	require.Equal(t, "true", evs[0].Attributes["emergency"])
}

func TestWithdrawEarningsWorksWhilePaused(t *testing.T) {
	f := newFixture(t)
	id := f.list(t, nativeParams(1_000, 1))
	pid := f.mustBuyNative(t, id, 1, 1_000)
	require.NoError(t, f.e.ConfirmDelivery(call(buyerAddr), pid))
	require.NoError(t, f.e.Pause(call(ownerAddr)))

	_, err := f.e.WithdrawEarnings(call(sellerAddr))
	require.NoError(t, err)
	_, err = f.e.WithdrawFees(call(ownerAddr))
	require.NoError(t, err)
}

func TestTransferOwnership(t *testing.T) {
	f := newFixture(t)
	next := common.HexToAddress("0x00000000000000000000000000000000000000ff")

	require.ErrorIs(t, f.e.TransferOwnership(call(sellerAddr), next), ErrNotOwner)
	require.ErrorIs(t, f.e.TransferOwnership(call(ownerAddr), common.Address{}), ErrInvalidOwner)

	f.rec.Reset()
	require.NoError(t, f.e.TransferOwnership(call(ownerAddr), next))
	require.Equal(t, next, f.e.Owner())
	evs := f.rec.Events()
	require.Len(t, evs, 1)
	require.Equal(t, events.TypeOwnerTransferred, evs[0].Type)
	require.Equal(t, ownerAddr.Hex(), evs[0].Attributes["previousOwner"])

	require.ErrorIs(t, f.e.Pause(call(ownerAddr)), ErrNotOwner)
	require.NoError(t, f.e.Pause(call(next)))
}

func TestReceiveRefusesDirectTransfers(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.e.Receive(Call{Caller: buyerAddr, Value: uint256.NewInt(5)}), ErrDirectTransferNotAccepted)
	require.ErrorIs(t, f.e.Pause(Call{Caller: ownerAddr, Value: uint256.NewInt(5)}), ErrDirectTransferNotAccepted)
	require.False(t, f.e.Paused())
}

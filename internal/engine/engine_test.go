package engine

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/escrowledger/internal/domain"
	"github.com/punchamoorthee/escrowledger/internal/events"
)

// hookToken wraps a real token and runs onPull inside TransferFrom, the way a
// hostile token contract would call back into the engine.
type hookToken struct {
	Token
	onPull func()
	onPush func()
}

func (h *hookToken) TransferFrom(from, to common.Address, amount *uint256.Int) error {
	if h.onPull != nil {
		h.onPull()
	}
	return h.Token.TransferFrom(from, to, amount)
}

func (h *hookToken) Transfer(to common.Address, amount *uint256.Int) error {
	if h.onPush != nil {
		h.onPush()
	}
	return h.Token.Transfer(to, amount)
}

func newHookedFixture(t *testing.T) (*fixture, *hookToken) {
	t.Helper()
	f := newFixture(t)
	hook := &hookToken{Token: f.tok.As(engineAddr)}
	e, err := New(Config{
		Address: engineAddr,
		Owner:   ownerAddr,
		Token:   hook,
		Bank:    f.wal.Payer(engineAddr),
		Emitter: f.rec,
	})
	require.NoError(t, err)
	e.SetNowFunc(func() int64 { return f.now })
	f.e = e
	return f, hook
}

func TestNewValidatesConfig(t *testing.T) {
	f := newFixture(t)
	base := Config{
		Address: engineAddr,
		Owner:   ownerAddr,
		Token:   f.tok.As(engineAddr),
		Bank:    f.wal.Payer(engineAddr),
	}

	cfg := base
	cfg.Address = common.Address{}
	_, err := New(cfg)
	require.Error(t, err)

	cfg = base
	cfg.Owner = common.Address{}
	_, err = New(cfg)
	require.ErrorIs(t, err, ErrInvalidOwner)

	cfg = base
	cfg.Token = nil
	_, err = New(cfg)
	require.Error(t, err)

	e, err := New(base)
	require.NoError(t, err)
	require.Equal(t, uint8(6), e.SecondaryDecimals())
	require.Equal(t, engineAddr, e.Address())
	require.Equal(t, ownerAddr, e.Owner())
}

func TestReentrantCallsAreRejected(t *testing.T) {
	f, hook := newHookedFixture(t)
	id := f.list(t, dualParams(100, 100, 3))
	prior := f.mustBuyNative(t, id, 1, 100)

	var inner []error
	hook.onPull = func() {
		inner = append(inner, f.e.ConfirmDelivery(call(buyerAddr), prior))
		_, err := f.e.PurchaseWithSecondary(call(buyerAddr), id, 1)
		inner = append(inner, err)
		_, err = f.e.WithdrawEarnings(call(sellerAddr))
		inner = append(inner, err)
		inner = append(inner, f.e.Restore(f.e.Snapshot()))
	}

	pid, err := f.e.PurchaseWithSecondary(call(buyerAddr), id, 1)
	require.NoError(t, err)
	require.Len(t, inner, 4)
	for _, err := range inner {
		require.ErrorIs(t, err, ErrReentrantCall)
	}

	// The outer call is unaffected and the engine is usable afterwards.
	require.Equal(t, uint64(1), f.listing(t, id).Quantity)
	require.False(t, f.purchase(t, prior).Confirmed)
	hook.onPull = nil
	require.NoError(t, f.e.ConfirmDelivery(call(buyerAddr), pid))
}

func TestReentrantPayoutIsRejected(t *testing.T) {
	f, hook := newHookedFixture(t)
	id := f.list(t, dualParams(100, 100, 3))
	pid, err := f.e.PurchaseWithSecondary(call(buyerAddr), id, 1)
	require.NoError(t, err)
	require.NoError(t, f.e.ConfirmDelivery(call(buyerAddr), pid))

	var again error
	hook.onPush = func() { _, again = f.e.WithdrawEarnings(call(sellerAddr)) }

	paid, err := f.e.WithdrawEarnings(call(sellerAddr))
	require.NoError(t, err)
	require.Equal(t, u(99), paid.Secondary)
	require.ErrorIs(t, again, ErrReentrantCall)
	require.Equal(t, uint256.NewInt(1_000_099), f.tok.BalanceOf(sellerAddr))
}

func TestPanicRevertsCall(t *testing.T) {
	f, hook := newHookedFixture(t)
	id := f.list(t, dualParams(100, 100, 3))
	f.rec.Reset()

	hook.onPull = func() { panic("token exploded") }
	require.Panics(t, func() {
		_, _ = f.e.PurchaseWithSecondary(call(buyerAddr), id, 1)
	})

	require.Equal(t, uint64(3), f.listing(t, id).Quantity)
	require.Zero(t, f.e.PendingPurchaseCount(id))
	require.Empty(t, f.rec.Events())

	hook.onPull = nil
	pid, err := f.e.PurchaseWithSecondary(call(buyerAddr), id, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), pid)
}

func TestEventsOnlyOnSuccess(t *testing.T) {
	f := newFixture(t)
	_, err := f.e.CreateListing(call(sellerAddr), nativeParams(0, 1))
	require.Error(t, err)
	require.Empty(t, f.rec.Events())

	id := f.list(t, nativeParams(5, 2))
	pid := f.mustBuyNative(t, id, 1, 5)
	require.NoError(t, f.e.ConfirmDelivery(call(buyerAddr), pid))
	_, err = f.e.WithdrawEarnings(call(sellerAddr))
	require.NoError(t, err)
	require.NoError(t, f.e.SetListingStatus(call(sellerAddr), id, domain.Inactive))

	require.Equal(t, []string{
		events.TypeListingCreated,
		events.TypeItemPurchased,
		events.TypeDeliveryConfirmed,
		events.TypeEarningsWithdrawn,
		events.TypeListingUpdated,
	}, f.rec.Types())
}

func TestPendingCountMatchesPurchases(t *testing.T) {
	f := newFixture(t)
	a := f.list(t, nativeParams(10, 10))
	b := f.list(t, dualParams(10, 10, 10))
	var pids []uint64
	for i := 0; i < 3; i++ {
		pids = append(pids, f.mustBuyNative(t, a, 1, 10))
		pid, err := f.e.PurchaseWithSecondary(call(buyerAddr), b, 2)
		require.NoError(t, err)
		pids = append(pids, pid)
	}
	require.NoError(t, f.e.ConfirmDelivery(call(buyerAddr), pids[0]))
	require.NoError(t, f.e.ConfirmDelivery(call(buyerAddr), pids[3]))

	for _, id := range []uint64{a, b} {
		var pending uint64
		for _, pid := range f.e.ListingPurchases(id) {
			if f.purchase(t, pid).Pending() {
				pending++
			}
		}
		require.Equal(t, pending, f.e.PendingPurchaseCount(id), "listing %d", id)
	}
	require.Equal(t, uint64(2), f.e.PendingPurchaseCount(a))
	require.Equal(t, uint64(2), f.e.PendingPurchaseCount(b))
}

func TestChangesTracksTouchedRecords(t *testing.T) {
	f := newFixture(t)
	a := f.list(t, nativeParams(10, 2))
	b := f.list(t, nativeParams(10, 2))
	first := f.e.Changes()
	require.Len(t, first.Listings, 2)
	require.Equal(t, uint64(3), first.NextListingID)

	require.Empty(t, f.e.Changes().Listings)

	pid := f.mustBuyNative(t, a, 1, 10)
	require.NoError(t, f.e.ConfirmDelivery(call(buyerAddr), pid))
	require.NoError(t, f.e.DeleteListing(call(sellerAddr), b))

	ch := f.e.Changes()
	require.Len(t, ch.Listings, 1)
	require.Equal(t, a, ch.Listings[0].ID)
	require.Equal(t, []uint64{b}, ch.DeletedListings)
	require.Len(t, ch.Purchases, 1)
	require.True(t, ch.Purchases[0].Confirmed)
	require.Equal(t, u(10), ch.Earnings[sellerAddr].Native)
	require.Equal(t, u(0), ch.PlatformFees.Native)
	require.Equal(t, uint64(2), ch.NextPurchaseID)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	f := newFixture(t)
	a := f.list(t, dualParams(10_000, 500, 5))
	b := f.list(t, nativeParams(70, 3))
	c := f.list(t, nativeParams(20, 1))
	p1 := f.mustBuyNative(t, a, 2, 20_000)
	p2, err := f.e.PurchaseWithSecondary(call(buyerAddr), a, 1)
	require.NoError(t, err)
	p3 := f.mustBuyNative(t, b, 1, 70)
	require.NoError(t, f.e.ConfirmDelivery(call(buyerAddr), p1))
	require.NoError(t, f.e.DeleteListing(call(sellerAddr), c))
	require.NoError(t, f.e.Pause(call(ownerAddr)))

	snap := f.e.Snapshot()

	restored, err := New(Config{
		Address: engineAddr,
		Owner:   otherAddr,
		Token:   f.tok.As(engineAddr),
		Bank:    f.wal.Payer(engineAddr),
	})
	require.NoError(t, err)
	require.NoError(t, restored.Restore(snap))

	require.Equal(t, snap, restored.Snapshot())
	require.Equal(t, ownerAddr, restored.Owner())
	require.True(t, restored.Paused())
	require.ElementsMatch(t, f.e.ListingsOf(sellerAddr), restored.ListingsOf(sellerAddr))
	require.Equal(t, []uint64{p1, p2, p3}, restored.PurchasesOf(buyerAddr))
	require.Equal(t, []uint64{p1, p2}, restored.ListingPurchases(a))
	require.Equal(t, uint64(1), restored.PendingPurchaseCount(a))
	require.Equal(t, uint64(1), restored.PendingPurchaseCount(b))
	_, err = restored.Listing(c)
	require.ErrorIs(t, err, ErrItemDoesNotExist)

	// Counters carry over: the next id is never a reused one.
	require.NoError(t, restored.Unpause(call(ownerAddr)))
	id, err := restored.CreateListing(call(sellerAddr), nativeParams(1, 1))
	require.NoError(t, err)
	require.Equal(t, uint64(4), id)
}

func TestRestoreRejectsInconsistentSnapshots(t *testing.T) {
	f := newFixture(t)
	require.Error(t, f.e.Restore(nil))
	require.Error(t, f.e.Restore(&domain.Snapshot{}))

	bad := &domain.Snapshot{
		NextListingID:  2,
		NextPurchaseID: 1,
		Listings:       []domain.Listing{{ID: 5, Seller: sellerAddr, Quantity: 1}},
	}
	err := f.e.Restore(bad)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrReentrantCall))

	id := f.list(t, nativeParams(10, 2))
	soldOut := f.e.Snapshot()
	soldOut.Listings[0].Quantity = 0
	require.Equal(t, domain.Active, soldOut.Listings[0].Status)
	err = f.e.Restore(soldOut)
	require.ErrorContains(t, err, "active with no stock")
	require.Equal(t, uint64(2), f.listing(t, id).Quantity)
}

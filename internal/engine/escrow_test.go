package engine

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/escrowledger/internal/domain"
	"github.com/punchamoorthee/escrowledger/internal/events"
)

func TestPurchaseWithNativeSellsOut(t *testing.T) {
	f := newFixture(t)
	id := f.list(t, nativeParams(1, 5))

	pid := f.mustBuyNative(t, id, 5, 5)
	require.Equal(t, uint64(1), pid)

	l := f.listing(t, id)
	require.Zero(t, l.Quantity)
	require.Equal(t, domain.Inactive, l.Status)

	_, err := f.buyNative(buyerAddr, id, 1, 1)
	require.ErrorIs(t, err, ErrZeroQuantity)

	p := f.purchase(t, pid)
	require.Equal(t, buyerAddr, p.Buyer)
	require.Equal(t, sellerAddr, p.Seller)
	require.Equal(t, uint64(5), p.Quantity)
	require.Equal(t, u(5), p.PaidAmount)
	require.Equal(t, domain.Native, p.PaymentMethod)
	require.False(t, p.Confirmed)
	require.Equal(t, startTime, p.CreatedAt)

	require.Equal(t, []uint64{pid}, f.e.PurchasesOf(buyerAddr))
	require.Equal(t, []uint64{pid}, f.e.ListingPurchases(id))
	require.Equal(t, uint64(1), f.e.PendingPurchaseCount(id))
	require.Equal(t, u(5), f.e.CustodyBalances().Native)
}

func TestPurchaseQuantityBounds(t *testing.T) {
	f := newFixture(t)
	id := f.list(t, nativeParams(10, 2))

	_, err := f.buyNative(buyerAddr, id, 0, 0)
	require.ErrorIs(t, err, ErrZeroQuantity)
	_, err = f.buyNative(buyerAddr, id, 3, 30)
	require.ErrorIs(t, err, ErrZeroQuantity)
	_, err = f.buyNative(buyerAddr, 42, 1, 10)
	require.ErrorIs(t, err, ErrItemDoesNotExist)
	_, err = f.buyNative(buyerAddr, 0, 1, 10)
	require.ErrorIs(t, err, ErrItemDoesNotExist)
}

func TestPurchaseWithNativeRequiresExactAmount(t *testing.T) {
	f := newFixture(t)
	id := f.list(t, nativeParams(100, 3))
	f.rec.Reset()

	for _, value := range []uint64{0, 199, 201} {
		_, err := f.buyNative(buyerAddr, id, 2, value)
		require.ErrorIs(t, err, ErrExactAmountRequired)
	}

	l := f.listing(t, id)
	require.Equal(t, uint64(3), l.Quantity)
	require.Empty(t, f.e.PurchasesOf(buyerAddr))
	require.Zero(t, f.e.PendingPurchaseCount(id))
	require.Empty(t, f.rec.Events())
	require.Equal(t, uint256.NewInt(1_000_000), f.wal.BalanceOf(buyerAddr))
	custody := f.e.CustodyBalances()
	require.True(t, custody.Native.IsZero())

	// The failed attempts did not consume a purchase id.
	pid := f.mustBuyNative(t, id, 2, 200)
	require.Equal(t, uint64(1), pid)
}

func TestPurchaseRejectsUnacceptedCurrency(t *testing.T) {
	f := newFixture(t)
	id := f.list(t, nativeParams(100, 3))

	_, err := f.e.PurchaseWithSecondary(call(buyerAddr), id, 1)
	require.ErrorIs(t, err, ErrInvalidPaymentMethod)

	secondaryOnly := f.list(t, ListingParams{PriceSecondary: u(5), Quantity: 1, AcceptsSecondary: true})
	_, err = f.buyNative(buyerAddr, secondaryOnly, 1, 5)
	require.ErrorIs(t, err, ErrInvalidPaymentMethod)
}

func TestPurchaseTotalOverflow(t *testing.T) {
	f := newFixture(t)
	huge := new(uint256.Int).Div(new(uint256.Int).SetAllOne(), uint256.NewInt(2))
	p := nativeParams(1, 3)
	p.PriceNative = *new(uint256.Int).AddUint64(huge, 1)
	id := f.list(t, p)

	_, err := f.e.PurchaseWithNative(call(buyerAddr), id, 2)
	require.ErrorIs(t, err, ErrAmountOverflow)
	require.Equal(t, uint64(3), f.listing(t, id).Quantity)
}

func TestPurchaseWithSecondary(t *testing.T) {
	f := newFixture(t)
	id := f.list(t, dualParams(100, 250, 4))

	pid, err := f.e.PurchaseWithSecondary(call(buyerAddr), id, 2)
	require.NoError(t, err)

	p := f.purchase(t, pid)
	require.Equal(t, domain.Secondary, p.PaymentMethod)
	require.Equal(t, u(500), p.PaidAmount)
	require.Equal(t, uint256.NewInt(999_500), f.tok.BalanceOf(buyerAddr))
	require.Equal(t, uint256.NewInt(500), f.tok.BalanceOf(engineAddr))
	require.Equal(t, uint256.NewInt(999_500), f.tok.Allowance(buyerAddr, engineAddr))
	require.Equal(t, u(500), f.e.CustodyBalances().Secondary)
	require.Equal(t, uint64(2), f.listing(t, id).Quantity)
}

func TestPurchaseWithSecondaryFailedPullLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	id := f.list(t, dualParams(100, 250, 4))
	f.rec.Reset()
	require.NoError(t, f.tok.Approve(buyerAddr, engineAddr, uint256.NewInt(100)))

	_, err := f.e.PurchaseWithSecondary(call(buyerAddr), id, 2)
	require.ErrorIs(t, err, ErrTransferFailed)

	l := f.listing(t, id)
	require.Equal(t, uint64(4), l.Quantity)
	require.Equal(t, domain.Active, l.Status)
	require.Empty(t, f.e.PurchasesOf(buyerAddr))
	require.Empty(t, f.e.ListingPurchases(id))
	require.Zero(t, f.e.PendingPurchaseCount(id))
	require.Empty(t, f.rec.Events())
	_, err = f.e.Purchase(1)
	require.ErrorIs(t, err, ErrInvalidPurchaseID)
	require.Equal(t, uint256.NewInt(1_000_000), f.tok.BalanceOf(buyerAddr))
}

func TestPurchaseWithSecondaryRejectsAttachedValue(t *testing.T) {
	f := newFixture(t)
	id := f.list(t, dualParams(100, 250, 4))
	_, err := f.e.PurchaseWithSecondary(Call{Caller: buyerAddr, Value: uint256.NewInt(1)}, id, 1)
	require.ErrorIs(t, err, ErrDirectTransferNotAccepted)
}

func TestSellerMayBuyOwnListing(t *testing.T) {
	f := newFixture(t)
	id := f.list(t, nativeParams(10, 2))
	pid, err := f.buyNative(sellerAddr, id, 1, 10)
	require.NoError(t, err)
	p := f.purchase(t, pid)
	require.Equal(t, p.Buyer, p.Seller)
}

func TestPurchaseEventCarriesSnapshot(t *testing.T) {
	f := newFixture(t)
	id := f.list(t, nativeParams(7, 3))
	f.rec.Reset()
	f.mustBuyNative(t, id, 3, 21)

	evs := f.rec.Events()
	require.Len(t, evs, 1)
	require.Equal(t, events.TypeItemPurchased, evs[0].Type)
	require.Equal(t, "1", evs[0].Attributes["purchaseId"])
	require.Equal(t, "21", evs[0].Attributes["amount"])
	require.Equal(t, "native", evs[0].Attributes["currency"])
	require.Equal(t, buyerAddr.Hex(), evs[0].Attributes["buyer"])
}

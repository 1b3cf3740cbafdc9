package engine

import (
	"github.com/holiman/uint256"

	"github.com/punchamoorthee/escrowledger/internal/domain"
	"github.com/punchamoorthee/escrowledger/internal/events"
)

// PurchaseWithNative buys quantity units paying exactly priceNative*quantity
// as value attached to the call.
func (e *Engine) PurchaseWithNative(call Call, listingID, quantity uint64) (id uint64, err error) {
	if err := e.enter(call); err != nil {
		return 0, err
	}
	defer e.exit(&err)

	if err = e.whenNotPaused(); err != nil {
		return 0, err
	}
	l, total, err := e.quote(listingID, quantity, domain.Native)
	if err != nil {
		return 0, err
	}
	if !call.value().Eq(total) {
		return 0, ErrExactAmountRequired
	}
	p := e.openEscrow(call, l, quantity, total, domain.Native)
	return p.ID, nil
}

// PurchaseWithSecondary buys quantity units pulling priceSecondary*quantity
// from the caller's token balance. The caller must have approved the engine.
func (e *Engine) PurchaseWithSecondary(call Call, listingID, quantity uint64) (id uint64, err error) {
	if err := e.enter(call); err != nil {
		return 0, err
	}
	defer e.exit(&err)

	if err = nonPayable(call); err != nil {
		return 0, err
	}
	if err = e.whenNotPaused(); err != nil {
		return 0, err
	}
	l, total, err := e.quote(listingID, quantity, domain.Secondary)
	if err != nil {
		return 0, err
	}
	p := e.openEscrow(call, l, quantity, total, domain.Secondary)

	// State is final before the token is called; a failed pull reverts it.
	if err = e.token.TransferFrom(call.Caller, e.self, total); err != nil {
		return 0, transferFailed(err)
	}
	return p.ID, nil
}

// quote validates a purchase request and returns the exact total due.
func (e *Engine) quote(listingID, quantity uint64, c domain.Currency) (domain.Listing, *uint256.Int, error) {
	l, err := e.liveListing(listingID)
	if err != nil {
		return domain.Listing{}, nil, err
	}
	if quantity == 0 || quantity > l.Quantity {
		return domain.Listing{}, nil, ErrZeroQuantity
	}
	if l.Status != domain.Active {
		return domain.Listing{}, nil, ErrListingInactive
	}
	if !l.Accepts(c) {
		return domain.Listing{}, nil, ErrInvalidPaymentMethod
	}
	price := l.Price(c)
	total, overflow := new(uint256.Int).MulOverflow(&price, uint256.NewInt(quantity))
	if overflow {
		return domain.Listing{}, nil, ErrAmountOverflow
	}
	return l, total, nil
}

// openEscrow applies the shared purchase effects and records a pending
// escrow carrying a snapshot of the seller and the amount paid.
func (e *Engine) openEscrow(call Call, l domain.Listing, quantity uint64, total *uint256.Int, c domain.Currency) domain.Purchase {
	l.Quantity -= quantity
	if l.Quantity == 0 {
		l.Status = domain.Inactive
	}
	e.putListing(l)

	id := e.nextPurchaseID
	e.putCounter(&e.nextPurchaseID, id+1)
	p := domain.Purchase{
		ID:            id,
		ListingID:     l.ID,
		Buyer:         call.Caller,
		Seller:        l.Seller,
		Quantity:      quantity,
		PaidAmount:    *total,
		PaymentMethod: c,
		CreatedAt:     e.now(),
	}
	e.putPurchase(p)
	appendID(&e.journal, e.buyerPurchases, call.Caller, id)
	appendID(&e.journal, e.listingPurchases, l.ID, id)
	e.putPending(l.ID, e.pendingCount[l.ID]+1)
	e.emit(purchaseEvent(events.TypeItemPurchased, p))
	return p
}

package engine

import (
	"github.com/holiman/uint256"

	"github.com/punchamoorthee/escrowledger/internal/domain"
	"github.com/punchamoorthee/escrowledger/internal/events"
)

// ListingParams are the seller-controlled listing fields. Status is only
// honoured by UpdateListing; new listings always start ACTIVE.
type ListingParams struct {
	PriceNative      uint256.Int
	PriceSecondary   uint256.Int
	Quantity         uint64
	Metadata         string
	AcceptsNative    bool
	AcceptsSecondary bool
	Status           domain.ListingStatus
}

func validatePricing(p ListingParams) error {
	if !p.AcceptsNative && !p.AcceptsSecondary {
		return ErrInvalidPaymentMethod
	}
	if p.AcceptsNative && p.PriceNative.IsZero() {
		return ErrZeroPrice
	}
	if p.AcceptsSecondary && p.PriceSecondary.IsZero() {
		return ErrZeroPrice
	}
	return nil
}

// liveListing resolves an id to an existing listing.
func (e *Engine) liveListing(id uint64) (domain.Listing, error) {
	if id == 0 || id >= e.nextListingID {
		return domain.Listing{}, ErrItemDoesNotExist
	}
	l, ok := e.listings[id]
	if !ok || !l.Exists() {
		return domain.Listing{}, ErrItemDoesNotExist
	}
	return l, nil
}

// ownedListing resolves an id to a listing sold by the caller.
func (e *Engine) ownedListing(call Call, id uint64) (domain.Listing, error) {
	l, err := e.liveListing(id)
	if err != nil {
		return domain.Listing{}, err
	}
	if l.Seller != call.Caller {
		return domain.Listing{}, ErrUnauthorized
	}
	return l, nil
}

// CreateListing registers a new ACTIVE listing owned by the caller.
func (e *Engine) CreateListing(call Call, p ListingParams) (id uint64, err error) {
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
	if p.Quantity == 0 {
		return 0, ErrZeroQuantity
	}
	if err = validatePricing(p); err != nil {
		return 0, err
	}

	id = e.nextListingID
	l := domain.Listing{
		ID:               id,
		Seller:           call.Caller,
		PriceNative:      p.PriceNative,
		PriceSecondary:   p.PriceSecondary,
		Quantity:         p.Quantity,
		Metadata:         p.Metadata,
		Status:           domain.Active,
		CreatedAt:        e.now(),
		AcceptsNative:    p.AcceptsNative,
		AcceptsSecondary: p.AcceptsSecondary,
	}
	e.putCounter(&e.nextListingID, id+1)
	e.putListing(l)
	e.addSellerListing(call.Caller, id)
	e.emit(listingEvent(events.TypeListingCreated, l))
	return id, nil
}

// UpdateListing replaces the seller-controlled fields. A quantity of zero is
// accepted and forces the listing INACTIVE. Purchases already made keep the
// terms they were bought at.
func (e *Engine) UpdateListing(call Call, id uint64, p ListingParams) (err error) {
	if err := e.enter(call); err != nil {
		return err
	}
	defer e.exit(&err)

	if err = nonPayable(call); err != nil {
		return err
	}
	if err = e.whenNotPaused(); err != nil {
		return err
	}
	l, err := e.ownedListing(call, id)
	if err != nil {
		return err
	}
	if err = validatePricing(p); err != nil {
		return err
	}
	if p.Status != domain.Active && p.Status != domain.Inactive {
		return ErrInvalidStatus
	}

	l.PriceNative = p.PriceNative
	l.PriceSecondary = p.PriceSecondary
	l.Quantity = p.Quantity
	l.Metadata = p.Metadata
	l.AcceptsNative = p.AcceptsNative
	l.AcceptsSecondary = p.AcceptsSecondary
	l.Status = p.Status
	if l.Quantity == 0 {
		l.Status = domain.Inactive
	}
	e.putListing(l)
	e.emit(listingEvent(events.TypeListingUpdated, l))
	return nil
}

// SetListingStatus pauses or resumes sales of a listing.
func (e *Engine) SetListingStatus(call Call, id uint64, status domain.ListingStatus) (err error) {
	if err := e.enter(call); err != nil {
		return err
	}
	defer e.exit(&err)

	if err = nonPayable(call); err != nil {
		return err
	}
	if err = e.whenNotPaused(); err != nil {
		return err
	}
	l, err := e.ownedListing(call, id)
	if err != nil {
		return err
	}
	switch status {
	case domain.Active:
		if l.Quantity == 0 {
			return ErrZeroQuantity
		}
	case domain.Inactive:
	default:
		return ErrInvalidStatus
	}

	l.Status = status
	e.putListing(l)
	e.emit(listingEvent(events.TypeListingUpdated, l))
	return nil
}

// DeleteListing removes a listing with no unresolved purchases. Purchase
// records that reference it stay valid.
func (e *Engine) DeleteListing(call Call, id uint64) (err error) {
	if err := e.enter(call); err != nil {
		return err
	}
	defer e.exit(&err)

	if err = nonPayable(call); err != nil {
		return err
	}
	if err = e.whenNotPaused(); err != nil {
		return err
	}
	l, err := e.ownedListing(call, id)
	if err != nil {
		return err
	}
	if e.pendingCount[id] != 0 {
		return ErrPendingPurchasesExist
	}

	e.dropListing(id)
	e.removeSellerListing(l.Seller, id)
	e.emit(listingDeletedEvent(id, l.Seller))
	return nil
}

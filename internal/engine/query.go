package engine

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/punchamoorthee/escrowledger/internal/domain"
)

func (e *Engine) Address() common.Address  { return e.self }
func (e *Engine) Owner() common.Address    { return e.owner }
func (e *Engine) Paused() bool             { return e.paused }
func (e *Engine) SecondaryDecimals() uint8 { return e.secondaryDecimals }

func (e *Engine) Listing(id uint64) (domain.Listing, error) {
	return e.liveListing(id)
}

func (e *Engine) Purchase(id uint64) (domain.Purchase, error) {
	return e.knownPurchase(id)
}

// ListingsOf returns the seller's live listing ids. Order is not stable
// across deletions.
func (e *Engine) ListingsOf(seller common.Address) []uint64 {
	return append([]uint64{}, e.sellerListings[seller]...)
}

func (e *Engine) PurchasesOf(buyer common.Address) []uint64 {
	return append([]uint64{}, e.buyerPurchases[buyer]...)
}

// ListingPurchases returns every purchase made against the listing,
// including after the listing was deleted.
func (e *Engine) ListingPurchases(listingID uint64) []uint64 {
	return append([]uint64{}, e.listingPurchases[listingID]...)
}

func (e *Engine) PendingPurchaseCount(listingID uint64) uint64 {
	return e.pendingCount[listingID]
}

// EarningsOf returns the seller's credited, not yet withdrawn balance.
func (e *Engine) EarningsOf(account common.Address) domain.Balance {
	return e.earnings[account]
}

func (e *Engine) PlatformFees() domain.Balance { return e.platformFees }

// IsClaimable reports whether the seller could claim the purchase now.
func (e *Engine) IsClaimable(purchaseID uint64) (bool, error) {
	p, err := e.knownPurchase(purchaseID)
	if err != nil {
		return false, err
	}
	return !p.Confirmed && e.now() >= p.CreatedAt+timeoutSeconds, nil
}

// ClaimableAt returns the unix time from which the seller may claim.
func (e *Engine) ClaimableAt(purchaseID uint64) (int64, error) {
	p, err := e.knownPurchase(purchaseID)
	if err != nil {
		return 0, err
	}
	return p.CreatedAt + timeoutSeconds, nil
}

// CustodyBalances reports what the engine account actually holds on each
// currency, as seen by the collaborators.
func (e *Engine) CustodyBalances() domain.Balance {
	var b domain.Balance
	if v := e.bank.BalanceOf(e.self); v != nil {
		b.Native = *v
	}
	if v := e.token.BalanceOf(e.self); v != nil {
		b.Secondary = *v
	}
	return b
}

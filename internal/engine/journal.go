package engine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/punchamoorthee/escrowledger/internal/domain"
)

// journal records an undo step for every state write made by the running
// call. A failed call reverts them newest first.
type journal struct {
	undo []func()
}

func (j *journal) record(fn func()) { j.undo = append(j.undo, fn) }

func (j *journal) revert() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = j.undo[:0]
}

func (j *journal) reset() { j.undo = j.undo[:0] }

// dirtySet tracks records touched since the last Changes export.
type dirtySet struct {
	listings  map[uint64]struct{}
	purchases map[uint64]struct{}
	earnings  map[common.Address]struct{}
}

func newDirtySet() dirtySet {
	return dirtySet{
		listings:  make(map[uint64]struct{}),
		purchases: make(map[uint64]struct{}),
		earnings:  make(map[common.Address]struct{}),
	}
}

func (e *Engine) putListing(l domain.Listing) {
	prev, had := e.listings[l.ID]
	e.journal.record(func() {
		if had {
			e.listings[l.ID] = prev
		} else {
			delete(e.listings, l.ID)
		}
	})
	e.listings[l.ID] = l
	e.dirty.listings[l.ID] = struct{}{}
}

func (e *Engine) dropListing(id uint64) {
	prev, had := e.listings[id]
	if !had {
		return
	}
	e.journal.record(func() { e.listings[id] = prev })
	delete(e.listings, id)
	e.dirty.listings[id] = struct{}{}
}

func (e *Engine) putPurchase(p domain.Purchase) {
	prev, had := e.purchases[p.ID]
	e.journal.record(func() {
		if had {
			e.purchases[p.ID] = prev
		} else {
			delete(e.purchases, p.ID)
		}
	})
	e.purchases[p.ID] = p
	e.dirty.purchases[p.ID] = struct{}{}
}

func (e *Engine) putEarnings(account common.Address, b domain.Balance) {
	prev, had := e.earnings[account]
	e.journal.record(func() {
		if had {
			e.earnings[account] = prev
		} else {
			delete(e.earnings, account)
		}
	})
	e.earnings[account] = b
	e.dirty.earnings[account] = struct{}{}
}

func (e *Engine) putPlatformFees(b domain.Balance) {
	prev := e.platformFees
	e.journal.record(func() { e.platformFees = prev })
	e.platformFees = b
}

func (e *Engine) putCounter(c *uint64, v uint64) {
	prev := *c
	e.journal.record(func() { *c = prev })
	*c = v
}

func (e *Engine) putFlag(f *bool, v bool) {
	prev := *f
	e.journal.record(func() { *f = prev })
	*f = v
}

func (e *Engine) putOwner(owner common.Address) {
	prev := e.owner
	e.journal.record(func() { e.owner = prev })
	e.owner = owner
}

func (e *Engine) putPending(listingID, n uint64) {
	prev, had := e.pendingCount[listingID]
	e.journal.record(func() {
		if had {
			e.pendingCount[listingID] = prev
		} else {
			delete(e.pendingCount, listingID)
		}
	})
	e.pendingCount[listingID] = n
}

// appendID appends id to the index under key.
func appendID[K comparable](j *journal, index map[K][]uint64, key K, id uint64) {
	index[key] = append(index[key], id)
	j.record(func() {
		ids := index[key]
		if len(ids) <= 1 {
			delete(index, key)
			return
		}
		index[key] = ids[:len(ids)-1]
	})
}

// addSellerListing appends to the seller index and remembers the position.
func (e *Engine) addSellerListing(seller common.Address, id uint64) {
	e.sellerListings[seller] = append(e.sellerListings[seller], id)
	e.listingPos[id] = len(e.sellerListings[seller]) - 1
	e.journal.record(func() {
		ids := e.sellerListings[seller]
		e.sellerListings[seller] = ids[:len(ids)-1]
		delete(e.listingPos, id)
	})
}

// removeSellerListing swaps the id with the last entry and truncates.
func (e *Engine) removeSellerListing(seller common.Address, id uint64) {
	ids := e.sellerListings[seller]
	i, ok := e.listingPos[id]
	if !ok || i >= len(ids) || ids[i] != id {
		return
	}
	last := len(ids) - 1
	lastID := ids[last]
	ids[i] = lastID
	e.listingPos[lastID] = i
	e.sellerListings[seller] = ids[:last]
	delete(e.listingPos, id)
	e.journal.record(func() {
		restored := e.sellerListings[seller][:last+1]
		restored[last] = lastID
		restored[i] = id
		e.sellerListings[seller] = restored
		e.listingPos[lastID] = last
		e.listingPos[id] = i
	})
}

func addAmount(a, b *uint256.Int) (uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return uint256.Int{}, ErrAmountOverflow
	}
	return *sum, nil
}

// Package engine implements the escrow marketplace ledger: listings, escrowed
// purchases, fee settlement, withdrawals and the admin gate over them.
//
// The engine is single-writer. Callers must serialise access (see
// internal/service). Each mutating call either applies all of its effects or
// none: writes go through an undo journal that is reverted on any error, and
// events are released to the emitter only once the call has succeeded.
package engine

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/punchamoorthee/escrowledger/internal/domain"
	"github.com/punchamoorthee/escrowledger/internal/events"
)

const (
	// FeeBps is the platform fee charged on every resolved purchase.
	FeeBps = 100
	// BpsDenominator is the basis-point scale.
	BpsDenominator = 10_000
	// TimeoutDuration is how long a buyer has to confirm before the seller
	// may claim the funds.
	TimeoutDuration = 30 * 24 * time.Hour
)

var timeoutSeconds = int64(TimeoutDuration / time.Second)

// Token is the secondary-currency collaborator, acting with the engine's
// own account as the spender and sender.
type Token interface {
	TransferFrom(from, to common.Address, amount *uint256.Int) error
	Transfer(to common.Address, amount *uint256.Int) error
	BalanceOf(account common.Address) *uint256.Int
	Decimals() uint8
}

// NativeBank pushes native value out of the engine's custody.
type NativeBank interface {
	Send(to common.Address, amount *uint256.Int) error
	BalanceOf(account common.Address) *uint256.Int
}

// Call carries the authenticated caller and the native value attached to
// the call. The hosting platform has already moved Value into custody and
// takes it back if the call fails.
type Call struct {
	Caller common.Address
	Value  *uint256.Int
}

func (c Call) value() *uint256.Int {
	if c.Value == nil {
		return new(uint256.Int)
	}
	return c.Value
}

type Config struct {
	// Address is the engine's custody account on both currencies.
	Address common.Address
	Owner   common.Address
	Token   Token
	Bank    NativeBank
	Emitter events.Emitter
}

type Engine struct {
	self              common.Address
	token             Token
	bank              NativeBank
	secondaryDecimals uint8
	emitter           events.Emitter
	nowFn             func() int64

	owner          common.Address
	paused         bool
	nextListingID  uint64
	nextPurchaseID uint64
	listings       map[uint64]domain.Listing
	purchases      map[uint64]domain.Purchase
	earnings       map[common.Address]domain.Balance
	platformFees   domain.Balance

	sellerListings   map[common.Address][]uint64
	listingPos       map[uint64]int
	buyerPurchases   map[common.Address][]uint64
	listingPurchases map[uint64][]uint64
	pendingCount     map[uint64]uint64

	entered bool
	journal journal
	outbox  []events.Event
	dirty   dirtySet
}

func New(cfg Config) (*Engine, error) {
	if cfg.Address == (common.Address{}) {
		return nil, errors.New("engine: custody address required")
	}
	if cfg.Owner == (common.Address{}) {
		return nil, ErrInvalidOwner
	}
	if cfg.Token == nil || cfg.Bank == nil {
		return nil, errors.New("engine: token and native bank required")
	}
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e := &Engine{
		self:              cfg.Address,
		token:             cfg.Token,
		bank:              cfg.Bank,
		secondaryDecimals: cfg.Token.Decimals(),
		emitter:           emitter,
		nowFn:             func() int64 { return time.Now().Unix() },
		owner:             cfg.Owner,
		dirty:             newDirtySet(),
	}
	e.resetState()
	return e, nil
}

func (e *Engine) resetState() {
	e.paused = false
	e.nextListingID = 1
	e.nextPurchaseID = 1
	e.listings = make(map[uint64]domain.Listing)
	e.purchases = make(map[uint64]domain.Purchase)
	e.earnings = make(map[common.Address]domain.Balance)
	e.platformFees = domain.Balance{}
	e.sellerListings = make(map[common.Address][]uint64)
	e.listingPos = make(map[uint64]int)
	e.buyerPurchases = make(map[common.Address][]uint64)
	e.listingPurchases = make(map[uint64][]uint64)
	e.pendingCount = make(map[uint64]uint64)
}

// SetNowFunc overrides the clock. The clock must never go backwards.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 { return e.nowFn() }

// enter marks the engine busy. A nested call fails before touching the
// outer call's journal.
func (e *Engine) enter(call Call) error {
	if e.entered {
		return ErrReentrantCall
	}
	if call.Caller == (common.Address{}) {
		return ErrInvalidCaller
	}
	e.entered = true
	e.journal.reset()
	e.outbox = e.outbox[:0]
	return nil
}

// exit commits or reverts the running call. It must be deferred right after
// a successful enter.
func (e *Engine) exit(errp *error) {
	if r := recover(); r != nil {
		e.journal.revert()
		e.outbox = e.outbox[:0]
		e.entered = false
		panic(r)
	}
	if *errp != nil {
		e.journal.revert()
		e.outbox = e.outbox[:0]
		e.entered = false
		return
	}
	e.journal.reset()
	pending := append([]events.Event(nil), e.outbox...)
	e.outbox = e.outbox[:0]
	e.entered = false
	for _, ev := range pending {
		e.emitter.Emit(ev)
	}
}

func (e *Engine) emit(ev events.Event) { e.outbox = append(e.outbox, ev) }

func nonPayable(call Call) error {
	if !call.value().IsZero() {
		return ErrDirectTransferNotAccepted
	}
	return nil
}

func (e *Engine) whenNotPaused() error {
	if e.paused {
		return ErrPaused
	}
	return nil
}

func transferFailed(cause error) error {
	return fmt.Errorf("%w: %w", ErrTransferFailed, cause)
}

// Changes returns the records touched since the previous call to Changes
// together with the current scalar state, and clears the dirty set.
func (e *Engine) Changes() *domain.Snapshot {
	s := e.meta()
	for id := range e.dirty.listings {
		if l, ok := e.listings[id]; ok {
			s.Listings = append(s.Listings, l)
		} else {
			s.DeletedListings = append(s.DeletedListings, id)
		}
	}
	for id := range e.dirty.purchases {
		if p, ok := e.purchases[id]; ok {
			s.Purchases = append(s.Purchases, p)
		}
	}
	for acct := range e.dirty.earnings {
		s.Earnings[acct] = e.earnings[acct]
	}
	sort.Slice(s.Listings, func(i, j int) bool { return s.Listings[i].ID < s.Listings[j].ID })
	sort.Slice(s.DeletedListings, func(i, j int) bool { return s.DeletedListings[i] < s.DeletedListings[j] })
	sort.Slice(s.Purchases, func(i, j int) bool { return s.Purchases[i].ID < s.Purchases[j].ID })
	e.dirty = newDirtySet()
	return s
}

// Snapshot exports the complete state.
func (e *Engine) Snapshot() *domain.Snapshot {
	s := e.meta()
	for _, l := range e.listings {
		s.Listings = append(s.Listings, l)
	}
	for _, p := range e.purchases {
		s.Purchases = append(s.Purchases, p)
	}
	for acct, b := range e.earnings {
		s.Earnings[acct] = b
	}
	sort.Slice(s.Listings, func(i, j int) bool { return s.Listings[i].ID < s.Listings[j].ID })
	sort.Slice(s.Purchases, func(i, j int) bool { return s.Purchases[i].ID < s.Purchases[j].ID })
	return s
}

func (e *Engine) meta() *domain.Snapshot {
	return &domain.Snapshot{
		Owner:          e.owner,
		Paused:         e.paused,
		NextListingID:  e.nextListingID,
		NextPurchaseID: e.nextPurchaseID,
		PlatformFees:   e.platformFees,
		Earnings:       make(map[common.Address]domain.Balance),
	}
}

// Restore replaces the engine state with a full snapshot and rebuilds every
// index from the records.
func (e *Engine) Restore(s *domain.Snapshot) error {
	if e.entered {
		return ErrReentrantCall
	}
	if s == nil {
		return errors.New("engine: nil snapshot")
	}
	if s.NextListingID == 0 || s.NextPurchaseID == 0 {
		return errors.New("engine: id counters start at 1")
	}
	for _, l := range s.Listings {
		if l.ID == 0 || l.ID >= s.NextListingID {
			return fmt.Errorf("engine: listing id %d outside counter range", l.ID)
		}
		if l.Exists() && l.Status == domain.Active && l.Quantity == 0 {
			return fmt.Errorf("engine: listing %d is active with no stock", l.ID)
		}
	}
	for _, p := range s.Purchases {
		if p.ID == 0 || p.ID >= s.NextPurchaseID {
			return fmt.Errorf("engine: purchase id %d outside counter range", p.ID)
		}
	}
	e.resetState()
	if s.Owner != (common.Address{}) {
		e.owner = s.Owner
	}
	e.paused = s.Paused
	e.nextListingID = s.NextListingID
	e.nextPurchaseID = s.NextPurchaseID
	e.platformFees = s.PlatformFees

	listings := append([]domain.Listing(nil), s.Listings...)
	sort.Slice(listings, func(i, j int) bool { return listings[i].ID < listings[j].ID })
	for _, l := range listings {
		if !l.Exists() {
			continue
		}
		e.listings[l.ID] = l
		e.sellerListings[l.Seller] = append(e.sellerListings[l.Seller], l.ID)
		e.listingPos[l.ID] = len(e.sellerListings[l.Seller]) - 1
	}
	purchases := append([]domain.Purchase(nil), s.Purchases...)
	sort.Slice(purchases, func(i, j int) bool { return purchases[i].ID < purchases[j].ID })
	for _, p := range purchases {
		e.purchases[p.ID] = p
		e.buyerPurchases[p.Buyer] = append(e.buyerPurchases[p.Buyer], p.ID)
		e.listingPurchases[p.ListingID] = append(e.listingPurchases[p.ListingID], p.ID)
		if p.Pending() {
			e.pendingCount[p.ListingID]++
		}
	}
	for acct, b := range s.Earnings {
		e.earnings[acct] = b
	}
	e.dirty = newDirtySet()
	return nil
}

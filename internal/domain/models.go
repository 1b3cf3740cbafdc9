package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Currency identifies which settlement rail a purchase was paid on.
type Currency uint8

const (
	Native Currency = iota
	Secondary
)

func (c Currency) String() string {
	switch c {
	case Native:
		return "native"
	case Secondary:
		return "secondary"
	default:
		return fmt.Sprintf("currency(%d)", uint8(c))
	}
}

// ParseCurrency accepts the lowercase names produced by String.
func ParseCurrency(s string) (Currency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "native":
		return Native, nil
	case "secondary":
		return Secondary, nil
	default:
		return 0, fmt.Errorf("unknown currency %q", s)
	}
}

// ListingStatus is the sale state of a listing.
type ListingStatus uint8

const (
	Active ListingStatus = iota
	Inactive
)

func (s ListingStatus) String() string {
	switch s {
	case Active:
		return "active"
	case Inactive:
		return "inactive"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

func ParseListingStatus(s string) (ListingStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return Active, nil
	case "inactive":
		return Inactive, nil
	default:
		return 0, fmt.Errorf("unknown listing status %q", s)
	}
}

// Listing is a seller's offer of inventory at per-currency prices.
// A zero Seller marks a deleted (or never created) listing.
type Listing struct {
	ID               uint64
	Seller           common.Address
	PriceNative      uint256.Int
	PriceSecondary   uint256.Int
	Quantity         uint64
	Metadata         string
	Status           ListingStatus
	CreatedAt        int64
	AcceptsNative    bool
	AcceptsSecondary bool
}

// Exists reports whether the record is live.
func (l Listing) Exists() bool {
	return l.Seller != (common.Address{})
}

// Price returns the unit price for the given currency.
func (l Listing) Price(c Currency) uint256.Int {
	if c == Secondary {
		return l.PriceSecondary
	}
	return l.PriceNative
}

// Accepts reports whether the listing can be bought with c.
func (l Listing) Accepts(c Currency) bool {
	if c == Secondary {
		return l.AcceptsSecondary
	}
	return l.AcceptsNative
}

// Purchase is the escrow record of a single buy. Seller and PaidAmount are
// snapshots taken at purchase time and never follow later listing edits.
type Purchase struct {
	ID            uint64
	ListingID     uint64
	Buyer         common.Address
	Seller        common.Address
	Quantity      uint64
	PaidAmount    uint256.Int
	PaymentMethod Currency
	Confirmed     bool
	CreatedAt     int64
}

// Pending reports whether the purchase still awaits resolution.
func (p Purchase) Pending() bool { return !p.Confirmed }

// Balance holds an amount per settlement currency.
type Balance struct {
	Native    uint256.Int
	Secondary uint256.Int
}

func (b Balance) IsZero() bool {
	return b.Native.IsZero() && b.Secondary.IsZero()
}

// Of returns the amount held in currency c.
func (b *Balance) Of(c Currency) *uint256.Int {
	if c == Secondary {
		return &b.Secondary
	}
	return &b.Native
}

// Snapshot is the persistable engine state. A full snapshot restores an
// engine; a partial one (as returned after each committed call) carries only
// the records touched since the previous export.
type Snapshot struct {
	Owner          common.Address
	Paused         bool
	NextListingID  uint64
	NextPurchaseID uint64
	PlatformFees   Balance

	Listings        []Listing
	DeletedListings []uint64
	Purchases       []Purchase
	Earnings        map[common.Address]Balance
}

// Empty reports whether the snapshot carries no record changes.
func (s *Snapshot) Empty() bool {
	return len(s.Listings) == 0 && len(s.DeletedListings) == 0 &&
		len(s.Purchases) == 0 && len(s.Earnings) == 0
}

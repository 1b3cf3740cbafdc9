package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/escrowledger/internal/domain"
)

// NativeDecimals is the display scale of the native currency.
const NativeDecimals = 18

// Amount is a monetary value on the wire: the exact integer in base units and
// a human-readable rendering at the currency's decimals.
type Amount struct {
	Raw     string `json:"raw"`
	Display string `json:"display"`
}

func NewAmount(v *uint256.Int, decimals uint8) Amount {
	return Amount{
		Raw:     v.Dec(),
		Display: decimal.NewFromBigInt(v.ToBig(), -int32(decimals)).String(),
	}
}

// ParseAmount reads a base-unit integer. An empty string is zero.
func ParseAmount(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return v, nil
}

// ParseUnits reads a human-readable amount such as "12.5" at the given
// decimals. Fractions finer than the currency supports are rejected.
func ParseUnits(s string, decimals uint8) (*uint256.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d decimals", s, decimals)
	}
	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("amount %q out of range", s)
	}
	return v, nil
}

// ListingRequest is the payload for creating or replacing a listing.
type ListingRequest struct {
	PriceNative      string `json:"price_native"`
	PriceSecondary   string `json:"price_secondary"`
	Quantity         uint64 `json:"quantity"`
	Metadata         string `json:"metadata"`
	AcceptsNative    bool   `json:"accepts_native"`
	AcceptsSecondary bool   `json:"accepts_secondary"`
	Status           string `json:"status,omitempty"`
}

type StatusRequest struct {
	Status string `json:"status"`
}

// PurchaseRequest buys from a listing. Value is the native amount attached
// and must equal the total for native purchases.
type PurchaseRequest struct {
	ListingID     uint64 `json:"listing_id"`
	Quantity      uint64 `json:"quantity"`
	PaymentMethod string `json:"payment_method"`
	Value         string `json:"value,omitempty"`
}

type OwnerRequest struct {
	NewOwner string `json:"new_owner"`
}

// FaucetRequest credits development funds. Amounts are base units.
type FaucetRequest struct {
	Account   string `json:"account"`
	Native    string `json:"native"`
	Secondary string `json:"secondary"`
}

type ApproveRequest struct {
	Amount string `json:"amount"`
}

type NativeTransferRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type Listing struct {
	ID               uint64 `json:"id"`
	Seller           string `json:"seller"`
	PriceNative      Amount `json:"price_native"`
	PriceSecondary   Amount `json:"price_secondary"`
	Quantity         uint64 `json:"quantity"`
	Metadata         string `json:"metadata"`
	Status           string `json:"status"`
	CreatedAt        int64  `json:"created_at"`
	AcceptsNative    bool   `json:"accepts_native"`
	AcceptsSecondary bool   `json:"accepts_secondary"`
	PendingPurchases uint64 `json:"pending_purchases"`
}

func NewListing(l domain.Listing, pending uint64, secondaryDecimals uint8) Listing {
	return Listing{
		ID:               l.ID,
		Seller:           l.Seller.Hex(),
		PriceNative:      NewAmount(&l.PriceNative, NativeDecimals),
		PriceSecondary:   NewAmount(&l.PriceSecondary, secondaryDecimals),
		Quantity:         l.Quantity,
		Metadata:         l.Metadata,
		Status:           l.Status.String(),
		CreatedAt:        l.CreatedAt,
		AcceptsNative:    l.AcceptsNative,
		AcceptsSecondary: l.AcceptsSecondary,
		PendingPurchases: pending,
	}
}

type Purchase struct {
	ID            uint64 `json:"id"`
	ListingID     uint64 `json:"listing_id"`
	Buyer         string `json:"buyer"`
	Seller        string `json:"seller"`
	Quantity      uint64 `json:"quantity"`
	PaidAmount    Amount `json:"paid_amount"`
	PaymentMethod string `json:"payment_method"`
	Confirmed     bool   `json:"confirmed"`
	CreatedAt     int64  `json:"created_at"`
	ClaimableAt   int64  `json:"claimable_at"`
}

func NewPurchase(p domain.Purchase, claimableAt int64, secondaryDecimals uint8) Purchase {
	decimals := uint8(NativeDecimals)
	if p.PaymentMethod == domain.Secondary {
		decimals = secondaryDecimals
	}
	return Purchase{
		ID:            p.ID,
		ListingID:     p.ListingID,
		Buyer:         p.Buyer.Hex(),
		Seller:        p.Seller.Hex(),
		Quantity:      p.Quantity,
		PaidAmount:    NewAmount(&p.PaidAmount, decimals),
		PaymentMethod: p.PaymentMethod.String(),
		Confirmed:     p.Confirmed,
		CreatedAt:     p.CreatedAt,
		ClaimableAt:   claimableAt,
	}
}

type Balance struct {
	Native    Amount `json:"native"`
	Secondary Amount `json:"secondary"`
}

func NewBalance(b domain.Balance, secondaryDecimals uint8) Balance {
	return Balance{
		Native:    NewAmount(&b.Native, NativeDecimals),
		Secondary: NewAmount(&b.Secondary, secondaryDecimals),
	}
}

// AccountBalances is what an account holds on the platform and what the
// engine owes it.
type AccountBalances struct {
	Account  string  `json:"account"`
	Wallet   Balance `json:"wallet"`
	Earnings Balance `json:"earnings"`
	Allowed  Amount  `json:"allowance"`
}

type Claimable struct {
	PurchaseID  uint64 `json:"purchase_id"`
	Claimable   bool   `json:"claimable"`
	ClaimableAt int64  `json:"claimable_at"`
}

type EngineStatus struct {
	Address           string `json:"address"`
	Owner             string `json:"owner"`
	Paused            bool   `json:"paused"`
	SecondaryDecimals uint8  `json:"secondary_decimals"`
	FeeBps            int    `json:"fee_bps"`
}

// AccountBalance is one persisted platform balance on one currency.
type AccountBalance struct {
	Account  common.Address
	Currency domain.Currency
	Amount   uint256.Int
}

// IdempotencyRecord ties a client key to the request it first carried and
// the purchase that request created.
type IdempotencyRecord struct {
	Key         string    `json:"key"`
	RequestHash string    `json:"request_hash"`
	PurchaseID  uint64    `json:"purchase_id"`
	CreatedAt   time.Time `json:"created_at"`
}

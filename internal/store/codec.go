package store

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/punchamoorthee/escrowledger/internal/domain"
)

// JSON record shapes for key-value storage. Amounts are decimal strings.

type metaRecord struct {
	Owner          string        `json:"owner"`
	Paused         bool          `json:"paused"`
	NextListingID  uint64        `json:"next_listing_id"`
	NextPurchaseID uint64        `json:"next_purchase_id"`
	PlatformFees   balanceRecord `json:"platform_fees"`
}

type listingRecord struct {
	ID               uint64 `json:"id"`
	Seller           string `json:"seller"`
	PriceNative      string `json:"price_native"`
	PriceSecondary   string `json:"price_secondary"`
	Quantity         uint64 `json:"quantity"`
	Metadata         string `json:"metadata"`
	Status           uint8  `json:"status"`
	CreatedAt        int64  `json:"created_at"`
	AcceptsNative    bool   `json:"accepts_native"`
	AcceptsSecondary bool   `json:"accepts_secondary"`
}

type purchaseRecord struct {
	ID            uint64 `json:"id"`
	ListingID     uint64 `json:"listing_id"`
	Buyer         string `json:"buyer"`
	Seller        string `json:"seller"`
	Quantity      uint64 `json:"quantity"`
	PaidAmount    string `json:"paid_amount"`
	PaymentMethod uint8  `json:"payment_method"`
	Confirmed     bool   `json:"confirmed"`
	CreatedAt     int64  `json:"created_at"`
}

type balanceRecord struct {
	Native    string `json:"native"`
	Secondary string `json:"secondary"`
}

func encodeMeta(s *domain.Snapshot) metaRecord {
	return metaRecord{
		Owner:          s.Owner.Hex(),
		Paused:         s.Paused,
		NextListingID:  s.NextListingID,
		NextPurchaseID: s.NextPurchaseID,
		PlatformFees:   encodeBalance(s.PlatformFees),
	}
}

func (r metaRecord) decode() (*domain.Snapshot, error) {
	fees, err := r.PlatformFees.decode()
	if err != nil {
		return nil, err
	}
	return &domain.Snapshot{
		Owner:          common.HexToAddress(r.Owner),
		Paused:         r.Paused,
		NextListingID:  r.NextListingID,
		NextPurchaseID: r.NextPurchaseID,
		PlatformFees:   fees,
		Earnings:       make(map[common.Address]domain.Balance),
	}, nil
}

func encodeListing(l domain.Listing) listingRecord {
	return listingRecord{
		ID:               l.ID,
		Seller:           l.Seller.Hex(),
		PriceNative:      l.PriceNative.Dec(),
		PriceSecondary:   l.PriceSecondary.Dec(),
		Quantity:         l.Quantity,
		Metadata:         l.Metadata,
		Status:           uint8(l.Status),
		CreatedAt:        l.CreatedAt,
		AcceptsNative:    l.AcceptsNative,
		AcceptsSecondary: l.AcceptsSecondary,
	}
}

func (r listingRecord) decode() (domain.Listing, error) {
	pn, err := parseAmount(r.PriceNative)
	if err != nil {
		return domain.Listing{}, err
	}
	ps, err := parseAmount(r.PriceSecondary)
	if err != nil {
		return domain.Listing{}, err
	}
	return domain.Listing{
		ID:               r.ID,
		Seller:           common.HexToAddress(r.Seller),
		PriceNative:      pn,
		PriceSecondary:   ps,
		Quantity:         r.Quantity,
		Metadata:         r.Metadata,
		Status:           domain.ListingStatus(r.Status),
		CreatedAt:        r.CreatedAt,
		AcceptsNative:    r.AcceptsNative,
		AcceptsSecondary: r.AcceptsSecondary,
	}, nil
}

func encodePurchase(p domain.Purchase) purchaseRecord {
	return purchaseRecord{
		ID:            p.ID,
		ListingID:     p.ListingID,
		Buyer:         p.Buyer.Hex(),
		Seller:        p.Seller.Hex(),
		Quantity:      p.Quantity,
		PaidAmount:    p.PaidAmount.Dec(),
		PaymentMethod: uint8(p.PaymentMethod),
		Confirmed:     p.Confirmed,
		CreatedAt:     p.CreatedAt,
	}
}

func (r purchaseRecord) decode() (domain.Purchase, error) {
	paid, err := parseAmount(r.PaidAmount)
	if err != nil {
		return domain.Purchase{}, err
	}
	return domain.Purchase{
		ID:            r.ID,
		ListingID:     r.ListingID,
		Buyer:         common.HexToAddress(r.Buyer),
		Seller:        common.HexToAddress(r.Seller),
		Quantity:      r.Quantity,
		PaidAmount:    paid,
		PaymentMethod: domain.Currency(r.PaymentMethod),
		Confirmed:     r.Confirmed,
		CreatedAt:     r.CreatedAt,
	}, nil
}

func encodeBalance(b domain.Balance) balanceRecord {
	return balanceRecord{Native: b.Native.Dec(), Secondary: b.Secondary.Dec()}
}

func (r balanceRecord) decode() (domain.Balance, error) {
	n, err := parseAmount(r.Native)
	if err != nil {
		return domain.Balance{}, err
	}
	s, err := parseAmount(r.Secondary)
	if err != nil {
		return domain.Balance{}, err
	}
	return domain.Balance{Native: n, Secondary: s}, nil
}

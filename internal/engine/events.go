package engine

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/punchamoorthee/escrowledger/internal/domain"
	"github.com/punchamoorthee/escrowledger/internal/events"
)

func listingEvent(eventType string, l domain.Listing) events.Event {
	return events.Event{
		Type: eventType,
		Attributes: map[string]string{
			"listingId":        strconv.FormatUint(l.ID, 10),
			"seller":           l.Seller.Hex(),
			"priceNative":      l.PriceNative.Dec(),
			"priceSecondary":   l.PriceSecondary.Dec(),
			"quantity":         strconv.FormatUint(l.Quantity, 10),
			"status":           l.Status.String(),
			"acceptsNative":    strconv.FormatBool(l.AcceptsNative),
			"acceptsSecondary": strconv.FormatBool(l.AcceptsSecondary),
		},
	}
}

func listingDeletedEvent(id uint64, seller common.Address) events.Event {
	return events.Event{
		Type: events.TypeListingDeleted,
		Attributes: map[string]string{
			"listingId": strconv.FormatUint(id, 10),
			"seller":    seller.Hex(),
		},
	}
}

func purchaseEvent(eventType string, p domain.Purchase) events.Event {
	return events.Event{
		Type: eventType,
		Attributes: map[string]string{
			"purchaseId": strconv.FormatUint(p.ID, 10),
			"listingId":  strconv.FormatUint(p.ListingID, 10),
			"buyer":      p.Buyer.Hex(),
			"seller":     p.Seller.Hex(),
			"quantity":   strconv.FormatUint(p.Quantity, 10),
			"amount":     p.PaidAmount.Dec(),
			"currency":   p.PaymentMethod.String(),
			"createdAt":  strconv.FormatInt(p.CreatedAt, 10),
		},
	}
}

func releaseEvent(eventType string, p domain.Purchase, sellerAmount, fee string) events.Event {
	ev := purchaseEvent(eventType, p)
	ev.Attributes["sellerAmount"] = sellerAmount
	ev.Attributes["fee"] = fee
	return ev
}

func withdrawalEvent(eventType string, to common.Address, b domain.Balance, emergency bool) events.Event {
	return events.Event{
		Type: eventType,
		Attributes: map[string]string{
			"account":   to.Hex(),
			"native":    b.Native.Dec(),
			"secondary": b.Secondary.Dec(),
			"emergency": strconv.FormatBool(emergency),
		},
	}
}

func adminEvent(eventType string, attrs map[string]string) events.Event {
	return events.Event{Type: eventType, Attributes: attrs}
}

package engine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/punchamoorthee/escrowledger/internal/domain"
	"github.com/punchamoorthee/escrowledger/internal/events"
)

// SplitFee divides a paid amount into the platform fee and the seller's
// share. The fee truncates, so any remainder stays with the seller and
// fee+seller always equals paid.
func SplitFee(paid *uint256.Int) (fee, seller *uint256.Int) {
	fee, _ = new(uint256.Int).MulDivOverflow(paid, uint256.NewInt(FeeBps), uint256.NewInt(BpsDenominator))
	seller = new(uint256.Int).Sub(paid, fee)
	return fee, seller
}

func (e *Engine) knownPurchase(id uint64) (domain.Purchase, error) {
	if id == 0 || id >= e.nextPurchaseID {
		return domain.Purchase{}, ErrInvalidPurchaseID
	}
	p, ok := e.purchases[id]
	if !ok {
		return domain.Purchase{}, ErrInvalidPurchaseID
	}
	return p, nil
}

// ConfirmDelivery is the buyer's release of an escrow to the seller. It works
// even if the listing has since been deleted.
func (e *Engine) ConfirmDelivery(call Call, purchaseID uint64) (err error) {
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
	p, err := e.knownPurchase(purchaseID)
	if err != nil {
		return err
	}
	if call.Caller != p.Buyer {
		return ErrNotBuyer
	}
	if p.Confirmed {
		return ErrAlreadyConfirmed
	}
	return e.resolve(p, events.TypeDeliveryConfirmed)
}

// ClaimAfterTimeout lets the seller release an escrow the buyer never
// confirmed, once TimeoutDuration has elapsed since the purchase.
func (e *Engine) ClaimAfterTimeout(call Call, purchaseID uint64) (err error) {
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
	p, err := e.knownPurchase(purchaseID)
	if err != nil {
		return err
	}
	if call.Caller != p.Seller {
		return ErrUnauthorized
	}
	if p.Confirmed {
		return ErrAlreadyConfirmed
	}
	if e.now() < p.CreatedAt+timeoutSeconds {
		return ErrTimeoutNotReached
	}
	return e.resolve(p, events.TypeTimeoutClaimed)
}

// resolve marks the purchase confirmed and credits seller and platform.
// Nothing leaves custody here.
func (e *Engine) resolve(p domain.Purchase, eventType string) error {
	p.Confirmed = true
	e.putPurchase(p)
	if n := e.pendingCount[p.ListingID]; n > 0 {
		e.putPending(p.ListingID, n-1)
	}

	fee, sellerAmount := SplitFee(&p.PaidAmount)

	earned := e.earnings[p.Seller]
	sum, err := addAmount(earned.Of(p.PaymentMethod), sellerAmount)
	if err != nil {
		return err
	}
	*earned.Of(p.PaymentMethod) = sum
	e.putEarnings(p.Seller, earned)

	fees := e.platformFees
	sum, err = addAmount(fees.Of(p.PaymentMethod), fee)
	if err != nil {
		return err
	}
	*fees.Of(p.PaymentMethod) = sum
	e.putPlatformFees(fees)

	e.emit(releaseEvent(eventType, p, sellerAmount.Dec(), fee.Dec()))
	return nil
}

// WithdrawEarnings pays out everything credited to the caller as seller.
// It stays available while the engine is paused.
func (e *Engine) WithdrawEarnings(call Call) (paid domain.Balance, err error) {
	if err := e.enter(call); err != nil {
		return domain.Balance{}, err
	}
	defer e.exit(&err)

	if err = nonPayable(call); err != nil {
		return domain.Balance{}, err
	}
	return e.withdrawEarnings(call.Caller, false)
}

// EmergencyWithdraw is the seller payout path reserved for a paused engine.
func (e *Engine) EmergencyWithdraw(call Call) (paid domain.Balance, err error) {
	if err := e.enter(call); err != nil {
		return domain.Balance{}, err
	}
	defer e.exit(&err)

	if err = nonPayable(call); err != nil {
		return domain.Balance{}, err
	}
	if !e.paused {
		return domain.Balance{}, ErrNotPaused
	}
	return e.withdrawEarnings(call.Caller, true)
}

func (e *Engine) withdrawEarnings(to common.Address, emergency bool) (domain.Balance, error) {
	owed := e.earnings[to]
	if owed.IsZero() {
		return domain.Balance{}, ErrInsufficientFunds
	}
	e.putEarnings(to, domain.Balance{})
	if err := e.payout(to, owed); err != nil {
		return domain.Balance{}, err
	}
	e.emit(withdrawalEvent(events.TypeEarningsWithdrawn, to, owed, emergency))
	return owed, nil
}

// WithdrawFees pays the accrued platform fees to the owner.
func (e *Engine) WithdrawFees(call Call) (paid domain.Balance, err error) {
	if err := e.enter(call); err != nil {
		return domain.Balance{}, err
	}
	defer e.exit(&err)

	if err = nonPayable(call); err != nil {
		return domain.Balance{}, err
	}
	if call.Caller != e.owner {
		return domain.Balance{}, ErrNotOwner
	}
	owed := e.platformFees
	if owed.IsZero() {
		return domain.Balance{}, ErrInsufficientFunds
	}
	e.putPlatformFees(domain.Balance{})
	if err = e.payout(call.Caller, owed); err != nil {
		return domain.Balance{}, err
	}
	e.emit(withdrawalEvent(events.TypeFeesWithdrawn, call.Caller, owed, false))
	return owed, nil
}

// payout pushes native value first, then secondary tokens. The ledger has
// already been zeroed; a failed push fails the call and the journal puts
// the credit back. Undoing a native push that already went out is up to the
// hosting platform, as with attached value.
func (e *Engine) payout(to common.Address, b domain.Balance) error {
	if !b.Native.IsZero() {
		if err := e.bank.Send(to, &b.Native); err != nil {
			return transferFailed(err)
		}
	}
	if !b.Secondary.IsZero() {
		if err := e.token.Transfer(to, &b.Secondary); err != nil {
			return transferFailed(err)
		}
	}
	return nil
}

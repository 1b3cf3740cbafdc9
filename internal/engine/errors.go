package engine

import "errors"

// Every failure is a precondition violation or a failed external transfer.
// None is retried by the engine.
var (
	ErrZeroQuantity              = errors.New("zero quantity")
	ErrInvalidPaymentMethod      = errors.New("invalid payment method")
	ErrZeroPrice                 = errors.New("zero price")
	ErrInvalidStatus             = errors.New("invalid listing status")
	ErrItemDoesNotExist          = errors.New("item does not exist")
	ErrListingInactive           = errors.New("listing not active")
	ErrUnauthorized              = errors.New("unauthorized")
	ErrPendingPurchasesExist     = errors.New("pending purchases exist")
	ErrExactAmountRequired       = errors.New("exact amount required")
	ErrAmountOverflow            = errors.New("amount overflow")
	ErrTransferFailed            = errors.New("transfer failed")
	ErrNotBuyer                  = errors.New("caller is not the buyer")
	ErrAlreadyConfirmed          = errors.New("purchase already confirmed")
	ErrInvalidPurchaseID         = errors.New("invalid purchase id")
	ErrTimeoutNotReached         = errors.New("timeout not reached")
	ErrInsufficientFunds         = errors.New("insufficient funds")
	ErrPaused                    = errors.New("engine paused")
	ErrNotPaused                 = errors.New("engine not paused")
	ErrNotOwner                  = errors.New("caller is not the owner")
	ErrInvalidOwner              = errors.New("invalid owner")
	ErrInvalidCaller             = errors.New("invalid caller")
	ErrDirectTransferNotAccepted = errors.New("direct transfer not accepted")
	ErrReentrantCall             = errors.New("reentrant call")
)

package engine

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/punchamoorthee/escrowledger/internal/events"
)

func (e *Engine) onlyOwner(call Call) error {
	if call.Caller != e.owner {
		return ErrNotOwner
	}
	return nil
}

// Pause stops listing and purchase mutations. Withdrawals keep working.
func (e *Engine) Pause(call Call) (err error) {
	if err := e.enter(call); err != nil {
		return err
	}
	defer e.exit(&err)

	if err = nonPayable(call); err != nil {
		return err
	}
	if err = e.onlyOwner(call); err != nil {
		return err
	}
	if e.paused {
		return ErrPaused
	}
	e.putFlag(&e.paused, true)
	e.emit(adminEvent(events.TypePaused, map[string]string{"account": call.Caller.Hex()}))
	return nil
}

func (e *Engine) Unpause(call Call) (err error) {
	if err := e.enter(call); err != nil {
		return err
	}
	defer e.exit(&err)

	if err = nonPayable(call); err != nil {
		return err
	}
	if err = e.onlyOwner(call); err != nil {
		return err
	}
	if !e.paused {
		return ErrNotPaused
	}
	e.putFlag(&e.paused, false)
	e.emit(adminEvent(events.TypeUnpaused, map[string]string{"account": call.Caller.Hex()}))
	return nil
}

// TransferOwnership hands the admin role to newOwner.
func (e *Engine) TransferOwnership(call Call, newOwner common.Address) (err error) {
	if err := e.enter(call); err != nil {
		return err
	}
	defer e.exit(&err)

	if err = nonPayable(call); err != nil {
		return err
	}
	if err = e.onlyOwner(call); err != nil {
		return err
	}
	if newOwner == (common.Address{}) {
		return ErrInvalidOwner
	}
	prev := e.owner
	e.putOwner(newOwner)
	e.emit(adminEvent(events.TypeOwnerTransferred, map[string]string{
		"previousOwner": prev.Hex(),
		"newOwner":      newOwner.Hex(),
	}))
	return nil
}

// Receive handles native value sent to the engine outside any operation.
// It is always refused so custody never holds funds the ledger cannot
// account for.
func (e *Engine) Receive(call Call) error {
	return ErrDirectTransferNotAccepted
}

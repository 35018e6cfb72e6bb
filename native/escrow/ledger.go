package escrow

import (
	"fmt"
	"math/big"
	"sync/atomic"
)

// MutexGuard rejects nested re-entry during an in-flight mutating call. The
// execution model is fully serialized, so the only way to observe the guard
// held is a payout sink calling back into the engine before the outer
// withdrawal finished.
type MutexGuard struct {
	held atomic.Bool
}

// Enter acquires the guard, failing with ErrReentrant if it is already held.
func (g *MutexGuard) Enter() error {
	if !g.held.CompareAndSwap(false, true) {
		return ErrReentrant
	}
	return nil
}

// Exit releases the guard. Callers must pair every successful Enter with a
// deferred Exit so a failed operation never leaves the guard stuck.
func (g *MutexGuard) Exit() {
	g.held.Store(false)
}

// Withdraw drains the caller's full withdrawable balance and hands it to the
// payout sink. The balance is zeroed before the external transfer; a failed
// transfer restores it, so the whole operation is all-or-nothing.
func (e *Engine) Withdraw(caller [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.payout == nil {
		return nil, errNilPayout
	}
	if err := e.guard.Enter(); err != nil {
		return nil, err
	}
	defer e.guard.Exit()
	return e.withdrawLocked(caller)
}

// WithdrawFor is the stricter withdrawal gate: the caller must be the
// counterparty of the given contract and the contract must already be
// Completed. The drain itself is the same fungible per-account balance.
func (e *Engine) WithdrawFor(id uint64, caller [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.payout == nil {
		return nil, errNilPayout
	}
	if err := e.guard.Enter(); err != nil {
		return nil, err
	}
	defer e.guard.Exit()
	contract, err := e.loadContract(id)
	if err != nil {
		return nil, err
	}
	if err := requireCounterparty(contract, caller); err != nil {
		return nil, err
	}
	if contract.Status != StatusCompleted {
		return nil, ErrWrongStatus
	}
	return e.withdrawLocked(caller)
}

func (e *Engine) withdrawLocked(caller [20]byte) (*big.Int, error) {
	balance, err := e.state.BalanceGet(caller)
	if err != nil {
		return nil, err
	}
	amount := cloneBigInt(balance)
	if amount.Sign() == 0 {
		return nil, ErrNoFunds
	}
	// Checks-effects-interactions: the ledger is decremented before the
	// external transfer runs.
	if err := e.state.BalanceSet(caller, big.NewInt(0)); err != nil {
		return nil, err
	}
	if err := e.payout.Transfer(caller, new(big.Int).Set(amount)); err != nil {
		if restoreErr := e.state.BalanceSet(caller, amount); restoreErr != nil {
			return nil, fmt.Errorf("restoring balance after failed transfer: %v: %w", restoreErr, ErrTransferFailed)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	e.emit(NewWithdrawnEvent(caller, amount))
	return amount, nil
}

// Balance returns the caller's current withdrawable balance.
func (e *Engine) Balance(account [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	balance, err := e.state.BalanceGet(account)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(balance), nil
}

package escrow

import (
	"errors"
	"math/big"
	"time"

	"paylock/core/events"
	"paylock/core/types"
)

// DefaultApproveTimeout is the window, in seconds, after an oracle
// confirmation during which only the creator may release the funds. Once it
// elapses the counterparty can force the release.
const DefaultApproveTimeout int64 = 7 * 24 * 60 * 60

var (
	errNilState  = errors.New("escrow engine: state not configured")
	errNilPayout = errors.New("escrow engine: payout sink not configured")
)

// engineState is the persistence surface the engine mutates. Implementations
// must return defensive copies from ContractGet so a failed transition leaves
// the stored record untouched.
type engineState interface {
	ContractPut(*ManagedContract) error
	ContractGet(id uint64) (*ManagedContract, bool)
	NextContractID() (uint64, error)
	OracleGet() ([20]byte, bool)
	OracleSet(addr [20]byte) error
	BalanceGet(addr [20]byte) (*big.Int, error)
	BalanceSet(addr [20]byte, amount *big.Int) error
}

// PayoutSink performs the external value transfer at the end of a withdrawal.
// It is the only point where the engine calls out; everything before it has
// already been committed to the ledger (checks-effects-interactions).
type PayoutSink interface {
	Transfer(to [20]byte, amount *big.Int) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine wires the escrow state machine with external state, an event emitter
// and a payout sink. External callers are serialized one at a time; every
// mutating operation additionally holds the reentrancy guard, so a payout sink
// calling back into the engine mid-withdrawal fails with ErrReentrant.
type Engine struct {
	state          engineState
	emitter        events.Emitter
	payout         PayoutSink
	guard          MutexGuard
	nowFn          func() int64
	approveTimeout int64
}

// NewEngine creates an escrow engine with a no-op emitter, the wall clock and
// the default approval timeout. Callers override collaborators via the Set
// methods.
func NewEngine() *Engine {
	return &Engine{
		emitter:        events.NoopEmitter{},
		nowFn:          func() int64 { return time.Now().Unix() },
		approveTimeout: DefaultApproveTimeout,
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPayoutSink configures the external transfer target used by withdrawals.
func (e *Engine) SetPayoutSink(sink PayoutSink) { e.payout = sink }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetApproveTimeout overrides the forced-approval window. Values of zero or
// less restore the default.
func (e *Engine) SetApproveTimeout(seconds int64) {
	if seconds <= 0 {
		e.approveTimeout = DefaultApproveTimeout
		return
	}
	e.approveTimeout = seconds
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (e *Engine) loadContract(id uint64) (*ManagedContract, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	contract, ok := e.state.ContractGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return contract, nil
}

func (e *Engine) storeContract(c *ManagedContract) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.ContractPut(c)
}

// --- access control -------------------------------------------------------

// The guards run before any mutation so an unauthorized call has zero
// observable side effects.

func requireCreator(c *ManagedContract, caller [20]byte) error {
	if c == nil || c.Creator != caller {
		return ErrUnauthorized
	}
	return nil
}

func requireCounterparty(c *ManagedContract, caller [20]byte) error {
	if c == nil || c.Counterparty != caller {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) requireOracle(caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	oracle, ok := e.state.OracleGet()
	if !ok || oracle != caller {
		return ErrUnauthorized
	}
	return nil
}

// --- transitions ----------------------------------------------------------

// Create allocates the next contract id and persists a new record in Created
// status. The deposited value must match the contract amount exactly; a
// mismatched deposit aborts the whole call so no value is accepted.
func (e *Engine) Create(creator, counterparty [20]byte, contentHash [32]byte, amount, depositedValue *big.Int) (*ManagedContract, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.guard.Enter(); err != nil {
		return nil, err
	}
	defer e.guard.Exit()
	if counterparty == ([20]byte{}) {
		return nil, ErrInvalidCounterparty
	}
	if contentHash == ([32]byte{}) {
		return nil, ErrInvalidContentHash
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if depositedValue == nil || depositedValue.Cmp(amt) != 0 {
		return nil, ErrAmountMismatch
	}
	id, err := e.state.NextContractID()
	if err != nil {
		return nil, err
	}
	contract := &ManagedContract{
		ID:           id,
		Creator:      creator,
		Counterparty: counterparty,
		Amount:       amt,
		ContentHash:  contentHash,
		Status:       StatusCreated,
		CreatedAt:    e.now(),
	}
	if err := e.storeContract(contract); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(contract))
	return contract.Clone(), nil
}

// Sign moves the contract from Created to Signed. Counterparty only.
func (e *Engine) Sign(id uint64, caller [20]byte) error {
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()
	contract, err := e.loadContract(id)
	if err != nil {
		return err
	}
	if err := requireCounterparty(contract, caller); err != nil {
		return err
	}
	if contract.Status != StatusCreated {
		return ErrWrongStatus
	}
	contract.Status = StatusSigned
	if err := e.storeContract(contract); err != nil {
		return err
	}
	e.emit(NewSignedEvent(contract))
	return nil
}

// SetDeliveryTracking opts the contract into the oracle-attested delivery flow
// and binds the tracking secret to this contract id. Counterparty only, legal
// exactly once, from Signed.
func (e *Engine) SetDeliveryTracking(id uint64, caller [20]byte, secret []byte) error {
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()
	contract, err := e.loadContract(id)
	if err != nil {
		return err
	}
	if err := requireCounterparty(contract, caller); err != nil {
		return err
	}
	if contract.DeliveryRequired {
		return ErrAlreadySet
	}
	if contract.Status != StatusSigned {
		return ErrWrongStatus
	}
	contract.DeliveryTrackingHash = TrackingHash(id, secret)
	contract.DeliveryRequired = true
	contract.Status = StatusDeliverySet
	if err := e.storeContract(contract); err != nil {
		return err
	}
	e.emit(NewTrackingSetEvent(contract))
	return nil
}

// ConfirmDeliveryByOracle verifies the tracking secret against the stored hash
// and records the confirmation timestamp that anchors the timeout fallback.
// Oracle only, from DeliverySet.
func (e *Engine) ConfirmDeliveryByOracle(id uint64, caller [20]byte, secret []byte) error {
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()
	if err := e.requireOracle(caller); err != nil {
		return err
	}
	contract, err := e.loadContract(id)
	if err != nil {
		return err
	}
	if contract.Status != StatusDeliverySet {
		return ErrWrongStatus
	}
	if TrackingHash(id, secret) != contract.DeliveryTrackingHash {
		return ErrHashMismatch
	}
	contract.OracleConfirmedAt = e.now()
	contract.Status = StatusDeliveryConfirmed
	if err := e.storeContract(contract); err != nil {
		return err
	}
	e.emit(NewDeliveryConfirmedEvent(contract))
	return nil
}

// ApproveDeliveryAsCreator releases the escrowed amount to the counterparty
// after an oracle confirmation. Creator only, from DeliveryConfirmed. The
// status gate guarantees the credit happens at most once per contract.
func (e *Engine) ApproveDeliveryAsCreator(id uint64, caller [20]byte) error {
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()
	contract, err := e.loadContract(id)
	if err != nil {
		return err
	}
	if err := requireCreator(contract, caller); err != nil {
		return err
	}
	if contract.Status != StatusDeliveryConfirmed {
		return ErrWrongStatus
	}
	if err := e.completeAndCredit(contract); err != nil {
		return err
	}
	e.emit(NewDeliveryApprovedEvent(contract, false))
	return nil
}

// ForceApproveAfterTimeout lets the counterparty release the funds once the
// creator has sat on a verified delivery past the configured window.
func (e *Engine) ForceApproveAfterTimeout(id uint64, caller [20]byte) error {
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()
	contract, err := e.loadContract(id)
	if err != nil {
		return err
	}
	if err := requireCounterparty(contract, caller); err != nil {
		return err
	}
	if contract.Status != StatusDeliveryConfirmed {
		return ErrWrongStatus
	}
	if e.now() < contract.OracleConfirmedAt+e.approveTimeout {
		return ErrTimeoutNotReached
	}
	if err := e.completeAndCredit(contract); err != nil {
		return err
	}
	e.emit(NewDeliveryApprovedEvent(contract, true))
	return nil
}

// ConfirmCompletionDirect completes a contract that never opted into the
// delivery flow. Creator only, from Signed. Mutually exclusive with the
// delivery path: once tracking is set the status has left Signed.
func (e *Engine) ConfirmCompletionDirect(id uint64, caller [20]byte) error {
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()
	contract, err := e.loadContract(id)
	if err != nil {
		return err
	}
	if err := requireCreator(contract, caller); err != nil {
		return err
	}
	if contract.Status != StatusSigned || contract.DeliveryRequired {
		return ErrWrongStatus
	}
	if err := e.completeAndCredit(contract); err != nil {
		return err
	}
	e.emit(NewPaymentReleasedEvent(contract))
	return nil
}

// Deactivate cancels the contract from any non-terminal state, clearing the
// stored hashes. Funds already credited to the counterparty remain
// withdrawable; funds never credited are abandoned.
func (e *Engine) Deactivate(id uint64, caller [20]byte) error {
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()
	contract, err := e.loadContract(id)
	if err != nil {
		return err
	}
	if err := requireCreator(contract, caller); err != nil {
		return err
	}
	if contract.Status.Terminal() {
		return ErrWrongStatus
	}
	contract.ContentHash = [32]byte{}
	contract.DeliveryTrackingHash = [32]byte{}
	contract.Status = StatusCancelled
	if err := e.storeContract(contract); err != nil {
		return err
	}
	e.emit(NewDeactivatedEvent(contract))
	return nil
}

// completeAndCredit advances the contract to Completed and credits the full
// escrowed amount to the counterparty's ledger balance. Callers have already
// verified the status gate, which is what makes the credit once-only.
func (e *Engine) completeAndCredit(contract *ManagedContract) error {
	balance, err := e.state.BalanceGet(contract.Counterparty)
	if err != nil {
		return err
	}
	updated := new(big.Int).Add(cloneBigInt(balance), contract.Amount)
	if err := e.state.BalanceSet(contract.Counterparty, updated); err != nil {
		return err
	}
	contract.Status = StatusCompleted
	return e.storeContract(contract)
}

// --- oracle registry ------------------------------------------------------

// SetOracle binds the trusted oracle address permanently. Legal exactly once.
func (e *Engine) SetOracle(addr [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()
	if addr == ([20]byte{}) {
		return ErrInvalidOracle
	}
	if _, ok := e.state.OracleGet(); ok {
		return ErrAlreadySet
	}
	if err := e.state.OracleSet(addr); err != nil {
		return err
	}
	e.emit(NewOracleSetEvent(addr))
	return nil
}

// Oracle returns the registered oracle address, if one has been bound.
func (e *Engine) Oracle() ([20]byte, bool) {
	if e == nil || e.state == nil {
		return [20]byte{}, false
	}
	return e.state.OracleGet()
}

// --- read-only accessors --------------------------------------------------

// Get returns a copy of the stored contract record.
func (e *Engine) Get(id uint64) (*ManagedContract, error) {
	contract, err := e.loadContract(id)
	if err != nil {
		return nil, err
	}
	return contract.Clone(), nil
}

// Status returns the current status of the contract.
func (e *Engine) Status(id uint64) (ContractStatus, error) {
	contract, err := e.loadContract(id)
	if err != nil {
		return 0, err
	}
	return contract.Status, nil
}

// ContentHash returns the stored content fingerprint. It is all zeroes after
// a cancellation.
func (e *Engine) ContentHash(id uint64) ([32]byte, error) {
	contract, err := e.loadContract(id)
	if err != nil {
		return [32]byte{}, err
	}
	return contract.ContentHash, nil
}

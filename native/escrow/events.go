package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"paylock/core/types"
)

const (
	EventTypeContractCreated     = "escrow.created"
	EventTypeContractSigned      = "escrow.signed"
	EventTypeTrackingSet         = "escrow.tracking_set"
	EventTypeDeliveryConfirmed   = "escrow.delivery_confirmed"
	EventTypeDeliveryApproved    = "escrow.delivery_approved"
	EventTypePaymentReleased     = "escrow.payment_released"
	EventTypeFundsWithdrawn      = "escrow.funds_withdrawn"
	EventTypeContractDeactivated = "escrow.deactivated"
	EventTypeOracleSet           = "escrow.oracle_set"
)

// NewCreatedEvent returns the canonical event payload for a newly created
// contract.
func NewCreatedEvent(c *ManagedContract) *types.Event {
	return newContractEvent(EventTypeContractCreated, c)
}

// NewSignedEvent returns the canonical event payload emitted when the
// counterparty signs the contract.
func NewSignedEvent(c *ManagedContract) *types.Event {
	return newContractEvent(EventTypeContractSigned, c)
}

// NewTrackingSetEvent returns the event payload emitted when the counterparty
// binds a delivery tracking hash to the contract.
func NewTrackingSetEvent(c *ManagedContract) *types.Event {
	return newContractEvent(EventTypeTrackingSet, c)
}

// NewDeliveryConfirmedEvent returns the event payload emitted when the oracle
// attests delivery.
func NewDeliveryConfirmedEvent(c *ManagedContract) *types.Event {
	evt := newContractEvent(EventTypeDeliveryConfirmed, c)
	if c != nil {
		evt.Attributes["confirmedAt"] = strconv.FormatInt(c.OracleConfirmedAt, 10)
	}
	return evt
}

// NewDeliveryApprovedEvent returns the event payload for a delivery-path
// release of the escrowed amount to the counterparty. Forced indicates the
// counterparty used the timeout fallback instead of a creator approval.
func NewDeliveryApprovedEvent(c *ManagedContract, forced bool) *types.Event {
	evt := newContractEvent(EventTypeDeliveryApproved, c)
	evt.Attributes["forced"] = strconv.FormatBool(forced)
	return evt
}

// NewPaymentReleasedEvent returns the event payload for a direct-confirmation
// release of the escrowed amount to the counterparty.
func NewPaymentReleasedEvent(c *ManagedContract) *types.Event {
	return newContractEvent(EventTypePaymentReleased, c)
}

// NewWithdrawnEvent returns the event payload emitted when a balance holder
// drains their accrued ledger balance.
func NewWithdrawnEvent(account [20]byte, amount *big.Int) *types.Event {
	attrs := map[string]string{
		"account": hex.EncodeToString(account[:]),
	}
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	return &types.Event{Type: EventTypeFundsWithdrawn, Attributes: attrs}
}

// NewDeactivatedEvent returns the event payload emitted when the creator
// cancels the contract.
func NewDeactivatedEvent(c *ManagedContract) *types.Event {
	return newContractEvent(EventTypeContractDeactivated, c)
}

// NewOracleSetEvent returns the event payload emitted when the trusted oracle
// is bound for the first time.
func NewOracleSetEvent(oracle [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeOracleSet,
		Attributes: map[string]string{
			"oracle": hex.EncodeToString(oracle[:]),
		},
	}
}

func newContractEvent(eventType string, c *ManagedContract) *types.Event {
	attrs := make(map[string]string)
	if c == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeContract(c)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(sanitized.ID, 10)
	attrs["creator"] = hex.EncodeToString(sanitized.Creator[:])
	attrs["counterparty"] = hex.EncodeToString(sanitized.Counterparty[:])
	attrs["amount"] = sanitized.Amount.String()
	attrs["status"] = sanitized.Status.String()
	return &types.Event{Type: eventType, Attributes: attrs}
}

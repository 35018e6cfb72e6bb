package escrow

import (
	"encoding/binary"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ContractStatus represents the lifecycle states of a managed contract. The
// status value is the single source of truth for which operations are legal;
// there are no auxiliary flags that can desynchronize from it.
type ContractStatus uint8

const (
	StatusCreated ContractStatus = iota
	StatusSigned
	StatusDeliverySet
	StatusDeliveryConfirmed
	StatusCompleted
	StatusCancelled
)

// Valid reports whether the status value is within the supported range.
func (s ContractStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusSigned, StatusDeliverySet, StatusDeliveryConfirmed, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status permits no further transitions.
func (s ContractStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// String returns the canonical lowercase name of the status.
func (s ContractStatus) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusSigned:
		return "signed"
	case StatusDeliverySet:
		return "delivery_set"
	case StatusDeliveryConfirmed:
		return "delivery_confirmed"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ManagedContract captures the immutable terms and runtime status of a single
// escrow agreement. Amount, creator and counterparty are fixed at creation;
// the remaining fields advance with the state machine.
type ManagedContract struct {
	ID                   uint64         `json:"id"`
	Creator              [20]byte       `json:"creator"`
	Counterparty         [20]byte       `json:"counterparty"`
	Amount               *big.Int       `json:"amount"`
	ContentHash          [32]byte       `json:"contentHash"`
	Status               ContractStatus `json:"status"`
	DeliveryRequired     bool           `json:"deliveryRequired"`
	DeliveryTrackingHash [32]byte       `json:"deliveryTrackingHash"`
	OracleConfirmedAt    int64          `json:"oracleConfirmedAt"`
	CreatedAt            int64          `json:"createdAt"`
}

// Clone returns a deep copy of the contract so callers can safely mutate the
// copy without affecting the stored instance.
func (c *ManagedContract) Clone() *ManagedContract {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Amount != nil {
		clone.Amount = new(big.Int).Set(c.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// SanitizeContract validates the supplied contract record and returns a cloned
// instance with a non-nil amount. The function does not mutate the original.
func SanitizeContract(c *ManagedContract) (*ManagedContract, error) {
	if c == nil {
		return nil, fmt.Errorf("nil contract")
	}
	clone := c.Clone()
	if clone.Amount.Sign() < 0 {
		return nil, fmt.Errorf("contract amount must be non-negative")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid contract status: %d", clone.Status)
	}
	return clone, nil
}

// TrackingHash derives the delivery tracking hash for a contract. The contract
// id is part of the preimage so one tracking secret can never satisfy the
// check on a different contract.
func TrackingHash(id uint64, secret []byte) [32]byte {
	var idBytes [8]byte
	binary.BigEndian.PutUint64(idBytes[:], id)
	return ethcrypto.Keccak256Hash(idBytes[:], secret)
}

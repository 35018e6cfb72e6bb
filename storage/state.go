package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"paylock/native/escrow"
)

var (
	keyNextID = []byte("escrow/meta/nextid")
	keyOracle = []byte("escrow/meta/oracle")
)

func contractKey(id uint64) []byte {
	key := make([]byte, 0, 16+8)
	key = append(key, []byte("escrow/contract/")...)
	var idBytes [8]byte
	binary.BigEndian.PutUint64(idBytes[:], id)
	return append(key, idBytes[:]...)
}

func balanceKey(addr [20]byte) []byte {
	return append([]byte("escrow/balance/"), addr[:]...)
}

// State is the durable backend for the escrow engine. Contract records are
// stored as JSON under dense sequential keys; balances are a sparse
// account-to-amount map. Gets return defensive copies, so a transition that
// fails midway never leaks partial mutation into the store.
type State struct {
	db Database

	mu sync.Mutex // serializes id allocation
}

// NewState wraps the given database in an escrow state backend.
func NewState(db Database) *State {
	return &State{db: db}
}

// ContractPut persists the contract record, validating it first.
func (s *State) ContractPut(c *escrow.ManagedContract) error {
	sanitized, err := escrow.SanitizeContract(c)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(sanitized)
	if err != nil {
		return fmt.Errorf("encode contract %d: %w", sanitized.ID, err)
	}
	return s.db.Put(contractKey(sanitized.ID), raw)
}

// ContractGet returns a copy of the stored contract record.
func (s *State) ContractGet(id uint64) (*escrow.ManagedContract, bool) {
	raw, err := s.db.Get(contractKey(id))
	if err != nil {
		return nil, false
	}
	var contract escrow.ManagedContract
	if err := json.Unmarshal(raw, &contract); err != nil {
		return nil, false
	}
	return &contract, true
}

// NextContractID allocates the next sequential contract id, starting at 1.
// Allocated ids are never reused, even if the contract creation later fails.
func (s *State) NextContractID() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var current uint64
	raw, err := s.db.Get(keyNextID)
	switch {
	case err == nil:
		if len(raw) != 8 {
			return 0, fmt.Errorf("corrupt contract id counter: %d bytes", len(raw))
		}
		current = binary.BigEndian.Uint64(raw)
	case errors.Is(err, ErrKeyNotFound):
		current = 0
	default:
		return 0, err
	}
	next := current + 1
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)
	if err := s.db.Put(keyNextID, buf[:]); err != nil {
		return 0, err
	}
	return next, nil
}

// OracleGet returns the registered oracle address, if any.
func (s *State) OracleGet() ([20]byte, bool) {
	raw, err := s.db.Get(keyOracle)
	if err != nil || len(raw) != 20 {
		return [20]byte{}, false
	}
	var addr [20]byte
	copy(addr[:], raw)
	return addr, true
}

// OracleSet stores the oracle address. The one-time binding is enforced by
// the engine; the store just persists.
func (s *State) OracleSet(addr [20]byte) error {
	return s.db.Put(keyOracle, addr[:])
}

// BalanceGet returns the withdrawable balance for an account. Accounts with
// no recorded balance read as zero.
func (s *State) BalanceGet(addr [20]byte) (*big.Int, error) {
	raw, err := s.db.Get(balanceKey(addr))
	if errors.Is(err, ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	balance, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("corrupt balance record for %x", addr)
	}
	return balance, nil
}

// BalanceSet stores the withdrawable balance for an account.
func (s *State) BalanceSet(addr [20]byte, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative balance for %x", addr)
	}
	return s.db.Put(balanceKey(addr), []byte(amount.String()))
}

package storage

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
)

func paidKey(addr [20]byte) []byte {
	return append([]byte("escrow/paid/"), addr[:]...)
}

// AccountPayout is a payout sink that settles withdrawals into a durable
// per-account paid-out total. It stands in for whatever external value rail a
// deployment wires in (a bank adapter, a chain transfer, ...).
type AccountPayout struct {
	db Database
	mu sync.Mutex
}

// NewAccountPayout returns a payout sink backed by the given database.
func NewAccountPayout(db Database) *AccountPayout {
	return &AccountPayout{db: db}
}

// Transfer adds the amount to the recipient's settled total.
func (p *AccountPayout) Transfer(to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("payout amount must be positive")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	current, err := p.paidLocked(to)
	if err != nil {
		return err
	}
	updated := new(big.Int).Add(current, amount)
	return p.db.Put(paidKey(to), []byte(updated.String()))
}

// Paid returns the total amount settled to an account so far.
func (p *AccountPayout) Paid(addr [20]byte) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paidLocked(addr)
}

func (p *AccountPayout) paidLocked(addr [20]byte) (*big.Int, error) {
	raw, err := p.db.Get(paidKey(addr))
	if errors.Is(err, ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	total, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("corrupt payout record for %x", addr)
	}
	return total, nil
}

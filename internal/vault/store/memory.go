package store

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"custody/internal/vault/models"
)

// InMemoryLedger keeps one vault's state in process memory. A single mutex
// covers balance, consumed set and payouts so Consume is atomic.
type InMemoryLedger struct {
	mu       sync.Mutex
	balance  *big.Int
	consumed map[common.Hash]models.Consumption
	payouts  map[common.Address]*big.Int
}

func NewInMemory() *InMemoryLedger {
	return &InMemoryLedger{
		balance:  new(big.Int),
		consumed: make(map[common.Hash]models.Consumption),
		payouts:  make(map[common.Address]*big.Int),
	}
}

func (l *InMemoryLedger) Credit(_ context.Context, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	next := new(big.Int).Add(l.balance, amount)
	if next.Cmp(MaxBalance) > 0 {
		return nil, ErrBalanceOverflow
	}
	l.balance = next
	return new(big.Int).Set(l.balance), nil
}

func (l *InMemoryLedger) Balance(_ context.Context) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balance), nil
}

func (l *InMemoryLedger) Consume(_ context.Context, c models.Consumption) (*big.Int, error) {
	if c.Amount == nil || c.Amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, used := l.consumed[c.AuthorizationID]; used {
		return nil, ErrAlreadyConsumed
	}
	if c.Amount.Cmp(l.balance) > 0 {
		return nil, ErrInsufficientFunds
	}

	c.Amount = new(big.Int).Set(c.Amount)
	l.consumed[c.AuthorizationID] = c
	l.balance.Sub(l.balance, c.Amount)
	total, ok := l.payouts[c.Recipient]
	if !ok {
		total = new(big.Int)
		l.payouts[c.Recipient] = total
	}
	total.Add(total, c.Amount)
	return new(big.Int).Set(l.balance), nil
}

func (l *InMemoryLedger) IsConsumed(_ context.Context, id common.Hash) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, used := l.consumed[id]
	return used, nil
}

func (l *InMemoryLedger) PaidOut(_ context.Context, recipient common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if total, ok := l.payouts[recipient]; ok {
		return new(big.Int).Set(total), nil
	}
	return new(big.Int), nil
}

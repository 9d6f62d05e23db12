package executor

import (
	"math/big"
	"sync"
)

// SpendLedger tracks cumulative keeper spend against an optional cap. A nil
// or zero cap means unlimited. Safe for concurrent use.
type SpendLedger struct {
	mu    sync.Mutex
	cap   *big.Int
	spent *big.Int
}

func NewSpendLedger(cap *big.Int) *SpendLedger {
	l := &SpendLedger{spent: new(big.Int)}
	if cap != nil && cap.Sign() > 0 {
		l.cap = new(big.Int).Set(cap)
	}
	return l
}

// Capped reports whether a spend cap is in force.
func (l *SpendLedger) Capped() bool {
	return l.cap != nil
}

// Allow reports whether committing worst on top of what has already been
// spent stays under the cap. With no cap it always allows.
func (l *SpendLedger) Allow(worst *big.Int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cap == nil {
		return true
	}
	if worst == nil {
		return false
	}
	total := new(big.Int).Add(l.spent, worst)
	return total.Cmp(l.cap) <= 0
}

// Add commits an actual cost. Called after the receipt, whatever its status;
// a reverted transaction still burned gas.
func (l *SpendLedger) Add(cost *big.Int) {
	if cost == nil {
		return
	}
	l.mu.Lock()
	l.spent.Add(l.spent, cost)
	l.mu.Unlock()
}

// Spent returns a copy of the running total.
func (l *SpendLedger) Spent() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.spent)
}

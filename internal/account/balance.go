// Package account models per-asset funds on one venue connection: an
// available/locked pair per asset with a reservation protocol, aggregated by
// a lazily-populated Account registry.
package account

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/chainbot/internal/domain"
	"github.com/alanyoungcy/chainbot/internal/pubsub"
)

// Balance holds the available and locked quantity of one asset. Both values
// are never negative, and available+locked changes only through fills,
// commissions or external funding events; Reserve and Release redistribute
// between the two without changing the sum.
//
// Every call is atomic with respect to its own read-modify-write. There is no
// cross-asset or cross-order transaction: two reservations racing on the same
// asset serialize on the balance's lock and the loser sees a zero return.
type Balance struct {
	asset string

	mu        sync.Mutex
	available decimal.Decimal
	locked    decimal.Decimal

	changed *pubsub.Signal
}

// NewBalance creates a zero balance for the given asset.
func NewBalance(asset string) *Balance {
	return &Balance{asset: asset, changed: pubsub.NewSignal()}
}

// Asset returns the asset this balance tracks.
func (b *Balance) Asset() string { return b.asset }

// Changed returns the coalescing change signal, notified on every mutation.
func (b *Balance) Changed() *pubsub.Signal { return b.changed }

// Available returns the currently spendable quantity.
func (b *Balance) Available() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.available
}

// Locked returns the quantity reserved behind open orders.
func (b *Balance) Locked() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.locked
}

// SetAvailable overwrites the available quantity. Used when applying an
// external account snapshot.
func (b *Balance) SetAvailable(amount decimal.Decimal) {
	b.mu.Lock()
	b.available = amount
	b.mu.Unlock()
	b.changed.Broadcast()
}

// SetLocked overwrites the locked quantity. Used when applying an external
// account snapshot.
func (b *Balance) SetLocked(amount decimal.Decimal) {
	b.mu.Lock()
	b.locked = amount
	b.mu.Unlock()
	b.changed.Broadcast()
}

// Reserve moves amount from available to locked and returns it. If amount is
// negative or exceeds available it returns zero and changes nothing; callers
// must treat a zero return as an expected rejection, not an error.
func (b *Balance) Reserve(amount decimal.Decimal) decimal.Decimal {
	b.mu.Lock()
	if amount.IsNegative() || amount.GreaterThan(b.available) {
		b.mu.Unlock()
		return decimal.Zero
	}
	b.available = b.available.Sub(amount)
	b.locked = b.locked.Add(amount)
	b.mu.Unlock()
	b.changed.Broadcast()
	return amount
}

// Release moves amount from locked back to available and returns it, or
// returns zero (no-op) if amount is negative or exceeds locked.
func (b *Balance) Release(amount decimal.Decimal) decimal.Decimal {
	b.mu.Lock()
	if amount.IsNegative() || amount.GreaterThan(b.locked) {
		b.mu.Unlock()
		return decimal.Zero
	}
	b.locked = b.locked.Sub(amount)
	b.available = b.available.Add(amount)
	b.mu.Unlock()
	b.changed.Broadcast()
	return amount
}

// IncreaseAvailable credits amount to available. A negative amount is an
// invariant violation and leaves the balance unchanged.
func (b *Balance) IncreaseAvailable(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("balance %s: increase available by %s: %w", b.asset, amount, domain.ErrNegativeAmount)
	}
	b.mu.Lock()
	b.available = b.available.Add(amount)
	b.mu.Unlock()
	b.changed.Broadcast()
	return nil
}

// DecreaseAvailable debits amount from available. Failing the bounds check
// signals a modeling bug upstream (for example a double-counted fill) and
// must be treated as fatal by the caller, not retried.
func (b *Balance) DecreaseAvailable(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("balance %s: decrease available by %s: %w", b.asset, amount, domain.ErrNegativeAmount)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if amount.GreaterThan(b.available) {
		return fmt.Errorf("balance %s: decrease available by %s with only %s: %w", b.asset, amount, b.available, domain.ErrBalanceUnderflow)
	}
	b.available = b.available.Sub(amount)
	b.changed.Broadcast()
	return nil
}

// DecreaseLocked debits amount from locked, consuming a reservation that a
// fill has converted. Same failure semantics as DecreaseAvailable.
func (b *Balance) DecreaseLocked(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("balance %s: decrease locked by %s: %w", b.asset, amount, domain.ErrNegativeAmount)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if amount.GreaterThan(b.locked) {
		return fmt.Errorf("balance %s: decrease locked by %s with only %s: %w", b.asset, amount, b.locked, domain.ErrBalanceUnderflow)
	}
	b.locked = b.locked.Sub(amount)
	b.changed.Broadcast()
	return nil
}

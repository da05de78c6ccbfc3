package account

import "sync"

// Account aggregates the balances of one venue connection. It is a lazy
// registry: referencing an asset for the first time creates its zero balance.
// Balances are owned exclusively by their account and live as long as it does.
type Account struct {
	mu       sync.Mutex
	balances map[string]*Balance
}

// New creates an empty account.
func New() *Account {
	return &Account{balances: make(map[string]*Balance)}
}

// Balance returns the balance for asset, creating a zero one on first access.
func (a *Account) Balance(asset string) *Balance {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.balances[asset]
	if !ok {
		b = NewBalance(asset)
		a.balances[asset] = b
	}
	return b
}

// Assets returns the assets that have been referenced so far.
func (a *Account) Assets() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.balances))
	for asset := range a.balances {
		out = append(out, asset)
	}
	return out
}

/*

Treasury is the external collaborator that seeds new pools with native-asset
liquidity and absorbs trade fees and burned reserves. The core only depends
on the capability interface; the in-memory implementation below backs the
standalone daemon and the test suites.

*/

package treasury

import (
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/thisispalash/tits-dot-fun/internal/logger"
)

var treasuryLogger = logger.GetForComponent("treasury")

// Treasury is the funding capability the launcher and pools depend on.
// Amounts are fixed-point native-asset quantities.
type Treasury interface {
	// GetBalance returns the treasury's current native-asset balance.
	GetBalance() sdkmath.Int

	// Fund withdraws amount from the treasury to seed a pool. Returns an
	// error when the balance is insufficient; no partial withdrawal occurs.
	Fund(amount sdkmath.Int) error

	// Deposit credits amount back to the treasury (trade fees, burned
	// reserves of locked pools).
	Deposit(amount sdkmath.Int)
}

// InMemory is a mutex-guarded treasury for standalone operation and tests.
type InMemory struct {
	mu      sync.Mutex
	balance sdkmath.Int
}

// NewInMemory creates a treasury holding the given fixed-point balance.
func NewInMemory(initial sdkmath.Int) *InMemory {
	if initial.IsNil() || initial.IsNegative() {
		initial = sdkmath.ZeroInt()
	}
	return &InMemory{balance: initial}
}

func (t *InMemory) GetBalance() sdkmath.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balance
}

func (t *InMemory) Fund(amount sdkmath.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("fund amount must be positive, got %s", amount)
	}
	if t.balance.LT(amount) {
		return fmt.Errorf("insufficient treasury balance: have %s, need %s", t.balance, amount)
	}
	t.balance = t.balance.Sub(amount)

	treasuryLogger.Debug().
		Str("amount", amount.String()).
		Str("balance", t.balance.String()).
		Msg("Treasury funded pool")
	return nil
}

func (t *InMemory) Deposit(amount sdkmath.Int) {
	if amount.IsNil() || !amount.IsPositive() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balance = t.balance.Add(amount)
}

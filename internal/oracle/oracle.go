/*

RandomnessOracle is the external collaborator supplying verified random
integers. The core requests a batch and later consumes a single delivery per
pool; the delivery path is a stored continuation in the registry, so the
oracle may answer at any later time. The local implementation below derives
values from the request seed so standalone runs stay reproducible.

*/

package oracle

import (
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"github.com/thisispalash/tits-dot-fun/internal/logger"
)

var oracleLogger = logger.GetForComponent("oracle")

// Delivery hands a completed request back to the requester. The original
// request seed is echoed so the requester can correlate the delivery with
// the round that asked for it.
type Delivery func(requestID string, seed uint64, values []uint64)

// RandomnessOracle is the capability the launcher depends on.
type RandomnessOracle interface {
	// Request asks for count random values derived from seed and returns
	// the request id the eventual delivery will carry.
	Request(count int, seed uint64) (string, error)
}

// Local is a seed-derived oracle for standalone operation and tests. Values
// are delivered synchronously through the configured callback; production
// deployments swap in the verified-randomness plumbing this core excludes.
type Local struct {
	mu      sync.Mutex
	deliver Delivery
}

// NewLocal creates a local oracle delivering through cb.
func NewLocal(cb Delivery) *Local {
	return &Local{deliver: cb}
}

// SetDelivery replaces the delivery callback. Used when the requester is
// constructed after the oracle.
func (o *Local) SetDelivery(cb Delivery) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deliver = cb
}

func (o *Local) Request(count int, seed uint64) (string, error) {
	o.mu.Lock()
	cb := o.deliver
	o.mu.Unlock()

	requestID := uuid.New().String()
	rng := rand.New(rand.NewSource(int64(seed)))
	values := make([]uint64, count)
	for i := range values {
		values[i] = rng.Uint64()
	}

	oracleLogger.Debug().
		Str("request_id", requestID).
		Int("count", count).
		Uint64("seed", seed).
		Msg("Generated local randomness")

	if cb != nil {
		cb(requestID, seed, values)
	}
	return requestID, nil
}

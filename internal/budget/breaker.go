package budget

import "invoice-harvester-go/internal/models"

// DefaultBreakerThreshold is the number of consecutive timeouts that stops a run
const DefaultBreakerThreshold = 2

// CircuitBreaker counts consecutive timeout-origin outcomes within one run
type CircuitBreaker struct {
	threshold int
	count     int
	tripped   bool
}

// NewCircuitBreaker creates a breaker; threshold <= 0 falls back to the default
func NewCircuitBreaker(threshold int) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	return &CircuitBreaker{threshold: threshold}
}

// Observe folds one message outcome into the counter
func (b *CircuitBreaker) Observe(kind models.OutcomeKind) {
	if kind == models.OutcomeSkippedTimeout {
		b.count++
		if b.count >= b.threshold {
			b.tripped = true
		}
		return
	}
	b.count = 0
}

// Open reports whether the run loop must stop
func (b *CircuitBreaker) Open() bool { return b.tripped }

// Consecutive returns the current consecutive timeout count
func (b *CircuitBreaker) Consecutive() int { return b.count }

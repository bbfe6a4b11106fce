package router

import (
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Breakers maintains one circuit breaker per destination, tripped by live
// dispatch failures rather than the historical block rate the HealthView
// scores. A caller that actually dispatches work through a chosen
// candidate should route the call through Call so repeated failures open
// the breaker independently of routing-event history.
type Breakers struct {
	mu       sync.Mutex
	cfg      HealthConfig
	circuits map[string]*gobreaker.CircuitBreaker[any]
}

// NewBreakers builds a Breakers registry using cfg's circuit-breaker block
// rate as the trip ratio.
func NewBreakers(cfg HealthConfig) *Breakers {
	return &Breakers{cfg: cfg, circuits: make(map[string]*gobreaker.CircuitBreaker[any])}
}

func (b *Breakers) get(destination string) *gobreaker.CircuitBreaker[any] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.circuits[destination]; ok {
		return cb
	}

	tripRatio := b.cfg.CircuitBreakerBlockRate
	minEvents := uint32(b.cfg.MinEvents)
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        destination,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minEvents {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= tripRatio
		},
	})
	b.circuits[destination] = cb
	return cb
}

// Call executes fn through destination's breaker, returning
// gobreaker.ErrOpenState without calling fn if the breaker is open.
func (b *Breakers) Call(destination string, fn func() (any, error)) (any, error) {
	return b.get(destination).Execute(fn)
}

// State reports the current breaker state for a destination ("closed",
// "half-open", or "open"); a destination with no recorded calls is closed.
func (b *Breakers) State(destination string) string {
	b.mu.Lock()
	cb, ok := b.circuits[destination]
	b.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed.String()
	}
	return cb.State().String()
}

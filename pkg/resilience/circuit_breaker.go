// Package resilience wraps sony/gobreaker for outbound calls made by node
// handlers. Each remote host gets its own breaker so one flapping endpoint
// cannot shut down traffic to the rest.
package resilience

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig holds circuit breaker tuning.
type BreakerConfig struct {
	MaxRequests  uint32        // allowed through while half-open
	Interval     time.Duration // counter reset period while closed
	Timeout      time.Duration // open duration before probing
	FailureRatio float64
	MinRequests  uint32 // minimum observations before tripping
}

// DefaultBreakerConfig returns conservative defaults for HTTP calls.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:  3,
		Interval:     30 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// BreakerGroup lazily creates one breaker per key.
type BreakerGroup struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	cfg      BreakerConfig
}

// NewBreakerGroup creates a group with the given per-breaker config.
func NewBreakerGroup(cfg BreakerConfig) *BreakerGroup {
	return &BreakerGroup{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		cfg:      cfg,
	}
}

// Do runs fn under the breaker for key.
func (g *BreakerGroup) Do(key string, fn func() (interface{}, error)) (interface{}, error) {
	return g.breaker(key).Execute(fn)
}

// State returns the breaker state for key.
func (g *BreakerGroup) State(key string) gobreaker.State {
	return g.breaker(key).State()
}

func (g *BreakerGroup) breaker(key string) *gobreaker.CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cb, ok := g.breakers[key]; ok {
		return cb
	}

	cfg := g.cfg
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
	})
	g.breakers[key] = cb
	return cb
}

// IsOpen reports whether err came from an open or saturated breaker.
func IsOpen(err error) bool {
	return err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests
}

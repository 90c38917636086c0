package server

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// AddrRateLimitConfig configures the per-source-address datagram limiter.
type AddrRateLimitConfig struct {
	DatagramsPerSecond float64       // Datagrams allowed per second per address
	Burst              int           // Maximum burst size
	CleanupInterval    time.Duration // How often to clean up stale limiters
}

// DefaultAddrRateLimitConfig allows a legitimate client's full traffic
// (20 Hz broadcasts are outbound; inbound is moves, heartbeats and claim
// retries) with ample headroom, while capping a flooding source.
var DefaultAddrRateLimitConfig = AddrRateLimitConfig{
	DatagramsPerSecond: 200,
	Burst:              100,
	CleanupInterval:    5 * time.Minute,
}

// addrLimiterEntry tracks per-address rate limiting state.
type addrLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// AddrRateLimiter provides per-source-address rate limiting for inbound
// UDP datagrams. Over-limit datagrams are dropped before decoding; the
// source is never answered.
type AddrRateLimiter struct {
	limiters sync.Map // map[string]*addrLimiterEntry
	config   AddrRateLimitConfig
	stopChan chan struct{}
	stopOnce sync.Once

	rejectedCount atomic.Uint64
	allowedCount  atomic.Uint64
}

// NewAddrRateLimiter creates a limiter and starts its cleanup goroutine.
func NewAddrRateLimiter(cfg AddrRateLimitConfig) *AddrRateLimiter {
	rl := &AddrRateLimiter{
		config:   cfg,
		stopChan: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow reports whether a datagram from addr may be processed.
func (rl *AddrRateLimiter) Allow(addr net.Addr) bool {
	entry := rl.getEntry(addr.String())
	if !entry.limiter.Allow() {
		rl.rejectedCount.Add(1)
		return false
	}
	rl.allowedCount.Add(1)
	return true
}

func (rl *AddrRateLimiter) getEntry(key string) *addrLimiterEntry {
	if v, ok := rl.limiters.Load(key); ok {
		e := v.(*addrLimiterEntry)
		e.lastSeen = time.Now()
		return e
	}

	entry := &addrLimiterEntry{
		limiter:  rate.NewLimiter(rate.Limit(rl.config.DatagramsPerSecond), rl.config.Burst),
		lastSeen: time.Now(),
	}
	actual, _ := rl.limiters.LoadOrStore(key, entry)
	return actual.(*addrLimiterEntry)
}

// Stop stops the cleanup goroutine.
func (rl *AddrRateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopChan)
	})
}

// Rejected returns the count of dropped datagrams.
func (rl *AddrRateLimiter) Rejected() uint64 { return rl.rejectedCount.Load() }

// cleanupLoop removes limiters for addresses that went quiet, preventing
// unbounded growth from address churn.
func (rl *AddrRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-rl.config.CleanupInterval)
			rl.limiters.Range(func(key, value any) bool {
				if value.(*addrLimiterEntry).lastSeen.Before(cutoff) {
					rl.limiters.Delete(key)
				}
				return true
			})
		}
	}
}

package security

import (
	"net"
	"sync"

	"golang.org/x/time/rate"
)

// DefaultMaxClients bounds the number of per-client limiters kept in memory.
const DefaultMaxClients = 10000

// RateLimiter throttles requests globally and per client address
type RateLimiter struct {
	globalLimiter  *rate.Limiter
	clientLimiters map[string]*rate.Limiter
	mu             sync.RWMutex

	// Configuration
	requestsPerSecond float64
	burst             int
	maxClients        int
}

// NewRateLimiter creates a new rate limiter. A burst below one is raised to
// one so that a positive rate always admits at least a single request.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		globalLimiter:     rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		clientLimiters:    make(map[string]*rate.Limiter),
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
		maxClients:        DefaultMaxClients,
	}
}

// Allow checks if a request should be allowed
func (rl *RateLimiter) Allow(clientID string) bool {
	// Per-client first, so one noisy client cannot drain the global bucket
	// while it is already over its own limit.
	if !rl.getClientLimiter(clientID).Allow() {
		return false
	}
	return rl.globalLimiter.Allow()
}

// Clients returns the number of tracked clients
func (rl *RateLimiter) Clients() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.clientLimiters)
}

// getClientLimiter gets or creates a rate limiter for a specific client
func (rl *RateLimiter) getClientLimiter(clientID string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.clientLimiters[clientID]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := rl.clientLimiters[clientID]; exists {
		return limiter
	}

	// Start over rather than grow without bound. Clients lose their
	// accumulated debt, which only makes the limiter more lenient.
	if len(rl.clientLimiters) >= rl.maxClients {
		rl.clientLimiters = make(map[string]*rate.Limiter)
	}

	limiter = rate.NewLimiter(rate.Limit(rl.requestsPerSecond), rl.burst)
	rl.clientLimiters[clientID] = limiter
	return limiter
}

// ClientIP extracts the host part of an http.Request RemoteAddr. Addresses
// without a port are returned unchanged.
func ClientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

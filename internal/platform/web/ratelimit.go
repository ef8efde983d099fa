package web

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Default cleanup intervals.
const (
	cleanupInterval = 1 * time.Minute
	visitorTimeout  = 3 * time.Minute
)

// bucket is a single visitor's token bucket.
type bucket struct {
	// mu protects tokens and lastRefill so visitors do not contend with each other.
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// RateLimiter throttles run and install requests per client IP using a
// token bucket. Every client starts with a full bucket of capacity tokens.
type RateLimiter struct {
	// buckets maps client IPs to their bucket.
	buckets map[string]*bucket
	// mu protects the map itself.
	mu sync.RWMutex

	// rate is the number of tokens added per second.
	rate float64
	// capacity is the max burst size.
	capacity float64

	// trustForwarded makes X-Forwarded-For the client key.
	trustForwarded bool

	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

// NewRateLimiter creates a RateLimiter and starts the background cleanup.
// Call Close to stop it.
func NewRateLimiter(rate, capacity float64) *RateLimiter {
	rl := &RateLimiter{
		buckets:  make(map[string]*bucket),
		rate:     rate,
		capacity: capacity,
		now:      time.Now,
		stop:     make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Close stops the cleanup goroutine.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

// TrustForwardedFor keys clients by the first X-Forwarded-For hop instead
// of the peer address. Only safe behind a proxy that sets the header itself.
func (rl *RateLimiter) TrustForwardedFor(trust bool) {
	rl.trustForwarded = trust
}

// bucketFor retrieves or creates the bucket of ip.
func (rl *RateLimiter) bucketFor(ip string) *bucket {
	// 1. Fast Path: Read Lock
	rl.mu.RLock()
	b, exists := rl.buckets[ip]
	rl.mu.RUnlock()

	if exists {
		return b
	}

	// 2. Slow Path: Write Lock
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if b, exists = rl.buckets[ip]; !exists {
		b = &bucket{
			tokens:     rl.capacity,
			lastRefill: rl.now(),
		}
		rl.buckets[ip] = b
	}
	return b
}

// Allow reports whether ip may make a request now, consuming a token if so.
// Tokens are refilled lazily from the time elapsed since the last call.
func (rl *RateLimiter) Allow(ip string) bool {
	b := rl.bucketFor(ip)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := rl.now()
	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		b.tokens = min(rl.capacity, b.tokens+elapsed*rl.rate)
		b.lastRefill = now
	}

	if b.tokens >= 1.0 {
		b.tokens--
		return true
	}
	return false
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

// cleanup forgets visitors idle for longer than visitorTimeout.
func (rl *RateLimiter) cleanup() {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, b := range rl.buckets {
		b.mu.Lock()
		if now.Sub(b.lastRefill) > visitorTimeout {
			delete(rl.buckets, ip)
		}
		b.mu.Unlock()
	}
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r, rl.trustForwarded)) {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next(w, r)
	}
}

// clientIP returns the peer address, or the first X-Forwarded-For hop when
// the header is trusted.
func clientIP(r *http.Request, trustForwarded bool) string {
	if fwd := r.Header.Get("X-Forwarded-For"); trustForwarded && fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

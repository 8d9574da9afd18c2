package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cfd-ledger/internal/errors"
	"github.com/cfd-ledger/internal/types"
	"golang.org/x/time/rate"
)

// defaultIdleTTL is how long an unused client entry survives before it is swept
const defaultIdleTTL = 10 * time.Minute

// clientLimiters holds the buckets of one client IP, one per tier
type clientLimiters struct {
	anonymous *rate.Limiter
	holder    *rate.Limiter
	lastSeen  time.Time
}

// RateLimiter keeps token buckets per client IP.
// A valid X-Holder-Address header selects the holder tier inside the caller's IP entry;
// it never creates a separate entry.
type RateLimiter struct {
	clients   map[string]*clientLimiters
	mu        sync.Mutex
	lastSweep time.Time
	idleTTL   time.Duration
	now       func() time.Time

	anonymousLimit rate.Limit
	holderLimit    rate.Limit
	burstSize      int
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(anonymousRPS, holderRPS, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 10
	}
	return &RateLimiter{
		clients:        make(map[string]*clientLimiters),
		idleTTL:        defaultIdleTTL,
		now:            time.Now,
		anonymousLimit: rate.Limit(anonymousRPS),
		holderLimit:    rate.Limit(holderRPS),
		burstSize:      burst,
	}
}

// getLimiter returns the bucket for ip in the requested tier, creating the entry on first use
func (rl *RateLimiter) getLimiter(ip string, holderTier bool) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweepLocked(now)

	client, exists := rl.clients[ip]
	if !exists {
		client = &clientLimiters{
			anonymous: rate.NewLimiter(rl.anonymousLimit, rl.burstSize),
			holder:    rate.NewLimiter(rl.holderLimit, rl.burstSize),
		}
		rl.clients[ip] = client
	}
	client.lastSeen = now

	if holderTier {
		return client.holder
	}
	return client.anonymous
}

// sweepLocked drops entries idle for longer than idleTTL, at most once per idleTTL
func (rl *RateLimiter) sweepLocked(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.idleTTL {
		return
	}
	for ip, client := range rl.clients {
		if now.Sub(client.lastSeen) >= rl.idleTTL {
			delete(rl.clients, ip)
		}
	}
	rl.lastSweep = now
}

// callerKey returns the client IP and whether the caller asked for the holder tier
func (rl *RateLimiter) callerKey(r *http.Request) (string, bool) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	_, err = types.NormalizeAddress(r.Header.Get("X-Holder-Address"))
	return "ip:" + host, err == nil
}

// RateLimitMiddleware creates a middleware that enforces rate limiting
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, holderTier := rl.callerKey(r)
			limiter := rl.getLimiter(key, holderTier)

			if !limiter.Allow() {
				respondServiceError(w, r, errors.NewRateLimitError(float64(limiter.Limit())))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const visitorIdleTTL = 3 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// SessionRateLimiter applies a token bucket per browsing session. It must run
// after SessionMiddleware.
type SessionRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
	now      func() time.Time
	logger   *zap.Logger
}

func NewSessionRateLimiter(rps float64, burst int, logger *zap.Logger) *SessionRateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionRateLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
		logger:   logger,
	}
}

func (rl *SessionRateLimiter) limiterFor(sessionID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[sessionID]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.visitors[sessionID] = v
	}
	v.lastSeen = rl.now()
	return v.limiter
}

// Cleanup drops sessions not seen within visitorIdleTTL.
func (rl *SessionRateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for id, v := range rl.visitors {
		if rl.now().Sub(v.lastSeen) > visitorIdleTTL {
			delete(rl.visitors, id)
			removed++
		}
	}
	return removed
}

// RunCleanup calls Cleanup every minute until ctx is done.
func (rl *SessionRateLimiter) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.Cleanup()
		case <-ctx.Done():
			return
		}
	}
}

func (rl *SessionRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.limiterFor(SessionFromContext(r.Context())).Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(rl.logger, w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

package middleware

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/adrianmueller-eu/personal-assistant-sub000/errors"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/metrics"
	"golang.org/x/time/rate"
)

// RateLimiter gives every client a token bucket of burst requests refilled
// one per interval. Clients are identified by authenticated key, falling
// back to the remote IP.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*rate.Limiter
	burst    int
	every    time.Duration
	metrics  *metrics.Metrics
}

// NewRateLimiter creates a limiter. m may be nil.
func NewRateLimiter(burst int, every time.Duration, m *metrics.Metrics) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*rate.Limiter),
		burst:    burst,
		every:    every,
		metrics:  m,
	}
}

// getOrCreate returns the client's bucket with the budget it was made for.
func (l *RateLimiter) getOrCreate(client string) (*rate.Limiter, int, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.visitors[client]
	if !exists {
		limiter = rate.NewLimiter(rate.Every(l.every), l.burst)
		l.visitors[client] = limiter
	}
	return limiter, l.burst, l.every
}

// Reset forgets every client's bucket.
func (l *RateLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.visitors = make(map[string]*rate.Limiter)
}

// Update changes the budget. Existing buckets are dropped when it differs.
func (l *RateLimiter) Update(burst int, every time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.burst == burst && l.every == every {
		return
	}
	l.burst, l.every = burst, every
	l.visitors = make(map[string]*rate.Limiter)
}

func clientOf(r *http.Request) string {
	if c := GetClient(r.Context()); c != "" {
		return c
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Handler rejects requests over the client's budget with 429.
func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientOf(r)
		limiter, burst, every := l.getOrCreate(client)
		if limiter.Allow() {
			next.ServeHTTP(w, r)
			return
		}

		if l.metrics != nil {
			l.metrics.RateLimitHits.WithLabelValues(client).Inc()
		}
		retryAfter := int(math.Ceil(every.Seconds()))
		w.Header().Set("Retry-After", fmt.Sprint(retryAfter))

		errResp := errors.NewRateLimitError(GetRequestID(r.Context()), retryAfter)
		errResp.Details["limit"] = int64(burst)
		errResp.Details["window"] = every.String()
		errors.WriteError(w, errResp)
	})
}

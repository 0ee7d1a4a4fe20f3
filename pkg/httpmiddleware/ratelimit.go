package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per client key. Buckets refill at a steady
// rate and hold at most burst tokens.
type Limiter struct {
	limit rate.Limit
	burst int
	key   func(*http.Request) string
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewLimiter allows perSecond requests per key on average and up to burst
// at once. A nil key buckets by ClientIP.
func NewLimiter(perSecond float64, burst int, key func(*http.Request) string) *Limiter {
	if key == nil {
		key = ClientIP
	}
	return &Limiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		key:     key,
		now:     time.Now,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = b
	}
	return b
}

// Take spends one token of key's bucket. When the bucket is empty nothing is
// spent and wait tells when the next token arrives.
func (l *Limiter) Take(key string, now time.Time) (remaining int, wait time.Duration, ok bool) {
	b := l.bucket(key)
	r := b.ReserveN(now, 1)
	if !r.OK() {
		return 0, time.Duration(math.MaxInt64), false
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return 0, d, false
	}
	return int(b.TokensAt(now)), 0, true
}

// Sweep drops buckets that refilled completely. A full bucket behaves like a
// fresh one, so nothing is forgotten.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for key, b := range l.buckets {
		if b.TokensAt(now) >= float64(l.burst) {
			delete(l.buckets, key)
			n++
		}
	}
	return n
}

// Len returns the number of tracked buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Run sweeps every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.Sweep(l.now())
		}
	}
}

// Middleware answers 429 with Retry-After once the caller's bucket is empty.
func (l *Limiter) Middleware() Middleware {
	burst := strconv.Itoa(l.burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, wait, ok := l.Take(l.key(r), l.now())

			w.Header().Set("X-RateLimit-Limit", burst)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter(wait)))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// retryAfter rounds wait up to whole seconds, at least one.
func retryAfter(wait time.Duration) int {
	if wait > time.Hour {
		return int(time.Hour / time.Second)
	}
	return max(1, int(math.Ceil(wait.Seconds())))
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package gateway

import (
	"sync"
	"time"
)

const (
	DefaultRequestsPerMinute = 60
	DefaultMaxConcurrent     = 10

	reasonConcurrent = "too many concurrent requests"
	reasonRate       = "rate limit exceeded"
)

type window struct {
	requests   []time.Time
	concurrent int
}

// RateLimiter applies a sliding one-minute window and a concurrency cap per
// caller key (user id, or remote address for anonymous callers)
type RateLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	maxConcurrent     int
	windows           map[string]*window
	now               func() time.Time
}

// NewRateLimiter creates a limiter. Non-positive limits use the defaults.
func NewRateLimiter(requestsPerMinute, maxConcurrent int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMinute
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
		windows:           make(map[string]*window),
		now:               time.Now,
	}
}

// Acquire admits one request for key. On success the returned release must
// be called when the request ends; on refusal it returns the reason.
func (r *RateLimiter) Acquire(key string) (release func(), reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w := r.windows[key]
	if w == nil {
		w = &window{}
		r.windows[key] = w
	}

	now := r.now()
	r.prune(w, now)

	if w.concurrent >= r.maxConcurrent {
		return nil, reasonConcurrent
	}
	if len(w.requests) >= r.requestsPerMinute {
		return nil, reasonRate
	}

	w.requests = append(w.requests, now)
	w.concurrent++

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if w.concurrent > 0 {
				w.concurrent--
			}
		})
	}, ""
}

// Stats returns the requests in the current window and the in-flight count for key
func (r *RateLimiter) Stats(key string) (requestCount, concurrentCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w := r.windows[key]
	if w == nil {
		return 0, 0
	}
	r.prune(w, r.now())
	return len(w.requests), w.concurrent
}

// prune drops requests older than one minute
func (r *RateLimiter) prune(w *window, now time.Time) {
	cutoff := now.Add(-time.Minute)
	valid := w.requests[:0]
	for _, t := range w.requests {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	w.requests = valid
}

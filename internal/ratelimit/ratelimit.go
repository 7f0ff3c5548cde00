// Package ratelimit throttles clients with per-IP token buckets.
package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/juju/ratelimit"
)

// Limiter keeps one token bucket per client IP. Idle buckets are dropped
// periodically so the map does not grow without bound.
type Limiter struct {
	rate     float64
	capacity int64

	mu      sync.RWMutex
	clients map[string]*ratelimit.Bucket
	done    chan struct{}
}

// New constructs a Limiter refilling rate tokens per second up to capacity
// and starts its cleanup loop.
func New(rate float64, capacity int64) *Limiter {
	l := &Limiter{
		rate:     rate,
		capacity: capacity,
		clients:  make(map[string]*ratelimit.Bucket),
		done:     make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Close stops the cleanup loop. Call at most once.
func (l *Limiter) Close() {
	close(l.done)
}

func (l *Limiter) bucket(clientIP string) *ratelimit.Bucket {
	l.mu.RLock()
	bucket, exists := l.clients[clientIP]
	l.mu.RUnlock()

	if !exists {
		l.mu.Lock()
		if bucket, exists = l.clients[clientIP]; !exists {
			bucket = ratelimit.NewBucketWithRate(l.rate, l.capacity)
			l.clients[clientIP] = bucket
		}
		l.mu.Unlock()
	}

	return bucket
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			for ip, bucket := range l.clients {
				if bucket.Available() == bucket.Capacity() {
					delete(l.clients, ip)
				}
			}
			l.mu.Unlock()
		case <-l.done:
			return
		}
	}
}

// Middleware rejects requests with 429 once a client's bucket is empty.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if l.bucket(host).TakeAvailable(1) == 0 {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

package api

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimiter caps write requests per client address in fixed one-minute windows
// ARCHITECTURAL DISCOVERY: Per-client state tracking with proper cleanup prevents memory leaks
type RateLimiter struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	clients     map[string]*clientLimit
	lastCleanup time.Time
	now         func() time.Time
}

type clientLimit struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter allows limit requests per client per minute.
func NewRateLimiter(limit int) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  time.Minute,
		clients: make(map[string]*clientLimit),
		now:     time.Now,
	}
}

// Allow records one request from client and reports whether it fits the window.
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	// TECHNICAL DISCOVERY: stale clients are swept lazily, at most once per window
	if now.Sub(rl.lastCleanup) >= rl.window {
		rl.cleanup(now)
		rl.lastCleanup = now
	}

	entry, ok := rl.clients[client]
	if !ok || now.Sub(entry.windowStart) >= rl.window {
		rl.clients[client] = &clientLimit{count: 1, windowStart: now}
		return true
	}
	if entry.count >= rl.limit {
		return false
	}
	entry.count++
	return true
}

// cleanup removes clients idle for five windows.
func (rl *RateLimiter) cleanup(now time.Time) {
	for client, entry := range rl.clients {
		if now.Sub(entry.windowStart) > 5*rl.window {
			delete(rl.clients, client)
		}
	}
}

// Tracked returns how many clients hold window state.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

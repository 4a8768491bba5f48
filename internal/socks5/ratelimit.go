package socks5

import (
	"net"
	"sync"

	"golang.org/x/time/rate"
)

// authLimiter throttles RFC 1929 sub-negotiation attempts per peer host,
// so a client can't brute-force credentials by opening one connection
// per guess. A nil *authLimiter allows everything, which keeps callers
// from needing a nil check at every call site.
type authLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	b        int
}

// newAuthLimiter builds a limiter allowing perMinute sub-negotiation
// attempts per peer host, averaged as a token bucket rather than a hard
// per-minute window. perMinute <= 0 disables limiting (returns nil).
func newAuthLimiter(perMinute int) *authLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &authLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(float64(perMinute) / 60.0),
		b:        perMinute,
	}
}

// allow reports whether peer may attempt a sub-negotiation right now. A
// nil receiver always allows, so negotiateUserPass can call it
// unconditionally.
func (l *authLimiter) allow(peer net.Addr) bool {
	if l == nil {
		return true
	}

	key := hostOf(peer)

	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.r, l.b)
		l.limiters[key] = lim
	}
	return lim.Allow()
}

// hostOf extracts the bare host from a net.Addr, falling back to the
// address's full string form if it isn't a host:port pair.
func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

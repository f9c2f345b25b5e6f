package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter caps concurrent connections and login attempts per client IP.
type Limiter struct {
	mu       sync.Mutex
	conns    map[string]int
	auth     map[string]*rate.Limiter
	maxConns int
	authRate rate.Limit
	burst    int
}

// New builds a limiter allowing maxConns concurrent connections and
// authPerMinute login attempts per IP.
func New(maxConns, authPerMinute int) *Limiter {
	return &Limiter{
		conns:    make(map[string]int),
		auth:     make(map[string]*rate.Limiter),
		maxConns: maxConns,
		authRate: rate.Every(time.Minute / time.Duration(authPerMinute)),
		burst:    authPerMinute,
	}
}

func (l *Limiter) CanConnect(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conns[ip] < l.maxConns
}

func (l *Limiter) AddConnection(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conns[ip]++
}

func (l *Limiter) RemoveConnection(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conns[ip]--
	if l.conns[ip] <= 0 {
		delete(l.conns, ip)
	}
}

// AllowAuth consumes one login attempt for the IP.
func (l *Limiter) AllowAuth(ip string) bool {
	l.mu.Lock()
	lim, ok := l.auth[ip]
	if !ok {
		lim = rate.NewLimiter(l.authRate, l.burst)
		l.auth[ip] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// GetClientIP resolves the caller's address, honoring proxy headers.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip, _, _ := net.SplitHostPort(r.RemoteAddr)
	return ip
}

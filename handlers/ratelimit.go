package handlers

import (
	"net"
	"net/http"
	"sync"
	"time"
)

type attemptData struct {
	count        int
	firstAttempt time.Time
}

// rateLimiter blocks a client IP for blockDuration once it reaches
// maxAttempts recorded attempts within window.
type rateLimiter struct {
	sync.Mutex
	maxAttempts   int
	window        time.Duration
	blockDuration time.Duration
	now           func() time.Time
	attempts      map[string]*attemptData
	blocked       map[string]time.Time
}

const (
	maxAttempts    = 5
	blockDuration  = 15 * time.Minute
	windowDuration = 15 * time.Minute

	// past this many tracked IPs, expired entries are swept on insert
	sweepThreshold = 10000
)

func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		maxAttempts:   maxAttempts,
		window:        windowDuration,
		blockDuration: blockDuration,
		now:           time.Now,
		attempts:      make(map[string]*attemptData),
		blocked:       make(map[string]time.Time),
	}
}

// loginLimiter counts failed logins from LoginHandler and APILoginHandler.
var loginLimiter = newRateLimiter()

// signupLimiter counts account creations from RegisterHandler and
// APISignupHandler.
var signupLimiter = newRateLimiter()

// Allow returns false if the IP is currently blocked.
func (r *rateLimiter) Allow(ip string) bool {
	r.Lock()
	defer r.Unlock()

	if unblockTime, ok := r.blocked[ip]; ok {
		if r.now().Before(unblockTime) {
			return false
		}
		delete(r.blocked, ip)
		delete(r.attempts, ip)
	}
	return true
}

// RecordFailure increments the attempt count and blocks at the threshold.
func (r *rateLimiter) RecordFailure(ip string) {
	r.Lock()
	defer r.Unlock()

	now := r.now()
	if len(r.attempts) > sweepThreshold {
		r.sweep(now)
	}

	data, exists := r.attempts[ip]
	if !exists || now.Sub(data.firstAttempt) > r.window {
		data = &attemptData{firstAttempt: now}
		r.attempts[ip] = data
	}
	data.count++
	if data.count >= r.maxAttempts {
		r.blocked[ip] = now.Add(r.blockDuration)
	}
}

// Reset clears the counter for an IP (used on successful login).
func (r *rateLimiter) Reset(ip string) {
	r.Lock()
	defer r.Unlock()
	delete(r.attempts, ip)
	delete(r.blocked, ip)
}

func (r *rateLimiter) sweep(now time.Time) {
	for ip, data := range r.attempts {
		if _, isBlocked := r.blocked[ip]; !isBlocked && now.Sub(data.firstAttempt) > r.window {
			delete(r.attempts, ip)
		}
	}
	for ip, until := range r.blocked {
		if !now.Before(until) {
			delete(r.blocked, ip)
			delete(r.attempts, ip)
		}
	}
}

func getClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

package httpapi

import (
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var ErrPINRejected = errors.New("manager pin rejected")

// PINGuard protects the manager-only operations (ledger adjustments, levy
// declaration). The PIN is configured at startup and only its bcrypt hash
// is kept in memory.
type PINGuard struct {
	hash []byte
}

func NewPINGuard(pin string) (*PINGuard, error) {
	pin = strings.TrimSpace(pin)
	if pin == "" {
		return &PINGuard{}, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &PINGuard{hash: hash}, nil
}

// Enabled reports whether a PIN was configured. With no PIN the guarded
// endpoints refuse outright rather than run open.
func (g *PINGuard) Enabled() bool {
	return g != nil && len(g.hash) > 0
}

func (g *PINGuard) Check(pin string) error {
	if !g.Enabled() {
		return ErrPINRejected
	}
	if err := bcrypt.CompareHashAndPassword(g.hash, []byte(strings.TrimSpace(pin))); err != nil {
		return ErrPINRejected
	}
	return nil
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := history[:0]
	for _, at := range history {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

// Package throttle limits inbound client input per connection.
package throttle

import (
	"time"

	"golang.org/x/time/rate"
)

// DefaultAdviseEvery is the minimum gap between rate limit advisories.
const DefaultAdviseEvery = time.Second

// Decision is the outcome of offering one message to a Limiter.
type Decision int

const (
	Allow  Decision = iota // Process the message
	Drop                   // Drop silently
	Advise                 // Drop and tell the client it is being throttled
)

// Limiter is a token bucket for one connection. Excess messages are dropped,
// never queued. It is not safe for concurrent use; each read loop owns one.
type Limiter struct {
	bucket      *rate.Limiter
	adviseEvery time.Duration
	lastAdvice  time.Time
	dropped     int
}

// New creates a limiter refilling at perSecond tokens with the given burst.
func New(perSecond float64, burst int) *Limiter {
	return &Limiter{
		bucket:      rate.NewLimiter(rate.Limit(perSecond), burst),
		adviseEvery: DefaultAdviseEvery,
	}
}

// Offer decides the fate of a message arriving at now.
func (l *Limiter) Offer(now time.Time) Decision {
	if l.bucket.AllowN(now, 1) {
		return Allow
	}
	l.dropped++
	if l.lastAdvice.IsZero() || now.Sub(l.lastAdvice) >= l.adviseEvery {
		l.lastAdvice = now
		return Advise
	}
	return Drop
}

// Dropped returns how many messages were rejected so far.
func (l *Limiter) Dropped() int {
	return l.dropped
}

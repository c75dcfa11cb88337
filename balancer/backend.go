// Package balancer routes game connections to backend processes: sticky
// session routing, least-loaded selection, failure backoff, overload
// shedding and autoscaling of locally launched backends.
package balancer

import (
	"net/url"
	"strconv"
	"time"

	"arcade-server/config"
)

// Backend is one session-hosting process. All fields are guarded by the
// owning Pool's mutex.
type Backend struct {
	URL           string
	Active        bool      // False once removed or its managed process exited
	Inflight      int       // Proxied connections currently open
	Failures      int       // Consecutive connect failures
	CooldownUntil time.Time // Not selectable before this
	Managed       bool      // Launched by this balancer
	Process       Process   // Set only for managed backends
	LastActive    time.Time

	sessions  map[string]int       // Hosted session token -> player count
	idleSince map[string]time.Time // Tokens whose player count dropped to zero
}

func newBackend(rawURL string) *Backend {
	return &Backend{
		URL:       rawURL,
		Active:    true,
		sessions:  make(map[string]int),
		idleSince: make(map[string]time.Time),
	}
}

// Available reports whether b may be picked at now.
func (b *Backend) Available(now time.Time) bool {
	return b.Active && !now.Before(b.CooldownUntil)
}

// Port returns the TCP port in b's URL, or 0 if it has none.
func (b *Backend) Port() int {
	u, err := url.Parse(b.URL)
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(u.Port())
	return port
}

func (b *Backend) onFailure(now time.Time) {
	b.Failures++
	b.CooldownUntil = now.Add(cooldownFor(b.Failures))
}

func (b *Backend) onSuccess(now time.Time) {
	b.Failures = 0
	b.CooldownUntil = time.Time{}
	b.LastActive = now
}

// cooldownFor doubles from the base per consecutive failure up to the ceiling.
func cooldownFor(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	shift := failures - 1
	if shift > 5 {
		shift = 5
	}
	d := config.BackendCooldownBase << shift
	if d > config.BackendCooldownCeiling {
		d = config.BackendCooldownCeiling
	}
	return d
}

// BackendInfo is a point-in-time view of a backend for the REST API.
type BackendInfo struct {
	URL           string         `json:"url"`
	Active        bool           `json:"active"`
	Available     bool           `json:"available"`
	Inflight      int            `json:"inflight"`
	Failures      int            `json:"failures"`
	CooldownUntil *time.Time     `json:"cooldown_until,omitempty"`
	Managed       bool           `json:"managed"`
	LastActive    *time.Time     `json:"last_active,omitempty"`
	Sessions      map[string]int `json:"sessions"`
}

func (b *Backend) info(now time.Time) BackendInfo {
	info := BackendInfo{
		URL:       b.URL,
		Active:    b.Active,
		Available: b.Available(now),
		Inflight:  b.Inflight,
		Failures:  b.Failures,
		Managed:   b.Managed,
		Sessions:  make(map[string]int, len(b.sessions)),
	}
	if !b.CooldownUntil.IsZero() {
		t := b.CooldownUntil
		info.CooldownUntil = &t
	}
	if !b.LastActive.IsZero() {
		t := b.LastActive
		info.LastActive = &t
	}
	for token, n := range b.sessions {
		info.Sessions[token] = n
	}
	return info
}

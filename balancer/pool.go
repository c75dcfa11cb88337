package balancer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"arcade-server/config"
)

var (
	ErrNoBackend       = errors.New("no backend available")
	ErrSessionNotFound = errors.New("session not found")
	ErrOverloaded      = errors.New("all backends at capacity")
)

// storePollInterval is how often AwaitSession checks the shared store for
// mappings recorded by another balancer.
const storePollInterval = 250 * time.Millisecond

// PoolConfig tunes selection and bookkeeping.
type PoolConfig struct {
	Capacity       int           // Connections per backend before it counts as full
	SessionIdleTTL time.Duration // Zero-player mappings older than this are reclaimed
}

// Lease is one routed connection. Every lease must be returned with Release
// or Abort exactly once.
type Lease struct {
	Backend *Backend
	Token   string
	Created bool // This lease recorded the token's mapping
}

// Pool tracks backends and the sticky token map. Every pick, release and
// failure record happens under one mutex so counters stay consistent under
// concurrent connection attempts.
type Pool struct {
	cfg       PoolConfig
	threshold int // Hosted sessions per backend before it counts as full
	store     RouteStore
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	backends []*Backend
	sticky   map[string]*Backend
	waiters  map[string][]chan struct{}
}

// NewPool creates an empty pool. A nil store keeps mappings in memory only.
func NewPool(cfg PoolConfig, store RouteStore, logger *slog.Logger) *Pool {
	if store == nil {
		store = NewMemoryRouteStore()
	}
	threshold := cfg.Capacity / config.MaxPlayers
	if threshold < 1 {
		threshold = 1
	}
	return &Pool{
		cfg:       cfg,
		threshold: threshold,
		store:     store,
		logger:    logger,
		now:       time.Now,
		sticky:    make(map[string]*Backend),
		waiters:   make(map[string][]chan struct{}),
	}
}

// Add registers a static backend.
func (p *Pool) Add(rawURL string) *Backend {
	b := newBackend(rawURL)
	p.mu.Lock()
	p.backends = append(p.backends, b)
	p.mu.Unlock()
	return b
}

// AddManaged registers a backend whose process this balancer launched.
func (p *Pool) AddManaged(rawURL string, proc Process) *Backend {
	b := newBackend(rawURL)
	b.Managed = true
	b.Process = proc
	p.mu.Lock()
	p.backends = append(p.backends, b)
	p.mu.Unlock()
	return b
}

// Deactivate takes b out of rotation for good and drops its sessions.
func (p *Pool) Deactivate(b *Backend) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b.Active = false
	for token := range b.sessions {
		if p.sticky[token] == b {
			delete(p.sticky, token)
		}
	}
	b.sessions = make(map[string]int)
	b.idleSince = make(map[string]time.Time)
}

// ActiveLen returns the number of backends still in rotation, cooling down or not.
func (p *Pool) ActiveLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.backends {
		if b.Active {
			n++
		}
	}
	return n
}

// UsedPorts returns the ports of every active backend.
func (p *Pool) UsedPorts() map[int]bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	used := make(map[int]bool, len(p.backends))
	for _, b := range p.backends {
		if b.Active {
			used[b.Port()] = true
		}
	}
	return used
}

// Pick selects the available backend with the fewest open connections,
// breaking ties by least recent activity, for a connection with no token.
func (p *Pool) Pick() (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	avail := p.availableLocked(now)
	if len(avail) == 0 {
		return nil, ErrNoBackend
	}
	if p.cfg.Capacity > 0 && allLocked(avail, func(b *Backend) bool { return b.Inflight >= p.cfg.Capacity }) {
		return nil, ErrOverloaded
	}

	chosen := avail[0]
	for _, b := range avail[1:] {
		if b.Inflight < chosen.Inflight ||
			(b.Inflight == chosen.Inflight && b.LastActive.Before(chosen.LastActive)) {
			chosen = b
		}
	}
	p.acquireLocked(chosen, "", now)
	return &Lease{Backend: chosen}, nil
}

// PickForToken routes a connection carrying a session token. A mapped token
// always returns its backend. An unmapped token with create set goes to the
// backend hosting the fewest sessions and is recorded; without create it
// fails with ErrSessionNotFound.
func (p *Pool) PickForToken(ctx context.Context, token string, create bool) (*Lease, error) {
	if !p.mapped(token) {
		p.adopt(ctx, token)
	}

	lease, err := p.pickForToken(token, create)
	if err != nil {
		return nil, err
	}
	if lease.Created {
		if err := p.store.Set(ctx, token, lease.Backend.URL, config.RouteStoreTTL); err != nil {
			p.logger.Warn("route not shared", "token", token, "error", err)
		}
	}
	return lease, nil
}

func (p *Pool) pickForToken(token string, create bool) (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if b, ok := p.sticky[token]; ok {
		p.acquireLocked(b, token, now)
		return &Lease{Backend: b, Token: token}, nil
	}
	if !create {
		return nil, ErrSessionNotFound
	}

	avail := p.availableLocked(now)
	if len(avail) == 0 {
		return nil, ErrNoBackend
	}
	if allLocked(avail, func(b *Backend) bool { return len(b.sessions) >= p.threshold }) {
		return nil, ErrOverloaded
	}

	chosen := avail[0]
	for _, b := range avail[1:] {
		if len(b.sessions) < len(chosen.sessions) {
			chosen = b
		}
	}
	p.recordLocked(token, chosen)
	p.acquireLocked(chosen, token, now)
	return &Lease{Backend: chosen, Token: token, Created: true}, nil
}

// Release returns a lease. Connection and player counts never drop below zero.
func (p *Pool) Release(l *Lease) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseLocked(l, p.now())
}

// Abort returns a lease whose connection never reached its backend, and
// forgets a mapping the lease created if no one else is using it.
func (p *Pool) Abort(ctx context.Context, l *Lease) {
	p.mu.Lock()
	p.releaseLocked(l, p.now())
	forget := l.Created && l.Backend.sessions[l.Token] == 0 && p.sticky[l.Token] == l.Backend
	if forget {
		p.dropSessionLocked(l.Backend, l.Token)
	}
	p.mu.Unlock()

	if forget {
		if err := p.store.Delete(ctx, l.Token); err != nil {
			p.logger.Warn("route not unshared", "token", l.Token, "error", err)
		}
	}
}

// OnFailure records a connect or transport failure and extends b's cooldown.
func (p *Pool) OnFailure(b *Backend) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b.onFailure(p.now())
	p.logger.Warn("backend failure recorded",
		"backend", b.URL, "failures", b.Failures, "cooldown_until", b.CooldownUntil)
}

// OnSuccess clears b's failure count and cooldown.
func (p *Pool) OnSuccess(b *Backend) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b.Failures > 0 {
		p.logger.Info("backend recovered", "backend", b.URL, "after_failures", b.Failures)
	}
	b.onSuccess(p.now())
}

// AwaitSession blocks until token is mapped to a backend or ctx ends.
// Mappings recorded by another balancer are picked up from the shared store.
func (p *Pool) AwaitSession(ctx context.Context, token string) error {
	p.mu.Lock()
	if _, ok := p.sticky[token]; ok {
		p.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	p.waiters[token] = append(p.waiters[token], ch)
	p.mu.Unlock()

	defer p.dropWaiter(token, ch)

	ticker := time.NewTicker(storePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ch:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if p.adopt(ctx, token) {
				return nil
			}
		}
	}
}

// Saturated reports whether every available backend is at or above its
// session threshold or connection capacity. False when none is available.
func (p *Pool) Saturated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	avail := p.availableLocked(p.now())
	if len(avail) == 0 {
		return false
	}
	return allLocked(avail, func(b *Backend) bool {
		return len(b.sessions) >= p.threshold || (p.cfg.Capacity > 0 && b.Inflight >= p.cfg.Capacity)
	})
}

// SweepIdle forgets sessions that have had no players for longer than the
// idle TTL and returns their tokens.
func (p *Pool) SweepIdle(ctx context.Context) []string {
	p.mu.Lock()
	now := p.now()
	var reclaimed []string
	for _, b := range p.backends {
		for token, since := range b.idleSince {
			if b.sessions[token] == 0 && now.Sub(since) >= p.cfg.SessionIdleTTL {
				p.dropSessionLocked(b, token)
				reclaimed = append(reclaimed, token)
			}
		}
	}
	p.mu.Unlock()

	for _, token := range reclaimed {
		if err := p.store.Delete(ctx, token); err != nil {
			p.logger.Warn("route not unshared", "token", token, "error", err)
		}
	}
	if len(reclaimed) > 0 {
		p.logger.Info("reclaimed idle sessions", "count", len(reclaimed), "tokens", reclaimed)
	}
	return reclaimed
}

// RunIdleSweep calls SweepIdle every interval until ctx ends.
func (p *Pool) RunIdleSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.SweepIdle(ctx)
		}
	}
}

// Snapshot returns the state of every backend in pool order.
func (p *Pool) Snapshot() []BackendInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	out := make([]BackendInfo, 0, len(p.backends))
	for _, b := range p.backends {
		out = append(out, b.info(now))
	}
	return out
}

func (p *Pool) mapped(token string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sticky[token]
	return ok
}

// adopt installs a mapping found in the shared store if its backend is known here.
func (p *Pool) adopt(ctx context.Context, token string) bool {
	backendURL, ok, err := p.store.Get(ctx, token)
	if err != nil {
		p.logger.Warn("route lookup failed", "token", token, "error", err)
		return false
	}
	if !ok {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.sticky[token]; ok {
		return true
	}
	for _, b := range p.backends {
		if b.URL == backendURL && b.Active {
			p.recordLocked(token, b)
			b.idleSince[token] = p.now()
			return true
		}
	}
	return false
}

func (p *Pool) availableLocked(now time.Time) []*Backend {
	var avail []*Backend
	for _, b := range p.backends {
		if b.Available(now) {
			avail = append(avail, b)
		}
	}
	return avail
}

func (p *Pool) acquireLocked(b *Backend, token string, now time.Time) {
	b.Inflight++
	b.LastActive = now
	if token != "" {
		b.sessions[token]++
		delete(b.idleSince, token)
	}
}

func (p *Pool) releaseLocked(l *Lease, now time.Time) {
	b := l.Backend
	if b.Inflight > 0 {
		b.Inflight--
	}
	b.LastActive = now
	if l.Token == "" {
		return
	}
	n, ok := b.sessions[l.Token]
	if !ok {
		return // Reclaimed while the connection was open
	}
	if n > 1 {
		b.sessions[l.Token] = n - 1
		return
	}
	b.sessions[l.Token] = 0
	b.idleSince[l.Token] = now
}

func (p *Pool) recordLocked(token string, b *Backend) {
	p.sticky[token] = b
	if _, ok := b.sessions[token]; !ok {
		b.sessions[token] = 0
	}
	for _, ch := range p.waiters[token] {
		close(ch)
	}
	delete(p.waiters, token)
}

func (p *Pool) dropSessionLocked(b *Backend, token string) {
	delete(b.sessions, token)
	delete(b.idleSince, token)
	if p.sticky[token] == b {
		delete(p.sticky, token)
	}
}

func (p *Pool) dropWaiter(token string, ch chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.waiters[token]
	for i, w := range list {
		if w == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(p.waiters, token)
	} else {
		p.waiters[token] = list
	}
}

func allLocked(bs []*Backend, pred func(*Backend) bool) bool {
	for _, b := range bs {
		if !pred(b) {
			return false
		}
	}
	return true
}

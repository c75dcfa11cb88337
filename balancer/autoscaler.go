package balancer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"arcade-server/config"
	"arcade-server/events"
)

// AutoscaleConfig bounds the number of locally launched backends.
type AutoscaleConfig struct {
	Min      int
	Max      int
	BasePort int
	Host     string // Host used in launched backend URLs
	Interval time.Duration
}

// Autoscaler launches backends when every available one is saturated and
// terminates only the processes it launched.
type Autoscaler struct {
	cfg       AutoscaleConfig
	pool      *Pool
	launcher  Launcher
	publisher events.Publisher
	logger    *slog.Logger
	portFree  func(port int) bool

	mu      sync.Mutex
	managed []*Backend

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewAutoscaler creates an autoscaler over pool.
func NewAutoscaler(cfg AutoscaleConfig, pool *Pool, launcher Launcher, publisher events.Publisher, logger *slog.Logger) *Autoscaler {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = config.AutoscaleInterval
	}
	return &Autoscaler{
		cfg:       cfg,
		pool:      pool,
		launcher:  launcher,
		publisher: publisher,
		logger:    logger,
		portFree:  portFree,
		stopCh:    make(chan struct{}),
	}
}

// EnsureMin launches backends until the pool holds at least Min.
func (a *Autoscaler) EnsureMin(ctx context.Context) error {
	for a.pool.ActiveLen() < a.cfg.Min {
		if _, err := a.launch(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Start runs the scale-up monitor.
func (a *Autoscaler) Start() {
	a.wg.Add(1)
	go a.run()
}

// Stop halts the monitor and terminates every launched process.
func (a *Autoscaler) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
		a.wg.Wait()

		a.mu.Lock()
		managed := append([]*Backend(nil), a.managed...)
		a.mu.Unlock()

		var wg sync.WaitGroup
		for _, b := range managed {
			wg.Add(1)
			go func(b *Backend) {
				defer wg.Done()
				if err := b.Process.Stop(config.BackendStopGrace); err != nil {
					a.logger.Warn("backend did not stop cleanly", "backend", b.URL, "error", err)
					return
				}
				a.logger.Info("backend stopped", "backend", b.URL, "pid", b.Process.PID())
			}(b)
		}
		wg.Wait()
	})
}

func (a *Autoscaler) run() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.scaleOnce(context.Background())
		}
	}
}

// scaleOnce launches one backend if the pool is saturated and below Max.
func (a *Autoscaler) scaleOnce(ctx context.Context) bool {
	if !a.pool.Saturated() {
		return false
	}
	if n := a.pool.ActiveLen(); n >= a.cfg.Max {
		a.logger.Warn("pool saturated at max backends", "backends", n, "max", a.cfg.Max)
		return false
	}
	b, err := a.launch(ctx)
	if err != nil {
		a.logger.Error("autoscale launch failed", "error", err)
		return false
	}
	a.logger.Info("autoscale launched backend", "backend", b.URL)
	return true
}

func (a *Autoscaler) launch(ctx context.Context) (*Backend, error) {
	port := a.nextPort()
	proc, err := a.launcher.Launch(ctx, port)
	if err != nil {
		return nil, fmt.Errorf("launch backend on port %d: %w", port, err)
	}

	b := a.pool.AddManaged("ws://"+net.JoinHostPort(a.cfg.Host, strconv.Itoa(port)), proc)
	a.mu.Lock()
	a.managed = append(a.managed, b)
	a.mu.Unlock()

	a.publisher.Publish(events.SubjectBackendLaunched, map[string]string{
		"backend": b.URL,
		"pid":     strconv.Itoa(proc.PID()),
	})

	go a.watch(b)
	return b, nil
}

// watch takes a backend out of rotation when its process exits.
func (a *Autoscaler) watch(b *Backend) {
	<-b.Process.Done()
	a.pool.Deactivate(b)
	select {
	case <-a.stopCh:
		return // Expected during shutdown
	default:
	}
	a.logger.Warn("backend process exited", "backend", b.URL, "error", b.Process.Err())
	a.publisher.Publish(events.SubjectBackendFailure, map[string]string{
		"backend": b.URL,
		"reason":  "process exited",
	})
}

// nextPort returns the first port from BasePort that no backend uses and
// that nothing else is listening on.
func (a *Autoscaler) nextPort() int {
	used := a.pool.UsedPorts()
	port := a.cfg.BasePort
	for used[port] || !a.portFree(port) {
		port++
	}
	return port
}

func portFree(port int) bool {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

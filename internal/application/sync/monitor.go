package sync

import (
	"context"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/equiptrack/station/internal/infrastructure/config"
	"go.uber.org/zap"
)

// HealthChecker probes the remote service.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Monitor tracks whether the remote data service is reachable. It probes
// on a fixed interval and exposes the last known state without blocking.
// Registered callbacks fire exactly once per offline-to-online transition;
// that is where the queue replay and cache refresh hang.
type Monitor struct {
	checker  HealthChecker
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	online  atomic.Bool
	started atomic.Bool

	mu       gosync.Mutex
	onOnline []func(ctx context.Context)
}

// MonitorOption is a functional option for configuring the monitor
type MonitorOption func(*Monitor)

// WithMonitorLogger sets the logger for the monitor
func WithMonitorLogger(logger *zap.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = logger }
}

// NewMonitor creates a connectivity monitor. The station starts in the
// offline state; the first successful probe flips it online.
func NewMonitor(checker HealthChecker, cfg *config.SyncConfig, opts ...MonitorOption) *Monitor {
	interval := cfg.HealthInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	timeout := cfg.HealthTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	m := &Monitor{
		checker:  checker,
		interval: interval,
		timeout:  timeout,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsOnline reports the last observed reachability. It never touches the
// network.
func (m *Monitor) IsOnline() bool {
	return m.online.Load()
}

// OnOnline registers a callback invoked whenever connectivity returns.
// Callbacks run sequentially in one goroutine per transition.
func (m *Monitor) OnOnline(fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOnline = append(m.onOnline, fn)
}

// Start launches the probe loop. It blocks until the context is cancelled,
// so run it in a goroutine. The first probe happens immediately.
func (m *Monitor) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	m.CheckNow(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckNow(ctx)
		}
	}
}

// CheckNow runs one probe and returns the resulting state. Also used by
// write paths that just saw a transport error and want the state corrected
// before the next caller asks.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	reachable := m.checker.Health(probeCtx) == nil
	was := m.online.Swap(reachable)

	switch {
	case reachable && !was:
		m.logger.Info("Remote data service is reachable again")
		m.fireOnline(ctx)
	case !reachable && was:
		m.logger.Warn("Remote data service became unreachable")
	}
	return reachable
}

// MarkOffline forces the offline state, used when a write path hits a
// transport error between probes.
func (m *Monitor) MarkOffline() {
	if m.online.Swap(false) {
		m.logger.Warn("Remote data service marked offline after a failed request")
	}
}

func (m *Monitor) fireOnline(ctx context.Context) {
	m.mu.Lock()
	callbacks := make([]func(ctx context.Context), len(m.onOnline))
	copy(callbacks, m.onOnline)
	m.mu.Unlock()

	go func() {
		for _, fn := range callbacks {
			fn(ctx)
		}
	}()
}

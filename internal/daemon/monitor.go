// Package daemon runs the foreground monitor loop.
package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
	"github.com/eliteGoblin/focusd/app_guard/internal/metrics"
	"github.com/eliteGoblin/focusd/app_guard/internal/usecase"
)

var (
	// ErrMonitorRunning is returned by Run when the loop is already active.
	ErrMonitorRunning = errors.New("monitor already running")

	// ErrMonitorStopped is returned by Run after Stop.
	ErrMonitorStopped = errors.New("monitor stopped")
)

// Mode selects which foreground sources drive the monitor.
type Mode string

const (
	ModePoll Mode = "poll"
	ModePush Mode = "push"
	ModeBoth Mode = "both"
)

// Poll interval bounds.
const (
	MinPollInterval = 200 * time.Millisecond
	MaxPollInterval = time.Second
)

// MonitorConfig holds monitor configuration.
type MonitorConfig struct {
	Mode                  Mode
	PollInterval          time.Duration // Clamped to [MinPollInterval, MaxPollInterval]
	PollWindow            time.Duration // How far back each usage query looks
	PolicyRefreshInterval time.Duration // Zero disables periodic reload
}

// DefaultMonitorConfig returns default monitor configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Mode:                  ModeBoth,
		PollInterval:          500 * time.Millisecond,
		PollWindow:            time.Second,
		PolicyRefreshInterval: 30 * time.Second,
	}
}

// Normalize fills zero values and clamps the poll interval.
func (c MonitorConfig) Normalize() MonitorConfig {
	def := DefaultMonitorConfig()
	switch c.Mode {
	case ModePoll, ModePush, ModeBoth:
	default:
		c.Mode = def.Mode
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.PollInterval < MinPollInterval {
		c.PollInterval = MinPollInterval
	}
	if c.PollInterval > MaxPollInterval {
		c.PollInterval = MaxPollInterval
	}
	if c.PollWindow <= 0 {
		c.PollWindow = def.PollWindow
	}
	if c.PolicyRefreshInterval < 0 {
		c.PolicyRefreshInterval = 0
	}
	return c
}

// PolicyRefresher reloads the in-memory policy from persistent storage.
type PolicyRefresher interface {
	Reload() error
}

// Monitor feeds foreground signals from push and poll sources into one
// tracker and one enforcer.
type Monitor struct {
	config    MonitorConfig
	query     domain.ForegroundQuery
	stream    domain.SignalStream
	tracker   *usecase.Tracker
	enforcer  *usecase.Enforcer
	refresher PolicyRefresher
	clock     domain.Clock
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewMonitor creates a monitor. query, stream and refresher may be nil
// when the corresponding source is not used.
func NewMonitor(
	config MonitorConfig,
	query domain.ForegroundQuery,
	stream domain.SignalStream,
	tracker *usecase.Tracker,
	enforcer *usecase.Enforcer,
	refresher PolicyRefresher,
	clock domain.Clock,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Monitor {
	return &Monitor{
		config:    config.Normalize(),
		query:     query,
		stream:    stream,
		tracker:   tracker,
		enforcer:  enforcer,
		refresher: refresher,
		clock:     clock,
		metrics:   m,
		logger:    logger,
	}
}

// Run starts the monitor loop.
// This blocks until context is canceled or Stop is called.
func (m *Monitor) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrMonitorStopped
	}
	if m.running {
		m.mu.Unlock()
		return ErrMonitorRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	defer func() {
		cancel()
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		close(done)
	}()

	m.logger.Info("monitor started",
		zap.String("mode", string(m.config.Mode)),
		zap.Duration("poll_interval", m.config.PollInterval))

	var pollC <-chan time.Time
	if m.config.Mode != ModePush && m.query != nil {
		pollTicker := time.NewTicker(m.config.PollInterval)
		defer pollTicker.Stop()
		pollC = pollTicker.C
	}

	var signals <-chan domain.Signal
	if m.config.Mode != ModePoll && m.stream != nil {
		signals = m.stream.Signals()
	}

	var refreshC <-chan time.Time
	if m.refresher != nil && m.config.PolicyRefreshInterval > 0 {
		refreshTicker := time.NewTicker(m.config.PolicyRefreshInterval)
		defer refreshTicker.Stop()
		refreshC = refreshTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopping")
			return ctx.Err()

		case <-pollC:
			m.pollOnce(ctx)

		case sig, ok := <-signals:
			if !ok {
				m.logger.Warn("signal stream closed, continuing with polling only")
				signals = nil
				continue
			}
			m.Handle(sig)

		case <-refreshC:
			m.refreshPolicy()
		}
	}
}

// Handle processes one foreground signal. It is safe to call from any
// goroutine and is the entry point for push notifications.
func (m *Monitor) Handle(sig domain.Signal) (*domain.SessionTransition, *domain.EnforcementAction) {
	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if stopped {
		return nil, nil
	}

	if sig.At.IsZero() {
		sig.At = m.clock.Now()
	}

	transition := m.tracker.Observe(sig)
	action := m.enforcer.Evaluate(sig.PackageID, sig.At)
	return transition, action
}

// pollOnce queries the recent usage window and handles its foreground.
// A failed query counts as "no foreground" for the cycle.
func (m *Monitor) pollOnce(ctx context.Context) {
	now := m.clock.Now()
	records, err := m.query.QueryRecentForeground(ctx, now.Add(-m.config.PollWindow), now)
	if err != nil {
		m.metrics.SignalErrors.WithLabelValues(string(domain.SourcePoll)).Inc()
		m.logger.Debug("foreground query failed", zap.Error(err))
		return
	}

	record, ok := usecase.SelectForeground(records)
	if !ok {
		return
	}

	at := record.LastActiveAt
	if at.IsZero() {
		at = now
	}
	m.Handle(domain.Signal{
		PackageID: record.PackageID,
		Title:     record.Title,
		At:        at,
		Source:    domain.SourcePoll,
	})
}

func (m *Monitor) refreshPolicy() {
	if err := m.refresher.Reload(); err != nil {
		m.metrics.PolicyErrors.Inc()
		m.logger.Warn("policy reload failed", zap.Error(err))
	}
}

// Stop cancels the loop, waits for it to exit, cancels pending enforcement
// re-checks and hides the warning. It is safe to call more than once.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	cancel, done, running := m.cancel, m.done, m.running
	m.mu.Unlock()

	if running {
		cancel()
		<-done
	}
	m.enforcer.Stop()
	m.logger.Info("monitor stopped")
}

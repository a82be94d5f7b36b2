package usecase

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
	"github.com/eliteGoblin/focusd/app_guard/internal/metrics"
)

// WarningState is the visibility of the blocking warning.
type WarningState int

const (
	WarningHidden WarningState = iota
	WarningShowing
)

func (s WarningState) String() string {
	if s == WarningShowing {
		return "showing"
	}
	return "hidden"
}

// WarningIndicator drives a WarningDisplay through HIDDEN -> SHOWING -> HIDDEN.
// A show request while already showing is a no-op and does not extend the
// display time.
type WarningIndicator struct {
	display  domain.WarningDisplay
	clock    domain.Clock
	duration time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu         sync.Mutex
	state      WarningState
	generation uint64
	timer      domain.Timer
}

// NewWarningIndicator creates an indicator that auto-hides after duration.
func NewWarningIndicator(
	display domain.WarningDisplay,
	clock domain.Clock,
	duration time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *WarningIndicator {
	return &WarningIndicator{
		display:  display,
		clock:    clock,
		duration: duration,
		metrics:  m,
		logger:   logger,
	}
}

// Show displays text unless the warning is already showing.
// It reports whether a new display was started.
func (w *WarningIndicator) Show(text string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == WarningShowing || w.display == nil {
		return false
	}

	if err := w.display.ShowWarning(text); err != nil {
		w.logger.Warn("failed to show warning", zap.Error(err))
		return false
	}

	w.state = WarningShowing
	w.generation++
	gen := w.generation
	w.timer = w.clock.AfterFunc(w.duration, func() { w.expire(gen) })
	w.metrics.WarningsShown.Inc()
	return true
}

// Hide removes the warning now.
func (w *WarningIndicator) Hide() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != WarningShowing {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.hideLocked()
}

// State returns the current visibility.
func (w *WarningIndicator) State() WarningState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *WarningIndicator) expire(gen uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// A stale timer from an earlier display must not hide a newer one.
	if w.state != WarningShowing || w.generation != gen {
		return
	}
	w.timer = nil
	w.hideLocked()
}

func (w *WarningIndicator) hideLocked() {
	w.state = WarningHidden
	if err := w.display.HideWarning(); err != nil {
		w.logger.Warn("failed to hide warning", zap.Error(err))
	}
}

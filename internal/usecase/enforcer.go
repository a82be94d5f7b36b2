// Package usecase contains application business logic.
package usecase

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
	"github.com/eliteGoblin/focusd/app_guard/internal/metrics"
)

// OutcomeIncomplete is logged when a blocked app survives the retry.
const OutcomeIncomplete = "ENFORCEMENT_INCOMPLETE"

// EnforcerConfig holds enforcement configuration.
type EnforcerConfig struct {
	SelfPackageID   string        // Never acted on, even if blocked
	RecheckDelay    time.Duration // Delay before checking the app actually stopped
	WarningDuration time.Duration // How long the warning stays visible
	WarningText     string
	FailClosed      bool // Treat policy read errors as blocked
}

// DefaultEnforcerConfig returns default enforcement configuration.
func DefaultEnforcerConfig() EnforcerConfig {
	return EnforcerConfig{
		SelfPackageID:   "appguard",
		RecheckDelay:    100 * time.Millisecond,
		WarningDuration: 3 * time.Second,
		WarningText:     "This app has been blocked",
		FailClosed:      false,
	}
}

// Enforcer acts on foreground observations of blocked applications.
// Termination is best effort: one terminate plus at most one retry per
// detection, then the outcome is logged and left alone.
type Enforcer struct {
	config     EnforcerConfig
	policy     domain.PolicyStore
	terminator domain.Terminator
	navigator  domain.Navigator
	warning    *WarningIndicator
	clock      domain.Clock
	metrics    *metrics.Metrics
	logger     *zap.Logger

	mu      sync.Mutex
	pending map[string]*pendingCheck
	stopped bool
}

type pendingCheck struct {
	attempt *domain.EnforcementAttempt
	timer   domain.Timer
}

// NewEnforcer creates a new enforcement engine.
func NewEnforcer(
	config EnforcerConfig,
	policy domain.PolicyStore,
	terminator domain.Terminator,
	navigator domain.Navigator,
	display domain.WarningDisplay,
	clock domain.Clock,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Enforcer {
	return &Enforcer{
		config:     config,
		policy:     policy,
		terminator: terminator,
		navigator:  navigator,
		warning:    NewWarningIndicator(display, clock, config.WarningDuration, m, logger),
		clock:      clock,
		metrics:    m,
		logger:     logger,
		pending:    make(map[string]*pendingCheck),
	}
}

// Evaluate checks the foreground package against the policy and acts on a
// violation. It returns nil when nothing was done.
func (e *Enforcer) Evaluate(packageID string, now time.Time) *domain.EnforcementAction {
	packageID = strings.TrimSpace(packageID)
	if packageID == "" || packageID == e.config.SelfPackageID {
		return nil
	}

	e.mu.Lock()
	stopped := e.stopped
	e.mu.Unlock()
	if stopped {
		return nil
	}

	if !e.isBlocked(packageID) {
		return nil
	}

	attempt := &domain.EnforcementAttempt{
		ID:              uuid.New().String(),
		PackageID:       packageID,
		Attempts:        1,
		FirstDetectedAt: now,
	}
	action := &domain.EnforcementAction{
		AttemptID: attempt.ID,
		PackageID: packageID,
		At:        now,
	}

	if err := e.terminator.Terminate(packageID); err != nil {
		action.TerminateErr = err
		e.logger.Warn("failed to terminate blocked app",
			zap.String("package", packageID),
			zap.Error(err))
	}

	if err := e.navigator.NavigateToNeutral(); err != nil {
		e.logger.Warn("failed to navigate away from blocked app",
			zap.String("package", packageID),
			zap.Error(err))
	} else {
		action.Navigated = true
	}

	if e.warning.Show(e.config.WarningText) {
		action.WarningShown = true
		attempt.WarningShown = true
	}

	action.RetryScheduled = e.scheduleRecheck(attempt)
	e.metrics.EnforcementActions.Inc()

	e.logger.Info("blocked app enforced",
		zap.String("package", packageID),
		zap.String("attempt", attempt.ID),
		zap.Bool("navigated", action.Navigated),
		zap.Bool("warning_shown", action.WarningShown),
		zap.Bool("retry_scheduled", action.RetryScheduled))

	return action
}

// isBlocked reads the policy, applying the fail-open or fail-closed rule on error.
func (e *Enforcer) isBlocked(packageID string) bool {
	blocked, err := e.policy.Contains(packageID)
	if err != nil {
		e.metrics.PolicyErrors.Inc()
		e.logger.Warn("policy read failed",
			zap.String("package", packageID),
			zap.Bool("fail_closed", e.config.FailClosed),
			zap.Error(err))
		return e.config.FailClosed
	}
	return blocked
}

// scheduleRecheck arms the re-check timer unless one is already pending
// for the package.
func (e *Enforcer) scheduleRecheck(attempt *domain.EnforcementAttempt) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return false
	}
	if _, busy := e.pending[attempt.PackageID]; busy {
		return false
	}

	check := &pendingCheck{attempt: attempt}
	check.timer = e.clock.AfterFunc(e.config.RecheckDelay, func() { e.recheck(check) })
	e.pending[attempt.PackageID] = check
	return true
}

// recheck retries termination once if the app is still running.
func (e *Enforcer) recheck(check *pendingCheck) {
	pkg := check.attempt.PackageID

	if !e.terminator.IsRunning(pkg) {
		e.release(check)
		return
	}

	e.mu.Lock()
	if e.stopped || e.pending[pkg] != check {
		e.mu.Unlock()
		return
	}
	check.attempt.Attempts++
	e.mu.Unlock()

	e.metrics.EnforcementRetries.Inc()
	e.logger.Info("blocked app still running, retrying",
		zap.String("package", pkg),
		zap.String("attempt", check.attempt.ID))

	if err := e.terminator.Terminate(pkg); err != nil {
		e.logger.Warn("retry terminate failed",
			zap.String("package", pkg),
			zap.Error(err))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped || e.pending[pkg] != check {
		return
	}
	check.timer = e.clock.AfterFunc(e.config.RecheckDelay, func() { e.verify(check) })
}

// verify is the final look after the retry.
func (e *Enforcer) verify(check *pendingCheck) {
	pkg := check.attempt.PackageID
	if e.terminator.IsRunning(pkg) {
		e.metrics.EnforcementIncomplete.Inc()
		e.logger.Warn("blocked app survived enforcement",
			zap.String("outcome", OutcomeIncomplete),
			zap.String("package", pkg),
			zap.String("attempt", check.attempt.ID),
			zap.Int("attempts", check.attempt.Attempts),
			zap.Time("first_detected", check.attempt.FirstDetectedAt))
	}
	e.release(check)
}

func (e *Enforcer) release(check *pendingCheck) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending[check.attempt.PackageID] == check {
		delete(e.pending, check.attempt.PackageID)
	}
}

// Pending returns how many packages have a re-check outstanding.
func (e *Enforcer) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Warning exposes the warning indicator.
func (e *Enforcer) Warning() *WarningIndicator {
	return e.warning
}

// Stop cancels every pending re-check and hides the warning.
// Evaluate does nothing afterwards.
func (e *Enforcer) Stop() {
	e.mu.Lock()
	e.stopped = true
	for pkg, check := range e.pending {
		if check.timer != nil {
			check.timer.Stop()
		}
		delete(e.pending, pkg)
	}
	e.mu.Unlock()

	e.warning.Hide()
}

package usecase

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
	"github.com/eliteGoblin/focusd/app_guard/internal/metrics"
	"github.com/eliteGoblin/focusd/app_guard/internal/policy"
	"github.com/eliteGoblin/focusd/app_guard/test/fixtures"
)

// failingPolicyStore returns an error from every read.
type failingPolicyStore struct{}

func (failingPolicyStore) Contains(string) (bool, error) { return false, errors.New("store unavailable") }
func (failingPolicyStore) Add(string) error              { return errors.New("store unavailable") }
func (failingPolicyStore) Remove(string) error           { return errors.New("store unavailable") }
func (failingPolicyStore) List() ([]string, error)       { return nil, errors.New("store unavailable") }

type enforcerHarness struct {
	enforcer *Enforcer
	device   *fixtures.FakeDevice
	clock    *fixtures.FakeClock
	metrics  *metrics.Metrics
}

func newEnforcerHarness(config EnforcerConfig, store domain.PolicyStore) *enforcerHarness {
	device := fixtures.NewFakeDevice()
	clock := fixtures.NewFakeClock(t0)
	m := metrics.NewNop()
	return &enforcerHarness{
		enforcer: NewEnforcer(config, store, device, device, device, clock, m, zap.NewNop()),
		device:   device,
		clock:    clock,
		metrics:  m,
	}
}

func TestEnforcer_NotBlocked(t *testing.T) {
	h := newEnforcerHarness(DefaultEnforcerConfig(), policy.NewState())

	assert.Nil(t, h.enforcer.Evaluate("com.example.game", t0))
	assert.Nil(t, h.enforcer.Evaluate("", t0))
	assert.Equal(t, 0, h.device.Terminations("com.example.game"))
	assert.Equal(t, 0, h.device.Navigations())
}

func TestEnforcer_BlockedAppStops(t *testing.T) {
	h := newEnforcerHarness(DefaultEnforcerConfig(), policy.NewState("com.example.game"))
	h.device.SetRunning("com.example.game", true)

	action := h.enforcer.Evaluate("com.example.game", t0)
	require.NotNil(t, action)
	assert.NotEmpty(t, action.AttemptID)
	assert.NoError(t, action.TerminateErr)
	assert.True(t, action.Navigated)
	assert.True(t, action.WarningShown)
	assert.True(t, action.RetryScheduled)

	assert.Equal(t, 1, h.device.Terminations("com.example.game"))
	assert.Equal(t, 1, h.device.Navigations())
	assert.Equal(t, []string{"This app has been blocked"}, h.device.WarningsShown())

	h.clock.Advance(100 * time.Millisecond)
	assert.Equal(t, 1, h.device.Terminations("com.example.game"), "no retry when the app stopped")
	assert.Equal(t, 0, h.enforcer.Pending())
	assert.Equal(t, float64(0), testutil.ToFloat64(h.metrics.EnforcementRetries))
}

func TestEnforcer_RetriesExactlyOnce(t *testing.T) {
	h := newEnforcerHarness(DefaultEnforcerConfig(), policy.NewState("com.example.game"))
	h.device.SetRunning("com.example.game", true)
	h.device.SetStubborn("com.example.game", 1)

	h.enforcer.Evaluate("com.example.game", t0)
	h.clock.Advance(time.Second)

	assert.Equal(t, 2, h.device.Terminations("com.example.game"))
	assert.False(t, h.device.IsRunning("com.example.game"))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.EnforcementRetries))
	assert.Equal(t, float64(0), testutil.ToFloat64(h.metrics.EnforcementIncomplete))
	assert.Equal(t, 0, h.enforcer.Pending())
}

func TestEnforcer_IncompleteAfterRetry(t *testing.T) {
	h := newEnforcerHarness(DefaultEnforcerConfig(), policy.NewState("com.example.game"))
	h.device.SetRunning("com.example.game", true)
	h.device.SetStubborn("com.example.game", 10)

	h.enforcer.Evaluate("com.example.game", t0)
	h.clock.Advance(5 * time.Second)

	assert.Equal(t, 2, h.device.Terminations("com.example.game"), "at most one retry")
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.EnforcementIncomplete))
	assert.Equal(t, 0, h.enforcer.Pending())
}

func TestEnforcer_OneRetryPendingPerPackage(t *testing.T) {
	h := newEnforcerHarness(DefaultEnforcerConfig(), policy.NewState("com.example.game"))
	h.device.SetRunning("com.example.game", true)
	h.device.SetStubborn("com.example.game", 10)

	first := h.enforcer.Evaluate("com.example.game", t0)
	second := h.enforcer.Evaluate("com.example.game", t0.Add(10*time.Millisecond))

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.True(t, first.RetryScheduled)
	assert.False(t, second.RetryScheduled)
	assert.False(t, second.WarningShown, "warning already showing")
	assert.Equal(t, 1, h.enforcer.Pending())

	h.clock.Advance(time.Second)
	// Two detections plus a single retry.
	assert.Equal(t, 3, h.device.Terminations("com.example.game"))
}

func TestEnforcer_SelfIsNeverActedOn(t *testing.T) {
	config := DefaultEnforcerConfig()
	h := newEnforcerHarness(config, policy.NewState(config.SelfPackageID))
	h.device.SetRunning(config.SelfPackageID, true)

	assert.Nil(t, h.enforcer.Evaluate(config.SelfPackageID, t0))
	assert.Equal(t, 0, h.device.Terminations(config.SelfPackageID))
	assert.Equal(t, 0, h.device.Navigations())
}

func TestEnforcer_PolicyReadErrors(t *testing.T) {
	tests := []struct {
		name       string
		failClosed bool
		wantAction bool
	}{
		{name: "fail open", failClosed: false, wantAction: false},
		{name: "fail closed", failClosed: true, wantAction: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultEnforcerConfig()
			config.FailClosed = tt.failClosed
			h := newEnforcerHarness(config, failingPolicyStore{})

			action := h.enforcer.Evaluate("com.example.game", t0)
			assert.Equal(t, tt.wantAction, action != nil)
			assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.PolicyErrors))
		})
	}
}

func TestEnforcer_CollaboratorFailuresDegrade(t *testing.T) {
	h := newEnforcerHarness(DefaultEnforcerConfig(), policy.NewState("com.example.game"))
	h.device.SetTerminateError(errors.New("permission denied"))
	h.device.SetNavigateError(errors.New("no window"))
	h.device.SetShowError(errors.New("no notification daemon"))

	action := h.enforcer.Evaluate("com.example.game", t0)
	require.NotNil(t, action)
	assert.Error(t, action.TerminateErr)
	assert.False(t, action.Navigated)
	assert.False(t, action.WarningShown)
	assert.True(t, action.RetryScheduled)
}

func TestEnforcer_WarningCooldown(t *testing.T) {
	h := newEnforcerHarness(DefaultEnforcerConfig(), policy.NewState("a", "b"))

	h.enforcer.Evaluate("a", t0)
	h.enforcer.Evaluate("b", t0)
	assert.Len(t, h.device.WarningsShown(), 1)

	h.clock.Advance(3 * time.Second)
	assert.False(t, h.device.WarningVisible())

	h.enforcer.Evaluate("a", h.clock.Now())
	assert.Len(t, h.device.WarningsShown(), 2)
}

func TestEnforcer_StopCancelsPendingWork(t *testing.T) {
	h := newEnforcerHarness(DefaultEnforcerConfig(), policy.NewState("com.example.game"))
	h.device.SetRunning("com.example.game", true)
	h.device.SetStubborn("com.example.game", 10)

	h.enforcer.Evaluate("com.example.game", t0)
	require.Equal(t, 1, h.enforcer.Pending())

	h.enforcer.Stop()
	assert.Equal(t, 0, h.enforcer.Pending())
	assert.Equal(t, 0, h.clock.Pending())
	assert.False(t, h.device.WarningVisible())

	h.clock.Advance(time.Second)
	assert.Equal(t, 1, h.device.Terminations("com.example.game"))
	assert.Nil(t, h.enforcer.Evaluate("com.example.game", h.clock.Now()))
}

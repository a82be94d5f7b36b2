package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_guard/internal/config"
	"github.com/eliteGoblin/focusd/app_guard/internal/metrics"
	"github.com/eliteGoblin/focusd/app_guard/internal/policy"
)

func TestSyncBlocked(t *testing.T) {
	store := policy.NewState("steam", "cli-added")

	prev := &config.Config{Blocked: []string{"steam", "dota2"}}
	next := &config.Config{Blocked: []string{"dota2", "firefox"}}
	syncBlocked(store, prev, next, zap.NewNop())

	got, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"cli-added", "firefox"}, got)
}

func TestSyncBlocked_NoChange(t *testing.T) {
	store := policy.NewState("steam")
	cfg := &config.Config{Blocked: []string{"steam"}}
	syncBlocked(store, cfg, cfg, zap.NewNop())
	assert.Equal(t, 1, store.Len())
}

func TestMetricsRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.EnforcementActions.Inc()

	srv := httptest.NewServer(metricsRouter(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "appguard_enforcement_actions_total 1")

	health, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestCommandsRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "start", "stop", "status", "block", "unblock", "list", "install", "uninstall", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

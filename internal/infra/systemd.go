package infra

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

// UnitName is the systemd unit installed for the monitor.
const UnitName = AppName + ".service"

// User unit: starts with the graphical session so X11 and the session bus exist.
const userUnitTemplate = `[Unit]
Description=appguard foreground monitor
PartOf=graphical-session.target
After=graphical-session.target

[Service]
Type=simple
ExecStart={{.ExecutablePath}} run --config {{.ConfigPath}}
Restart=on-failure
RestartSec=10

[Install]
WantedBy=graphical-session.target
`

const systemUnitTemplate = `[Unit]
Description=appguard foreground monitor
After=display-manager.service

[Service]
Type=simple
ExecStart={{.ExecutablePath}} run --config {{.ConfigPath}}
Restart=always
RestartSec=10
StandardOutput=append:{{.LogPath}}
StandardError=append:{{.LogPath}}

[Install]
WantedBy=multi-user.target
`

type unitConfig struct {
	ExecutablePath string
	ConfigPath     string
	LogPath        string
}

// SystemdManager installs and controls the monitor's systemd unit.
type SystemdManager struct {
	config   *ExecModeConfig
	unitDir  string
	unitPath string
	run      CommandRunner
}

// NewSystemdManager creates a manager for the given execution mode.
// A nil runner uses os/exec.
func NewSystemdManager(config *ExecModeConfig, run CommandRunner) *SystemdManager {
	if run == nil {
		run = ExecRunner
	}
	dir := filepath.Join("/etc", "systemd", "system")
	if config.Mode == ExecModeUser {
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			configHome = filepath.Join(GetRealUserHome(), ".config")
		}
		dir = filepath.Join(configHome, "systemd", "user")
	}
	return &SystemdManager{
		config:   config,
		unitDir:  dir,
		unitPath: filepath.Join(dir, UnitName),
		run:      run,
	}
}

// UnitPath returns the unit file path.
func (m *SystemdManager) UnitPath() string {
	return m.unitPath
}

func (m *SystemdManager) generateUnitContent(execPath string) ([]byte, error) {
	tmplStr := systemUnitTemplate
	if m.config.Mode == ExecModeUser {
		tmplStr = userUnitTemplate
	}

	tmpl, err := template.New("unit").Parse(tmplStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse unit template: %w", err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, unitConfig{
		ExecutablePath: execPath,
		ConfigPath:     m.config.ConfigPath,
		LogPath:        m.config.LogPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to execute unit template: %w", err)
	}
	return buf.Bytes(), nil
}

// Install writes the unit, reloads systemd and enables the service.
func (m *SystemdManager) Install(ctx context.Context, execPath string) error {
	if err := os.MkdirAll(m.unitDir, 0755); err != nil {
		return err
	}

	content, err := m.generateUnitContent(execPath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.unitPath, content, 0644); err != nil {
		return err
	}

	if err := m.systemctl(ctx, "daemon-reload"); err != nil {
		return err
	}
	return m.systemctl(ctx, "enable", "--now", UnitName)
}

// Uninstall disables the service and removes the unit.
func (m *SystemdManager) Uninstall(ctx context.Context) error {
	// Not loaded is fine.
	_ = m.systemctl(ctx, "disable", "--now", UnitName)

	if err := os.Remove(m.unitPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return m.systemctl(ctx, "daemon-reload")
}

// IsInstalled checks if the unit file exists.
func (m *SystemdManager) IsInstalled() bool {
	_, err := os.Stat(m.unitPath)
	return err == nil
}

// NeedsUpdate reports whether an installed unit differs from what Install would write.
func (m *SystemdManager) NeedsUpdate(execPath string) bool {
	if !m.IsInstalled() {
		return false
	}
	current, err := os.ReadFile(m.unitPath)
	if err != nil {
		return true
	}
	expected, err := m.generateUnitContent(execPath)
	if err != nil {
		return true
	}
	return !bytes.Equal(current, expected)
}

func (m *SystemdManager) systemctl(ctx context.Context, args ...string) error {
	if m.config.Mode == ExecModeUser {
		args = append([]string{"--user"}, args...)
	}
	if _, err := m.run(ctx, "systemctl", args...); err != nil {
		return fmt.Errorf("systemctl %v: %w", args, err)
	}
	return nil
}

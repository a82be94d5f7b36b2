// Package infra implements the platform collaborators (processes, X11,
// desktop notifications, encrypted storage).
package infra

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
)

// ProcessTerminator implements domain.Terminator using gopsutil.
// On Linux a package id is the process name (e.g. "firefox").
type ProcessTerminator struct {
	list    func() ([]*process.Process, error)
	selfPID int32
}

// NewProcessTerminator creates a terminator over the live process table.
func NewProcessTerminator() *ProcessTerminator {
	return &ProcessTerminator{
		list:    process.Processes,
		selfPID: int32(os.Getpid()),
	}
}

// Terminate kills every process of the package with SIGKILL.
// A package with no live process is not an error.
func (t *ProcessTerminator) Terminate(packageID string) error {
	procs, err := t.find(packageID)
	if err != nil {
		return err
	}

	var errs []error
	for _, p := range procs {
		if err := p.Kill(); err != nil {
			errs = append(errs, fmt.Errorf("kill pid %d: %w", p.Pid, err))
		}
	}
	return errors.Join(errs...)
}

// IsRunning reports whether any process of the package is alive.
func (t *ProcessTerminator) IsRunning(packageID string) bool {
	procs, err := t.find(packageID)
	return err == nil && len(procs) > 0
}

func (t *ProcessTerminator) find(packageID string) ([]*process.Process, error) {
	if strings.TrimSpace(packageID) == "" {
		return nil, domain.ErrEmptyPackageID
	}

	procs, err := t.list()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	var found []*process.Process
	for _, p := range procs {
		if p.Pid == t.selfPID {
			continue
		}
		name, err := p.Name()
		if err != nil {
			continue // Process may have exited
		}
		exe, _ := p.Exe()
		if matchesPackage(name, exe, packageID) {
			found = append(found, p)
		}
	}
	return found, nil
}

// matchesPackage compares case-insensitively against the process name and
// the executable base name. The kernel truncates names to 15 bytes, so a
// truncated name matching the package prefix also counts.
func matchesPackage(name, exe, packageID string) bool {
	if strings.EqualFold(name, packageID) {
		return true
	}
	if exe != "" && strings.EqualFold(filepath.Base(exe), packageID) {
		return true
	}
	const commLen = 15
	if len(name) == commLen && len(packageID) > commLen &&
		strings.EqualFold(name, packageID[:commLen]) {
		return true
	}
	return false
}

// ProcessName returns the name of the process with the given pid,
// preferring the executable base name.
func ProcessName(pid int32) (string, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return "", fmt.Errorf("open pid %d: %w", pid, err)
	}
	if exe, err := p.Exe(); err == nil && exe != "" {
		return filepath.Base(exe), nil
	}
	name, err := p.Name()
	if err != nil {
		return "", fmt.Errorf("name of pid %d: %w", pid, err)
	}
	return name, nil
}

// Ensure ProcessTerminator implements domain.Terminator.
var _ domain.Terminator = (*ProcessTerminator)(nil)

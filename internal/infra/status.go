package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/renameio/v2"
	"github.com/shirou/gopsutil/v3/process"
)

const statusFileName = "appguard.status"

// DaemonStatus is the state a running monitor publishes for the CLI.
type DaemonStatus struct {
	PID           int    `json:"pid"`
	Mode          string `json:"mode"`
	Version       string `json:"version,omitempty"`
	StartedAt     int64  `json:"started_at"`
	LastHeartbeat int64  `json:"last_heartbeat"`
	Foreground    string `json:"foreground,omitempty"`
	BlockedCount  int    `json:"blocked_count"`
}

// StatusFile persists DaemonStatus as JSON next to the policy database.
type StatusFile struct {
	path  string
	alive func(pid int32) (bool, error)
}

// NewStatusFile creates a status file inside dataDir.
func NewStatusFile(dataDir string) *StatusFile {
	return &StatusFile{
		path:  filepath.Join(dataDir, statusFileName),
		alive: process.PidExists,
	}
}

// Path returns the status file location.
func (s *StatusFile) Path() string {
	return s.path
}

// Write replaces the status. Writers are serialised with a flock so the
// heartbeat and a concurrent `stop` never interleave.
func (s *StatusFile) Write(status DaemonStatus) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}

	lockFile, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN) }()

	return s.atomicWrite(status)
}

// Heartbeat refreshes the liveness timestamp and the foreground package.
func (s *StatusFile) Heartbeat(now time.Time, foreground string, blocked int) error {
	status, err := s.Read()
	if err != nil {
		return err
	}
	if status == nil {
		return fmt.Errorf("status not initialised")
	}
	status.LastHeartbeat = now.Unix()
	status.Foreground = foreground
	status.BlockedCount = blocked
	return s.Write(*status)
}

// Read returns the stored status, or nil if no monitor has written one.
func (s *StatusFile) Read() (*DaemonStatus, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var status DaemonStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("corrupt status file %s: %w", s.path, err)
	}
	return &status, nil
}

// IsAlive reports whether the recorded monitor process still exists.
func (s *StatusFile) IsAlive(status *DaemonStatus) bool {
	if status == nil || status.PID <= 0 {
		return false
	}
	ok, err := s.alive(int32(status.PID))
	return err == nil && ok
}

// Clear removes the status file. A missing file is not an error.
func (s *StatusFile) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *StatusFile) atomicWrite(status DaemonStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return renameio.WriteFile(s.path, data, 0600)
}
